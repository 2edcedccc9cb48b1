package service

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
)

// Metrics holds the pricing service collectors. Register them with
// Collectors(); a zero-config instance works unregistered in tests.
type Metrics struct {
	resolutions   *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	usageFailures prometheus.Counter
	sinkFailures  prometheus.Counter
}

// NewMetrics creates unregistered pricing collectors. Every outcome label
// starts at zero so rates are defined before the first resolution.
func NewMetrics() *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricing_code_resolutions_total",
				Help: "Discount code resolutions by outcome.",
			},
			[]string{"outcome"},
		),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricing_cart_mutations_total",
				Help: "Cart mutations by operation and result.",
			},
			[]string{"operation", "result"},
		),
		usageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricing_usage_record_failures_total",
			Help: "Failed attempts to record discount usage.",
		}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricing_sink_failures_total",
			Help: "Failed cart state syncs to the persistence sink.",
		}),
	}
	for _, outcome := range []string{"applied", "stale", "canceled", "external_failure", "error"} {
		m.resolutions.WithLabelValues(outcome)
	}
	for _, kind := range domain.RejectionKinds() {
		m.resolutions.WithLabelValues(string(kind))
	}
	return m
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.resolutions, m.mutations, m.usageFailures, m.sinkFailures}
}
