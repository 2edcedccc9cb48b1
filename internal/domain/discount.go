package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies the arithmetic of a discount.
type Kind string

// Discount kinds.
const (
	KindPercentage  Kind = "percentage"
	KindFixedAmount Kind = "fixed_amount"
)

// IsValid reports whether k is a known discount kind.
func (k Kind) IsValid() bool {
	return k == KindPercentage || k == KindFixedAmount
}

// Discount is either Percentage(value) or FixedAmount(value). The variant is
// fixed when the rule is decoded and never re-inferred afterwards. The zero
// Discount has no kind and saves nothing.
type Discount struct {
	kind  Kind
	value decimal.Decimal
}

// Percentage returns a percentage discount; v is in percent (10 means 10%).
func Percentage(v decimal.Decimal) Discount {
	return Discount{kind: KindPercentage, value: v}
}

// FixedAmount returns an absolute per-unit (or per-bundle) discount.
func FixedAmount(v decimal.Decimal) Discount {
	return Discount{kind: KindFixedAmount, value: v}
}

// NewDiscount builds a Discount from its wire representation, rejecting
// unknown kinds, negative values and percentages above 100.
func NewDiscount(kind string, v decimal.Decimal) (Discount, error) {
	if v.IsNegative() {
		return Discount{}, fmt.Errorf("discount value %s must not be negative", v)
	}
	switch Kind(kind) {
	case KindPercentage:
		if v.GreaterThan(hundred) {
			return Discount{}, fmt.Errorf("percentage %s exceeds 100", v)
		}
		return Percentage(v), nil
	case KindFixedAmount:
		return FixedAmount(v), nil
	default:
		return Discount{}, fmt.Errorf("unknown discount kind %q", kind)
	}
}

// Kind returns the variant tag.
func (d Discount) Kind() Kind { return d.kind }

// Value returns the percent or the absolute amount.
func (d Discount) Value() decimal.Decimal { return d.value }

// IsZero reports whether d is the zero Discount.
func (d Discount) IsZero() bool { return d.kind == "" }

// SavingsPerUnit returns the per-unit saving on unitPrice, rounded to cents
// and clamped to [0, unitPrice].
func (d Discount) SavingsPerUnit(unitPrice decimal.Decimal) decimal.Decimal {
	if unitPrice.Sign() <= 0 {
		return decimal.Zero
	}
	var s decimal.Decimal
	switch d.kind {
	case KindPercentage:
		s = RoundMoney(unitPrice.Mul(d.value).Div(hundred))
	case KindFixedAmount:
		s = d.value
	default:
		return decimal.Zero
	}
	return ClampMoney(s, unitPrice)
}

// Amount applies d to an aggregate base (e.g. the eligible subtotal).
func (d Discount) Amount(base decimal.Decimal) decimal.Decimal {
	return d.SavingsPerUnit(base)
}

func (d Discount) String() string {
	switch d.kind {
	case KindPercentage:
		return d.value.String() + "%"
	case KindFixedAmount:
		return d.value.StringFixed(MoneyPlaces)
	default:
		return "none"
	}
}

type discountJSON struct {
	Kind  Kind            `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

func (d Discount) MarshalJSON() ([]byte, error) {
	return json.Marshal(discountJSON{Kind: d.kind, Value: d.value})
}

func (d *Discount) UnmarshalJSON(b []byte) error {
	var raw discountJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Kind == "" {
		*d = Discount{}
		return nil
	}
	parsed, err := NewDiscount(string(raw.Kind), raw.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
