package domain

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

// RejectionKind names a business rejection. Callers switch on it to pick a
// localized message.
type RejectionKind string

// Rejection kinds.
const (
	RejectProductUnavailable         RejectionKind = "PRODUCT_UNAVAILABLE"
	RejectItemNotFound               RejectionKind = "ITEM_NOT_FOUND"
	RejectCodeNotFound               RejectionKind = "CODE_NOT_FOUND"
	RejectExpired                    RejectionKind = "EXPIRED"
	RejectNotYetActive               RejectionKind = "NOT_YET_ACTIVE"
	RejectUsageExhausted             RejectionKind = "USAGE_EXHAUSTED"
	RejectOrderAmountOutOfRange      RejectionKind = "ORDER_AMOUNT_OUT_OF_RANGE"
	RejectConflictingDiscountPresent RejectionKind = "CONFLICTING_DISCOUNT_PRESENT"
	RejectNotApplicableToCart        RejectionKind = "NOT_APPLICABLE_TO_CART"
	RejectExcludedByCart             RejectionKind = "EXCLUDED_BY_CART"
	RejectBundleIncomplete           RejectionKind = "BUNDLE_INCOMPLETE"
)

// Sentinels matched with errors.Is.
var (
	ErrProductUnavailable         = errors.New("product unavailable")
	ErrItemNotFound               = errors.New("line item not found")
	ErrCodeNotFound               = errors.New("discount code not found")
	ErrExpired                    = errors.New("discount code expired")
	ErrNotYetActive               = errors.New("discount code not yet active")
	ErrUsageExhausted             = errors.New("discount code usage exhausted")
	ErrOrderAmountOutOfRange      = errors.New("order amount out of range")
	ErrConflictingDiscountPresent = errors.New("conflicting discount present")
	ErrNotApplicableToCart        = errors.New("discount not applicable to cart")
	ErrExcludedByCart             = errors.New("cart contains excluded items")
	ErrBundleIncomplete           = errors.New("bundle incomplete")

	// ErrStaleResult is returned when the cart changed while a lookup was in
	// flight and the late result was discarded.
	ErrStaleResult = errors.New("cart changed during lookup")
)

var sentinels = map[RejectionKind]error{
	RejectProductUnavailable:         ErrProductUnavailable,
	RejectItemNotFound:               ErrItemNotFound,
	RejectCodeNotFound:               ErrCodeNotFound,
	RejectExpired:                    ErrExpired,
	RejectNotYetActive:               ErrNotYetActive,
	RejectUsageExhausted:             ErrUsageExhausted,
	RejectOrderAmountOutOfRange:      ErrOrderAmountOutOfRange,
	RejectConflictingDiscountPresent: ErrConflictingDiscountPresent,
	RejectNotApplicableToCart:        ErrNotApplicableToCart,
	RejectExcludedByCart:             ErrExcludedByCart,
	RejectBundleIncomplete:           ErrBundleIncomplete,
}

// Reject builds a typed rejection of the given kind.
func Reject(kind RejectionKind, format string, args ...any) *apperrors.AppError {
	return apperrors.Rejection(string(kind), sentinels[kind], fmt.Sprintf(format, args...))
}

// RejectionKindOf returns the kind of a rejection anywhere in err's chain.
func RejectionKindOf(err error) (RejectionKind, bool) {
	if !errors.Is(err, apperrors.ErrRejected) {
		return "", false
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return "", false
	}
	kind := RejectionKind(appErr.Code)
	if _, ok := sentinels[kind]; !ok {
		return "", false
	}
	return kind, true
}

// RejectionKinds lists every kind, in taxonomy order.
func RejectionKinds() []RejectionKind {
	return []RejectionKind{
		RejectProductUnavailable,
		RejectItemNotFound,
		RejectCodeNotFound,
		RejectExpired,
		RejectNotYetActive,
		RejectUsageExhausted,
		RejectOrderAmountOutOfRange,
		RejectConflictingDiscountPresent,
		RejectNotApplicableToCart,
		RejectExcludedByCart,
		RejectBundleIncomplete,
	}
}

// StaleResult reports a discarded lookup result.
func StaleResult() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "STALE_RESULT",
		Message: "the cart changed while the discount was being resolved",
		Status:  http.StatusConflict,
		Err:     ErrStaleResult,
	}
}
