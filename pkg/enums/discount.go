package enums

import "fmt"

// DiscountType selects the pricing strategy of a discount code.
type DiscountType string

const (
	DiscountTypeFixed      DiscountType = "fixed"
	DiscountTypePercentage DiscountType = "percentage"
)

var validDiscountTypes = []DiscountType{
	DiscountTypeFixed,
	DiscountTypePercentage,
}

// String implements fmt.Stringer.
func (d DiscountType) String() string {
	return string(d)
}

// IsValid reports whether the value is a supported discount type.
func (d DiscountType) IsValid() bool {
	for _, candidate := range validDiscountTypes {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDiscountType converts raw input into DiscountType.
func ParseDiscountType(value string) (DiscountType, error) {
	for _, candidate := range validDiscountTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid discount type %q", value)
}

// DiscountRejection names the precondition a discount failed.
type DiscountRejection string

const (
	DiscountRejectionNotFound       DiscountRejection = "not_found"
	DiscountRejectionUnpublished    DiscountRejection = "unpublished"
	DiscountRejectionUnavailable    DiscountRejection = "unavailable"
	DiscountRejectionNotStarted     DiscountRejection = "not_started"
	DiscountRejectionExpired        DiscountRejection = "expired"
	DiscountRejectionMinOrder       DiscountRejection = "min_order_not_met"
	DiscountRejectionNotApplicable  DiscountRejection = "not_applicable"
	DiscountRejectionExhausted      DiscountRejection = "usage_limit_reached"
	DiscountRejectionUserExhausted  DiscountRejection = "user_usage_limit_reached"
	DiscountRejectionWrongScope     DiscountRejection = "wrong_scope"
	DiscountRejectionUnknownPricing DiscountRejection = "unknown_type"
)

// String implements fmt.Stringer.
func (r DiscountRejection) String() string {
	return string(r)
}
