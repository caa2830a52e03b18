package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// strategy returns the discount amount in cents for a non-negative price.
type strategy func(price int64, value decimal.Decimal, max *int64) int64

var strategies = map[enums.DiscountType]strategy{
	enums.DiscountTypeFixed:      fixedAmount,
	enums.DiscountTypePercentage: percentageAmount,
}

// ApplyDiscount returns price after applying the discount described by
// discountType and value. Prices are integer cents. For fixed discounts value
// is expressed in cents; for percentage discounts it is a percent in [0, 100]
// and max optionally caps the discount amount.
func ApplyDiscount(discountType enums.DiscountType, price int64, value decimal.Decimal, max *int64) (int64, error) {
	amount, err := DiscountAmount(discountType, price, value, max)
	if err != nil {
		return 0, err
	}
	return price - amount, nil
}

// DiscountAmount returns the amount ApplyDiscount would subtract from price,
// always within [0, price].
func DiscountAmount(discountType enums.DiscountType, price int64, value decimal.Decimal, max *int64) (int64, error) {
	apply, ok := strategies[discountType]
	if !ok {
		return 0, pkgerrors.Newf(pkgerrors.CodeInternal, "unsupported discount type %q", discountType)
	}
	if price < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "price must not be negative")
	}
	if value.IsNegative() {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "discount value must not be negative")
	}
	if max != nil && *max < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "discount cap must not be negative")
	}
	return clamp(apply(price, value, max), price), nil
}

func fixedAmount(price int64, value decimal.Decimal, _ *int64) int64 {
	off := value.Round(0).IntPart()
	if price > off {
		return off
	}
	return price
}

func percentageAmount(price int64, value decimal.Decimal, max *int64) int64 {
	raw := decimal.NewFromInt(price).Mul(value).Div(hundred).Round(0).IntPart()
	if max != nil && raw > *max {
		raw = *max
	}
	return raw
}

func clamp(amount, price int64) int64 {
	if amount < 0 {
		return 0
	}
	if amount > price {
		return price
	}
	return amount
}
