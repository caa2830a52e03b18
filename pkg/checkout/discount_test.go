package checkout

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

func ptr(v int64) *int64 { return &v }

func TestApplyDiscountExamples(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		typ   enums.DiscountType
		price int64
		value string
		max   *int64
		want  int64
	}{
		{name: "fixed", typ: enums.DiscountTypeFixed, price: 100, value: "30", want: 70},
		{name: "fixed above price", typ: enums.DiscountTypeFixed, price: 100, value: "130", want: 0},
		{name: "fixed equal price", typ: enums.DiscountTypeFixed, price: 100, value: "100", want: 0},
		{name: "percentage capped", typ: enums.DiscountTypePercentage, price: 100, value: "50", max: ptr(20), want: 80},
		{name: "percentage uncapped", typ: enums.DiscountTypePercentage, price: 100, value: "50", want: 50},
		{name: "percentage over hundred", typ: enums.DiscountTypePercentage, price: 100, value: "150", want: 0},
		{name: "percentage rounds half up", typ: enums.DiscountTypePercentage, price: 999, value: "15", want: 849},
		{name: "zero price", typ: enums.DiscountTypePercentage, price: 0, value: "10", want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ApplyDiscount(tt.typ, tt.price, decimal.RequireFromString(tt.value), tt.max)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d got %d", tt.want, got)
			}
		})
	}
}

func TestApplyDiscountFixedProperty(t *testing.T) {
	t.Parallel()

	for price := int64(0); price <= 500; price += 7 {
		for value := int64(0); value <= 600; value += 13 {
			got, err := ApplyDiscount(enums.DiscountTypeFixed, price, decimal.NewFromInt(value), nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := price - value
			if want < 0 {
				want = 0
			}
			if got != want {
				t.Fatalf("price=%d value=%d expected %d got %d", price, value, want, got)
			}
		}
	}
}

func TestApplyDiscountPercentageProperty(t *testing.T) {
	t.Parallel()

	caps := []*int64{nil, ptr(0), ptr(5), ptr(50), ptr(10_000)}
	for price := int64(0); price <= 2_000; price += 37 {
		for value := int64(0); value <= 120; value += 9 {
			for _, max := range caps {
				got, err := ApplyDiscount(enums.DiscountTypePercentage, price, decimal.NewFromInt(value), max)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got < 0 || got > price {
					t.Fatalf("price=%d value=%d result %d outside [0, price]", price, value, got)
				}
				raw := decimal.NewFromInt(price * value).Div(decimal.NewFromInt(100)).Round(0).IntPart()
				want := raw
				if max != nil && *max < want {
					want = *max
				}
				if price < want {
					want = price
				}
				if got != price-want {
					t.Fatalf("price=%d value=%d expected %d got %d", price, value, price-want, got)
				}
			}
		}
	}
}

func TestApplyDiscountRejectsUnknownType(t *testing.T) {
	t.Parallel()

	_, err := ApplyDiscount(enums.DiscountType("bogo"), 100, decimal.NewFromInt(1), nil)
	if err == nil {
		t.Fatalf("expected error for unknown discount type")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestApplyDiscountRejectsNegativeInputs(t *testing.T) {
	t.Parallel()

	if _, err := ApplyDiscount(enums.DiscountTypeFixed, -1, decimal.NewFromInt(1), nil); !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error for negative price, got %v", err)
	}
	if _, err := ApplyDiscount(enums.DiscountTypeFixed, 10, decimal.NewFromInt(-1), nil); !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error for negative value, got %v", err)
	}
	if _, err := ApplyDiscount(enums.DiscountTypePercentage, 10, decimal.NewFromInt(5), ptr(-1)); !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error for negative cap, got %v", err)
	}
}
