package checkout

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

func validCheckout() *Checkout {
	now := time.Now().UTC()
	return &Checkout{
		ID:                         uuid.New(),
		UserID:                     uuid.New(),
		RawTotalCents:              2000,
		ShippingTotalCents:         500,
		ShopDiscountTotalCents:     200,
		PlatformDiscountTotalCents: 100,
		DiscountTotalCents:         300,
		FinalTotalCents:            2200,
		ShopGroups: []ShopGroup{{
			ShopID: uuid.New(),
			Items: []LineItem{{
				SKUID:          uuid.New(),
				UnitPriceCents: 1000,
				Quantity:       2,
				LineTotalCents: 2000,
			}},
			ShippingFeeCents:           500,
			RawSubtotalCents:           2000,
			DiscountCents:              200,
			DiscountedSubtotalCents:    1800,
			PlatformDiscountShareCents: 100,
			TotalPayableCents:          2200,
		}},
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
	}
}

func TestValidateAcceptsConsistentCheckout(t *testing.T) {
	t.Parallel()

	require.NoError(t, validCheckout().Validate())
}

func TestValidateReportsViolations(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Checkout){
		"final total drift":     func(c *Checkout) { c.FinalTotalCents++ },
		"discount above raw":    func(c *Checkout) { c.ShopGroups[0].DiscountCents = 2100 },
		"line total mismatch":   func(c *Checkout) { c.ShopGroups[0].Items[0].LineTotalCents = 1999 },
		"empty group":           func(c *Checkout) { c.ShopGroups[0].Items = nil },
		"shipping total drift":  func(c *Checkout) { c.ShippingTotalCents = 0 },
		"discount total drift":  func(c *Checkout) { c.DiscountTotalCents = 200 },
		"payable sum mismatch":  func(c *Checkout) { c.ShopGroups[0].TotalPayableCents = 2100 },
		"platform share drift":  func(c *Checkout) { c.PlatformDiscountTotalCents = 0 },
		"raw subtotal mismatch": func(c *Checkout) { c.ShopGroups[0].RawSubtotalCents = 1000 },
	}
	for name, mutate := range cases {
		c := validCheckout()
		mutate(c)
		err := c.Validate()
		require.Error(t, err, name)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal), "%s: got %v", name, err)
	}
}

func TestExpiredAtBoundary(t *testing.T) {
	t.Parallel()

	c := validCheckout()
	require.False(t, c.Expired(c.ExpiresAt.Add(-time.Nanosecond)))
	require.True(t, c.Expired(c.ExpiresAt))
}
