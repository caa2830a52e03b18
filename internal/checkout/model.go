package checkout

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/internal/discounts"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

// AppliedDiscount records the discount definition used for pricing, kept for receipts and audit.
type AppliedDiscount struct {
	DiscountID       uuid.UUID          `json:"discount_id"`
	Code             string             `json:"code"`
	Name             string             `json:"name"`
	Type             enums.DiscountType `json:"type"`
	Value            decimal.Decimal    `json:"value"`
	MaxDiscountCents *int64             `json:"max_discount_cents,omitempty"`
}

// LineItem is one priced SKU in a shop group.
type LineItem struct {
	SKUID          uuid.UUID `json:"sku_id"`
	ProductID      uuid.UUID `json:"product_id"`
	WarehouseID    uuid.UUID `json:"warehouse_id"`
	Name           string    `json:"name"`
	Thumbnail      *string   `json:"thumbnail,omitempty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	LineTotalCents int64     `json:"line_total_cents"`
}

// ShopGroup is the slice of a checkout sold by one shop.
type ShopGroup struct {
	ShopID                     uuid.UUID        `json:"shop_id"`
	ShopName                   string           `json:"shop_name"`
	Discount                   *AppliedDiscount `json:"discount,omitempty"`
	Items                      []LineItem       `json:"items"`
	DistanceKm                 float64          `json:"distance_km"`
	ShippingFeeCents           int64            `json:"shipping_fee_cents"`
	RawSubtotalCents           int64            `json:"raw_subtotal_cents"`
	DiscountCents              int64            `json:"discount_cents"`
	DiscountedSubtotalCents    int64            `json:"discounted_subtotal_cents"`
	PlatformDiscountShareCents int64            `json:"platform_discount_share_cents"`
	TotalPayableCents          int64            `json:"total_payable_cents"`
}

// Warning reports something dropped or rejected while computing a checkout.
type Warning struct {
	Type    enums.CheckoutWarningType `json:"type"`
	ShopID  *uuid.UUID                `json:"shop_id,omitempty"`
	SKUID   *uuid.UUID                `json:"sku_id,omitempty"`
	Code    string                    `json:"code,omitempty"`
	Reason  string                    `json:"reason,omitempty"`
	Message string                    `json:"message"`
}

// Checkout is a user's live priced purchase intent.
type Checkout struct {
	ID                         uuid.UUID                `json:"id"`
	UserID                     uuid.UUID                `json:"user_id"`
	RawTotalCents              int64                    `json:"raw_total_cents"`
	ShippingTotalCents         int64                    `json:"shipping_total_cents"`
	ShopDiscountTotalCents     int64                    `json:"shop_discount_total_cents"`
	PlatformDiscountTotalCents int64                    `json:"platform_discount_total_cents"`
	DiscountTotalCents         int64                    `json:"discount_total_cents"`
	FinalTotalCents            int64                    `json:"final_total_cents"`
	PlatformDiscount           *AppliedDiscount         `json:"platform_discount,omitempty"`
	ShopGroups                 []ShopGroup              `json:"shop_groups"`
	PendingUsages              []discounts.PendingUsage `json:"pending_usages,omitempty"`
	Warnings                   []Warning                `json:"warnings,omitempty"`
	CreatedAt                  time.Time                `json:"created_at"`
	ExpiresAt                  time.Time                `json:"expires_at"`
}

// Expired reports whether the checkout is past its hard TTL at now.
func (c *Checkout) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Validate checks the pricing invariants of every group and of the totals.
// A failure is a pricing bug, reported as internal.
func (c *Checkout) Validate() error {
	var raw, shipping, shopDiscount, platformShare, payable int64
	for _, group := range c.ShopGroups {
		if err := group.validate(); err != nil {
			return err
		}
		raw += group.RawSubtotalCents
		shipping += group.ShippingFeeCents
		shopDiscount += group.DiscountCents
		platformShare += group.PlatformDiscountShareCents
		payable += group.TotalPayableCents
	}

	switch {
	case c.RawTotalCents != raw:
		return invariantErr("raw total %d does not match groups %d", c.RawTotalCents, raw)
	case c.ShippingTotalCents != shipping:
		return invariantErr("shipping total %d does not match groups %d", c.ShippingTotalCents, shipping)
	case c.ShopDiscountTotalCents != shopDiscount:
		return invariantErr("shop discount total %d does not match groups %d", c.ShopDiscountTotalCents, shopDiscount)
	case c.PlatformDiscountTotalCents != platformShare:
		return invariantErr("platform discount %d does not match allocated %d", c.PlatformDiscountTotalCents, platformShare)
	case c.DiscountTotalCents != shopDiscount+platformShare:
		return invariantErr("discount total %d is not shop plus platform", c.DiscountTotalCents)
	}

	expected := raw + shipping - shopDiscount - platformShare
	if c.FinalTotalCents != expected {
		return invariantErr("final total %d, expected %d", c.FinalTotalCents, expected)
	}
	if c.FinalTotalCents != payable {
		return invariantErr("final total %d does not match group payables %d", c.FinalTotalCents, payable)
	}
	return nil
}

func (g ShopGroup) validate() error {
	if len(g.Items) == 0 {
		return invariantErr("shop %s has no items", g.ShopID)
	}
	var raw int64
	for _, item := range g.Items {
		if item.Quantity <= 0 {
			return invariantErr("sku %s has quantity %d", item.SKUID, item.Quantity)
		}
		if item.LineTotalCents != item.UnitPriceCents*int64(item.Quantity) {
			return invariantErr("sku %s line total %d is not unit times quantity", item.SKUID, item.LineTotalCents)
		}
		raw += item.LineTotalCents
	}
	switch {
	case g.RawSubtotalCents != raw:
		return invariantErr("shop %s raw subtotal %d does not match items %d", g.ShopID, g.RawSubtotalCents, raw)
	case g.DiscountCents < 0 || g.DiscountCents > g.RawSubtotalCents:
		return invariantErr("shop %s discount %d outside [0, %d]", g.ShopID, g.DiscountCents, g.RawSubtotalCents)
	case g.DiscountedSubtotalCents != g.RawSubtotalCents-g.DiscountCents:
		return invariantErr("shop %s discounted subtotal %d is not raw minus discount", g.ShopID, g.DiscountedSubtotalCents)
	case g.ShippingFeeCents < 0:
		return invariantErr("shop %s has negative shipping %d", g.ShopID, g.ShippingFeeCents)
	case g.PlatformDiscountShareCents < 0:
		return invariantErr("shop %s has negative platform share %d", g.ShopID, g.PlatformDiscountShareCents)
	case g.TotalPayableCents != g.DiscountedSubtotalCents+g.ShippingFeeCents-g.PlatformDiscountShareCents:
		return invariantErr("shop %s payable %d does not add up", g.ShopID, g.TotalPayableCents)
	case g.TotalPayableCents < 0:
		return invariantErr("shop %s payable %d is negative", g.ShopID, g.TotalPayableCents)
	}
	return nil
}

func invariantErr(format string, args ...any) error {
	return pkgerrors.Newf(pkgerrors.CodeInternal, "checkout invariant violated: "+format, args...)
}
