package payloads

import (
	"time"

	"github.com/google/uuid"
)

// ShopTotal is the per-shop amount due recorded on a confirmed checkout.
type ShopTotal struct {
	ShopID            uuid.UUID `json:"shop_id"`
	TotalPayableCents int64     `json:"total_payable_cents"`
	ShippingFeeCents  int64     `json:"shipping_fee_cents"`
	DiscountCents     int64     `json:"discount_cents"`
}

// ReservedLine identifies one stock decrement held for an order.
type ReservedLine struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	SKUID         uuid.UUID `json:"sku_id"`
	WarehouseID   uuid.UUID `json:"warehouse_id"`
	Quantity      int       `json:"quantity"`
}

// CheckoutConfirmedEvent tells the order service a checkout became an order.
type CheckoutConfirmedEvent struct {
	OrderRef        uuid.UUID      `json:"order_ref"`
	CheckoutID      uuid.UUID      `json:"checkout_id"`
	UserID          uuid.UUID      `json:"user_id"`
	FinalTotalCents int64          `json:"final_total_cents"`
	Shops           []ShopTotal    `json:"shops"`
	Reservations    []ReservedLine `json:"reservations"`
	DiscountCodes   []string       `json:"discount_codes,omitempty"`
	ConfirmedAt     time.Time      `json:"confirmed_at"`
}

// ReservationReleasedEvent is emitted when an order's stock is handed back.
type ReservationReleasedEvent struct {
	OrderRef   uuid.UUID `json:"order_ref"`
	UserID     uuid.UUID `json:"user_id"`
	Released   int       `json:"released"`
	Reason     string    `json:"reason,omitempty"`
	ReleasedAt time.Time `json:"released_at"`
}
