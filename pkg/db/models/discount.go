package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/storefront-checkout/pkg/db/types"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// Discount is a shop-scoped code, or platform-wide when ShopID is nil.
// UsedCount is a cache of the discount_usages ledger.
type Discount struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ShopID           *uuid.UUID         `gorm:"column:shop_id;type:uuid;index"`
	Code             string             `gorm:"column:code;not null;uniqueIndex:ux_discounts_shop_code"`
	ScopeKey         string             `gorm:"column:scope_key;not null;uniqueIndex:ux_discounts_shop_code"`
	Name             string             `gorm:"column:name;not null"`
	Type             enums.DiscountType `gorm:"column:type;type:varchar(16);not null"`
	Value            decimal.Decimal    `gorm:"column:value;type:numeric(12,2);not null"`
	MaxDiscountCents *int64             `gorm:"column:max_discount_cents"`
	MinOrderCents    *int64             `gorm:"column:min_order_cents"`
	UsageLimit       int                `gorm:"column:usage_limit;not null;default:0"`
	UsedCount        int                `gorm:"column:used_count;not null;default:0"`
	PerUserLimit     int                `gorm:"column:per_user_limit;not null;default:0"`
	StartsAt         time.Time          `gorm:"column:starts_at;not null"`
	EndsAt           time.Time          `gorm:"column:ends_at;not null"`
	AppliesToAll     bool               `gorm:"column:applies_to_all;not null"`
	ProductIDs       dbtypes.UUIDArray  `gorm:"column:product_ids"`
	Published        bool               `gorm:"column:published;not null;default:false"`
	Available        bool               `gorm:"column:available;not null"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Discount) TableName() string { return "discounts" }

// PlatformScope is the scope key of platform-wide discounts.
const PlatformScope = "platform"

func (d *Discount) BeforeCreate(*gorm.DB) error {
	assignID(&d.ID)
	d.ScopeKey = DiscountScopeKey(d.ShopID)
	return nil
}

// DiscountScopeKey keeps codes unique per shop and across the platform.
func DiscountScopeKey(shopID *uuid.UUID) string {
	if shopID == nil {
		return PlatformScope
	}
	return shopID.String()
}

// IsPlatform reports whether the discount applies to the whole checkout.
func (d Discount) IsPlatform() bool {
	return d.ShopID == nil
}

// RemainingUses returns the cached remaining count, or -1 when uncapped.
func (d Discount) RemainingUses() int {
	if d.UsageLimit <= 0 {
		return -1
	}
	if d.UsedCount >= d.UsageLimit {
		return 0
	}
	return d.UsageLimit - d.UsedCount
}
