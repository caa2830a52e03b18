package lock

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// InventoryKey names the lock guarding one SKU stock counter in a warehouse.
func InventoryKey(skuID, warehouseID uuid.UUID) string {
	return "inventory:" + skuID.String() + ":" + warehouseID.String()
}

// DiscountKey names the lock guarding redemptions of one discount.
func DiscountKey(discountID uuid.UUID) string {
	return "discount:" + discountID.String()
}

// SortedKeys returns keys deduplicated and in a stable order so nested
// acquisitions cannot deadlock.
func SortedKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// WithLocks acquires every key in sorted order, then runs fn.
func WithLocks(ctx context.Context, m Mutex, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error {
	ordered := SortedKeys(keys)
	var run func(ctx context.Context, idx int) error
	run = func(ctx context.Context, idx int) error {
		if idx == len(ordered) {
			return fn(ctx)
		}
		return m.WithLock(ctx, ordered[idx], ttl, func(ctx context.Context) error {
			return run(ctx, idx+1)
		})
	}
	return run(ctx, 0)
}

// CheckoutKey names the lock serializing confirmations of one user's checkout.
func CheckoutKey(userID uuid.UUID) string {
	return "checkout:" + userID.String()
}
