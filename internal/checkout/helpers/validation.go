package helpers

import (
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

// MaxLineQuantity caps the units of one SKU in a checkout, after merging.
const MaxLineQuantity = 9999

// SelectionLine is one requested (SKU, quantity) pair.
type SelectionLine struct {
	SKUID    uuid.UUID
	Quantity int
}

// ValidateSelection rejects empty selections and bad quantities. Negative
// quantities never come from a well-behaved client and are reported as internal.
func ValidateSelection(lines []SelectionLine) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart selection is empty")
	}
	for _, line := range lines {
		if line.SKUID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "sku id required")
		}
		if line.Quantity < 0 {
			return pkgerrors.Newf(pkgerrors.CodeInternal, "negative quantity %d for sku %s", line.Quantity, line.SKUID)
		}
		if line.Quantity == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero").WithDetails(map[string]any{
				"sku_id": line.SKUID,
			})
		}
		if line.Quantity > MaxLineQuantity {
			return quantityCapErr(line.SKUID, line.Quantity)
		}
	}
	return nil
}

func quantityCapErr(skuID uuid.UUID, quantity int) error {
	return pkgerrors.Newf(pkgerrors.CodeValidation, "quantity exceeds %d units per sku", MaxLineQuantity).WithDetails(map[string]any{
		"sku_id":    skuID,
		"requested": quantity,
		"max":       MaxLineQuantity,
	})
}

// MergeSelection folds repeated SKUs into one line, keeping first-seen order.
// Lines must already have passed ValidateSelection; a merged line above
// MaxLineQuantity is a validation error.
func MergeSelection(lines []SelectionLine) ([]SelectionLine, error) {
	index := make(map[uuid.UUID]int, len(lines))
	merged := make([]SelectionLine, 0, len(lines))
	for _, line := range lines {
		if pos, ok := index[line.SKUID]; ok {
			if line.Quantity > MaxLineQuantity-merged[pos].Quantity {
				return nil, quantityCapErr(line.SKUID, merged[pos].Quantity+line.Quantity)
			}
			merged[pos].Quantity += line.Quantity
			continue
		}
		index[line.SKUID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}
