package models

import "github.com/google/uuid"

// assignID fills an empty primary key before insert so rows behave the same
// on postgres and sqlite.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All returns every model managed by the checkout schema, in dependency order.
func All() []any {
	return []any{
		&Shop{},
		&SKU{},
		&InventoryRecord{},
		&InventoryReservation{},
		&Discount{},
		&DiscountUsage{},
		&OutboxEvent{},
	}
}
