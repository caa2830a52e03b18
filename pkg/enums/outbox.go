package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregateInventory OutboxAggregateType = "inventory"
)

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventCheckoutConfirmed   OutboxEventType = "checkout_confirmed"
	EventReservationReleased OutboxEventType = "reservation_released"
)

// eventAggregates fixes the aggregate each event type is keyed on.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventCheckoutConfirmed:   AggregateOrder,
	EventReservationReleased: AggregateOrder,
}

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateOrder || a == AggregateInventory
}

func (a OutboxAggregateType) String() string { return string(a) }

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

func (e OutboxEventType) String() string { return string(e) }

// Aggregate reports the aggregate type rows of this event must carry.
func (e OutboxEventType) Aggregate() (OutboxAggregateType, bool) {
	a, ok := eventAggregates[e]
	return a, ok
}
