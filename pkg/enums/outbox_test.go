package enums

import "testing"

func TestOutboxEventAggregates(t *testing.T) {
	for _, event := range []OutboxEventType{EventCheckoutConfirmed, EventReservationReleased} {
		agg, ok := event.Aggregate()
		if !ok || agg != AggregateOrder {
			t.Fatalf("%s: expected order aggregate, got %q", event, agg)
		}
	}
	if OutboxEventType("order_shipped").IsValid() {
		t.Fatalf("unknown event types must be invalid")
	}
	if !AggregateInventory.IsValid() || OutboxAggregateType("cart").IsValid() {
		t.Fatalf("aggregate validity mismatch")
	}
}
