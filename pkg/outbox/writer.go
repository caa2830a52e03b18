package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const uniqueEventIndex = "ux_outbox_events_event_aggregate"

var errTxRequired = errors.New("transaction required")

// DomainEvent is what callers hand the writer. Data is marshalled into the envelope.
type DomainEvent struct {
	EventType   enums.OutboxEventType
	AggregateID uuid.UUID
	Actor       *ActorRef
	Data        any
	OccurredAt  time.Time
}

// Writer appends events to outbox_events inside the caller's transaction, so an
// event exists if and only if the state change that produced it committed.
type Writer struct {
	repo     *Repository
	logg     *logger.Logger
	producer string
	now      func() time.Time
}

// NewWriter tags every envelope with producer, the emitting service name.
func NewWriter(repo *Repository, logg *logger.Logger, producer string) *Writer {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Writer{repo: repo, logg: logg, producer: producer, now: time.Now}
}

func (w *Writer) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	row, env, err := w.build(event)
	if err != nil {
		return err
	}
	if err := w.repo.Insert(tx.WithContext(ctx), row); err != nil {
		return fmt.Errorf("insert outbox %s: %w", event.EventType, err)
	}
	w.logg.Debug(w.logg.WithFields(ctx, map[string]any{
		"event_id":     env.EventID.String(),
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID.String(),
	}), "outbox event queued")
	return nil
}

// EmitIfNotExists queues event at most once per (event type, aggregate). A
// concurrent insert that loses the unique index race is treated as success.
func (w *Writer) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	aggregate, ok := event.EventType.Aggregate()
	if !ok {
		return fmt.Errorf("unknown outbox event type %q", event.EventType)
	}
	exists, err := w.repo.ExistsTx(tx.WithContext(ctx), event.EventType, aggregate, event.AggregateID)
	if err != nil {
		return fmt.Errorf("check outbox %s: %w", event.EventType, err)
	}
	if exists {
		return nil
	}
	err = w.Emit(ctx, tx, event)
	if dbpkg.IsUniqueViolation(err, uniqueEventIndex) {
		return nil
	}
	return err
}

// Queued reports whether eventType was already queued for aggregateID.
func (w *Writer) Queued(ctx context.Context, eventType enums.OutboxEventType, aggregateID uuid.UUID) (bool, error) {
	return w.repo.Exists(ctx, eventType, aggregateID)
}

func (w *Writer) build(event DomainEvent) (models.OutboxEvent, Envelope, error) {
	aggregate, ok := event.EventType.Aggregate()
	if !ok {
		return models.OutboxEvent{}, Envelope{}, fmt.Errorf("unknown outbox event type %q", event.EventType)
	}
	if event.AggregateID == uuid.Nil {
		return models.OutboxEvent{}, Envelope{}, fmt.Errorf("%s: aggregate id required", event.EventType)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, Envelope{}, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = w.now()
	}
	env := Envelope{
		SchemaVersion: EnvelopeVersion,
		EventID:       uuid.New(),
		EventType:     event.EventType,
		OccurredAt:    occurred.UTC(),
		Producer:      w.producer,
		Actor:         event.Actor,
		Data:          data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return models.OutboxEvent{}, Envelope{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: aggregate,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}, env, nil
}
