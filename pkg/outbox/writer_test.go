package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func newTestWriter(db *gorm.DB) *Writer {
	return NewWriter(NewRepository(db), logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard}), "api")
}

func TestEmitWritesEnvelope(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestWriter(db)
	orderRef := uuid.New()
	actor := &ActorRef{UserID: uuid.New()}

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:   enums.EventCheckoutConfirmed,
			AggregateID: orderRef,
			Actor:       actor,
			Data:        map[string]any{"final_total_cents": 1200},
		})
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, db.First(&row, "aggregate_id = ?", orderRef).Error)
	require.Equal(t, enums.EventCheckoutConfirmed, row.EventType)
	require.Equal(t, enums.AggregateOrder, row.AggregateType)
	require.Nil(t, row.PublishedAt)

	envelope, err := DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	require.Equal(t, EnvelopeVersion, envelope.SchemaVersion)
	require.Equal(t, enums.EventCheckoutConfirmed, envelope.EventType)
	require.Equal(t, "api", envelope.Producer)
	require.Equal(t, actor.UserID, envelope.Actor.UserID)
	require.JSONEq(t, `{"final_total_cents":1200}`, string(envelope.Data))
}

func TestEmitRequiresTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestWriter(db)
	require.ErrorIs(t, svc.Emit(context.Background(), nil, DomainEvent{}), errTxRequired)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: "order_shipped", AggregateID: uuid.New(), Data: 1})
	})
	require.ErrorContains(t, err, "unknown outbox event type")

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: enums.EventCheckoutConfirmed, Data: 1})
	})
	require.ErrorContains(t, err, "aggregate id required")
}

func TestDecodeEnvelopeRejectsUnusableDocuments(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	cases := map[string]string{
		"broken json":    `{"schema_version":`,
		"future version": `{"schema_version":2,"event_id":"` + id + `","data":{}}`,
		"no event id":    `{"schema_version":1,"data":{}}`,
		"null data":      `{"schema_version":1,"event_id":"` + id + `","data":null}`,
	}
	for name, raw := range cases {
		_, err := DecodeEnvelope([]byte(raw))
		require.Errorf(t, err, name)
	}
}

func TestEmitIfNotExistsDeduplicates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestWriter(db)
	event := DomainEvent{
		EventType:   enums.EventReservationReleased,
		AggregateID: uuid.New(),
		Data:        map[string]any{"released": 2},
	}

	queued, err := svc.Queued(context.Background(), event.EventType, event.AggregateID)
	require.NoError(t, err)
	require.False(t, queued)

	for i := 0; i < 2; i++ {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}))
	}

	queued, err = svc.Queued(context.Background(), event.EventType, event.AggregateID)
	require.NoError(t, err)
	require.True(t, queued)
	queued, err = svc.Queued(context.Background(), enums.EventCheckoutConfirmed, event.AggregateID)
	require.NoError(t, err)
	require.False(t, queued)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", event.AggregateID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRepositoryLifecycle(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	delivered := models.OutboxEvent{EventType: enums.EventCheckoutConfirmed, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old}
	failing := models.OutboxEvent{EventType: enums.EventCheckoutConfirmed, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old.Add(time.Minute)}
	fresh := models.OutboxEvent{EventType: enums.EventReservationReleased, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	for _, row := range []*models.OutboxEvent{&delivered, &failing, &fresh} {
		require.NoError(t, db.Create(row).Error)
	}

	pending, err := repo.FetchUnpublished(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, delivered.ID, pending[0].ID)

	require.NoError(t, repo.MarkPublished(ctx, delivered.ID, time.Now().UTC()))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.MarkFailed(ctx, failing.ID, fmt.Errorf("stream down")))
	}

	pending, err = repo.FetchUnpublished(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, fresh.ID, pending[0].ID)

	cutoff := time.Now().UTC().Add(-time.Hour)
	deleted, err := repo.Purge(ctx, nil, PurgeFilter{Before: cutoff})
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	deleted, err = repo.Purge(ctx, nil, PurgeFilter{Before: cutoff, Parked: true, MinAttempts: 4})
	require.NoError(t, err)
	require.Zero(t, deleted, "row below the parking threshold must survive")

	deleted, err = repo.Purge(ctx, nil, PurgeFilter{Before: cutoff, Parked: true, MinAttempts: 3, Limit: 10})
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	var remaining int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	require.EqualValues(t, 1, remaining)
}
