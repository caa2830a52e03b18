package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
)

type localMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	calls int
}

func newLocalMutex() *localMutex {
	return &localMutex{locks: make(map[string]*sync.Mutex)}
}

func (m *localMutex) WithLock(ctx context.Context, resource string, _ time.Duration, fn func(context.Context) error) error {
	m.mu.Lock()
	m.calls++
	l, ok := m.locks[resource]
	if !ok {
		l = &sync.Mutex{}
		m.locks[resource] = l
	}
	m.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

type busyMutex struct{}

func (busyMutex) WithLock(context.Context, string, time.Duration, func(context.Context) error) error {
	return pkgerrors.New(pkgerrors.CodeLockTimeout, "resource is locked, retry later")
}

// conflictingStore fails the conditional update a fixed number of times, as
// if another writer bumped the revision between read and write.
type conflictingStore struct {
	*Repository
	failures int
	calls    int
}

func (c *conflictingStore) DecrementIfRevision(ctx context.Context, tx *gorm.DB, id uuid.UUID, revision int64, qty int, now time.Time) (bool, error) {
	c.calls++
	if c.calls <= c.failures {
		return false, nil
	}
	return c.Repository.DecrementIfRevision(ctx, tx, id, revision, qty, now)
}

// brokenIncrementStore fails to restock one SKU.
type brokenIncrementStore struct {
	*Repository
	sku uuid.UUID
}

func (b *brokenIncrementStore) Increment(ctx context.Context, tx *gorm.DB, key StockKey, qty int, now time.Time) (bool, error) {
	if key.SKUID == b.sku {
		return false, errors.New("disk I/O error")
	}
	return b.Repository.Increment(ctx, tx, key, qty, now)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:inventory_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.InventoryRecord{}, &models.InventoryReservation{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "inventory-test", Output: io.Discard})
}

func newTestService(t *testing.T, db *gorm.DB, mutex *localMutex) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		DB:            dbpkg.NewFromConn(db),
		Repo:          NewRepository(db),
		Mutex:         mutex,
		Logger:        testLogger(),
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	})
	require.NoError(t, err)
	return svc
}

func seedRecord(t *testing.T, db *gorm.DB, stock int) models.InventoryRecord {
	t.Helper()
	record := models.InventoryRecord{
		SKUID:          uuid.New(),
		ShopID:         uuid.New(),
		WarehouseID:    uuid.New(),
		AvailableStock: stock,
	}
	require.NoError(t, NewRepository(db).Create(context.Background(), &record))
	return record
}

func loadRecord(t *testing.T, db *gorm.DB, id uuid.UUID) models.InventoryRecord {
	t.Helper()
	var record models.InventoryRecord
	require.NoError(t, db.First(&record, "id = ?", id).Error)
	return record
}

func TestNewServiceValidatesDeps(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	_, err := NewService(ServiceParams{Repo: NewRepository(db), Mutex: newLocalMutex(), Logger: testLogger()})
	require.Error(t, err)
	_, err = NewService(ServiceParams{DB: dbpkg.NewFromConn(db), Mutex: newLocalMutex(), Logger: testLogger()})
	require.Error(t, err)
	_, err = NewService(ServiceParams{DB: dbpkg.NewFromConn(db), Repo: NewRepository(db), Logger: testLogger()})
	require.Error(t, err)
}

func TestReserveDecrementsAndAudits(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	mutex := newLocalMutex()
	svc := newTestService(t, db, mutex)
	record := seedRecord(t, db, 10)
	user, order := uuid.New(), uuid.New()

	res, err := svc.Reserve(context.Background(), ReserveInput{
		SKUID: record.SKUID, WarehouseID: record.WarehouseID, UserID: user, OrderRef: order, Quantity: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Quantity)
	require.Equal(t, 7, res.RemainingStock)
	require.Equal(t, 1, mutex.calls)

	updated := loadRecord(t, db, record.ID)
	require.Equal(t, 7, updated.AvailableStock)
	require.Equal(t, record.Revision+1, updated.Revision)

	var audits []models.InventoryReservation
	require.NoError(t, db.Find(&audits, "inventory_id = ?", record.ID).Error)
	require.Len(t, audits, 1)
	require.Equal(t, user, audits[0].UserID)
	require.Equal(t, order, audits[0].OrderRef)
	require.Equal(t, 3, audits[0].Quantity)
	require.True(t, audits[0].Active())
}

func TestReserveInsufficientStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())
	record := seedRecord(t, db, 2)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		SKUID: record.SKUID, WarehouseID: record.WarehouseID, UserID: uuid.New(), OrderRef: uuid.New(), Quantity: 3,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
	require.Equal(t, 2, loadRecord(t, db, record.ID).AvailableStock)

	var count int64
	require.NoError(t, db.Model(&models.InventoryReservation{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestReserveUnknownSKU(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())

	_, err := svc.Reserve(context.Background(), ReserveInput{
		SKUID: uuid.New(), WarehouseID: uuid.New(), UserID: uuid.New(), OrderRef: uuid.New(), Quantity: 1,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestReserveQuantityValidation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())
	record := seedRecord(t, db, 5)

	_, err := svc.Reserve(context.Background(), ReserveInput{SKUID: record.SKUID, WarehouseID: record.WarehouseID, Quantity: 0})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = svc.Reserve(context.Background(), ReserveInput{SKUID: record.SKUID, WarehouseID: record.WarehouseID, Quantity: -1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	require.Error(t, svc.Release(context.Background(), ReleaseInput{SKUID: record.SKUID, WarehouseID: record.WarehouseID, Quantity: -2}))
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())
	record := seedRecord(t, db, 5)

	const buyers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), ReserveInput{
				SKUID: record.SKUID, WarehouseID: record.WarehouseID, UserID: uuid.New(), OrderRef: uuid.New(), Quantity: 1,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)
	final := loadRecord(t, db, record.ID)
	require.Equal(t, 0, final.AvailableStock)

	var count int64
	require.NoError(t, db.Model(&models.InventoryReservation{}).Where("inventory_id = ?", record.ID).Count(&count).Error)
	require.EqualValues(t, 5, count)
}

func TestReserveRetriesRevisionConflicts(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	record := seedRecord(t, db, 5)
	store := &conflictingStore{Repository: NewRepository(db), failures: 2}
	svc := newService(ServiceParams{
		DB:            dbpkg.NewFromConn(db),
		Mutex:         newLocalMutex(),
		Logger:        testLogger(),
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	}, store)

	res, err := svc.Reserve(context.Background(), ReserveInput{
		SKUID: record.SKUID, WarehouseID: record.WarehouseID, UserID: uuid.New(), OrderRef: uuid.New(), Quantity: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.RemainingStock)
	require.Equal(t, 3, store.calls)
}

func TestReserveConflictExhaustionIsRetryable(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	record := seedRecord(t, db, 5)
	store := &conflictingStore{Repository: NewRepository(db), failures: 10}
	svc := newService(ServiceParams{
		DB:            dbpkg.NewFromConn(db),
		Mutex:         newLocalMutex(),
		Logger:        testLogger(),
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	}, store)

	_, err := svc.Reserve(context.Background(), ReserveInput{
		SKUID: record.SKUID, WarehouseID: record.WarehouseID, UserID: uuid.New(), OrderRef: uuid.New(), Quantity: 1,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConcurrency), "got %v", err)
	require.True(t, pkgerrors.IsRetryable(err))
	require.Equal(t, 3, store.calls)
	require.Equal(t, 5, loadRecord(t, db, record.ID).AvailableStock)
}

func TestReserveFailsClosedOnLockTimeout(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	record := seedRecord(t, db, 5)
	svc, err := NewService(ServiceParams{
		DB:     dbpkg.NewFromConn(db),
		Repo:   NewRepository(db),
		Mutex:  busyMutex{},
		Logger: testLogger(),
	})
	require.NoError(t, err)

	_, err = svc.Reserve(context.Background(), ReserveInput{
		SKUID: record.SKUID, WarehouseID: record.WarehouseID, UserID: uuid.New(), OrderRef: uuid.New(), Quantity: 1,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLockTimeout))
	require.Equal(t, 5, loadRecord(t, db, record.ID).AvailableStock)
}

func TestReserveCanceledDuringRetryBackoffIsClassified(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	record := seedRecord(t, db, 5)
	store := &conflictingStore{Repository: NewRepository(db), failures: 10}
	svc := newService(ServiceParams{
		DB:            dbpkg.NewFromConn(db),
		Mutex:         newLocalMutex(),
		Logger:        testLogger(),
		RetryAttempts: 5,
		RetryBackoff:  time.Hour,
	}, store)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Reserve(ctx, ReserveInput{
		SKUID: record.SKUID, WarehouseID: record.WarehouseID, UserID: uuid.New(), OrderRef: uuid.New(), Quantity: 1,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLockTimeout), "unexpected error %v", err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, metrics.OutcomeLockTimeout, outcomeFor(err))
	require.Equal(t, 5, loadRecord(t, db, record.ID).AvailableStock)
}

func TestReserveAllRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())
	first := seedRecord(t, db, 4)
	second := seedRecord(t, db, 6)
	third := seedRecord(t, db, 1)
	order := uuid.New()

	_, err := svc.ReserveAll(context.Background(), uuid.New(), order, []ReserveItem{
		{SKUID: first.SKUID, WarehouseID: first.WarehouseID, Quantity: 2},
		{SKUID: second.SKUID, WarehouseID: second.WarehouseID, Quantity: 3},
		{SKUID: third.SKUID, WarehouseID: third.WarehouseID, Quantity: 2},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	require.Equal(t, 4, loadRecord(t, db, first.ID).AvailableStock)
	require.Equal(t, 6, loadRecord(t, db, second.ID).AvailableStock)
	require.Equal(t, 1, loadRecord(t, db, third.ID).AvailableStock)

	active, err := NewRepository(db).ActiveReservations(context.Background(), order)
	require.NoError(t, err)
	require.Empty(t, active)

	var audits []models.InventoryReservation
	require.NoError(t, db.Find(&audits, "order_ref = ?", order).Error)
	require.Len(t, audits, 2)
	for _, audit := range audits {
		require.NotNil(t, audit.ReleasedAt)
	}
}

func TestReserveAllSucceeds(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())
	first := seedRecord(t, db, 4)
	second := seedRecord(t, db, 6)

	reservations, err := svc.ReserveAll(context.Background(), uuid.New(), uuid.New(), []ReserveItem{
		{SKUID: first.SKUID, WarehouseID: first.WarehouseID, Quantity: 4},
		{SKUID: second.SKUID, WarehouseID: second.WarehouseID, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, reservations, 2)
	require.Equal(t, 0, loadRecord(t, db, first.ID).AvailableStock)
	require.Equal(t, 5, loadRecord(t, db, second.ID).AvailableStock)
}

func TestReleaseIsIdempotentPerReservation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())
	record := seedRecord(t, db, 5)

	res, err := svc.Reserve(context.Background(), ReserveInput{
		SKUID: record.SKUID, WarehouseID: record.WarehouseID, UserID: uuid.New(), OrderRef: uuid.New(), Quantity: 2,
	})
	require.NoError(t, err)

	input := ReleaseInput{SKUID: record.SKUID, WarehouseID: record.WarehouseID, Quantity: 2, ReservationID: &res.ID}
	require.NoError(t, svc.Release(context.Background(), input))
	require.NoError(t, svc.Release(context.Background(), input))
	require.Equal(t, 5, loadRecord(t, db, record.ID).AvailableStock)

	// Untracked releases always add stock back.
	require.NoError(t, svc.Release(context.Background(), ReleaseInput{SKUID: record.SKUID, WarehouseID: record.WarehouseID, Quantity: 1}))
	released := loadRecord(t, db, record.ID)
	require.Equal(t, 6, released.AvailableStock)
	require.Equal(t, record.Revision+3, released.Revision)
}

func TestReleaseUnknownRecord(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())

	err := svc.Release(context.Background(), ReleaseInput{SKUID: uuid.New(), WarehouseID: uuid.New(), Quantity: 1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestReleaseOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())
	record := seedRecord(t, db, 10)
	order, buyer := uuid.New(), uuid.New()

	_, err := svc.ReserveAll(context.Background(), buyer, order, []ReserveItem{
		{SKUID: record.SKUID, WarehouseID: record.WarehouseID, Quantity: 3},
		{SKUID: record.SKUID, WarehouseID: record.WarehouseID, Quantity: 2},
	})
	require.NoError(t, err)
	require.Equal(t, 5, loadRecord(t, db, record.ID).AvailableStock)

	_, err = svc.ReleaseOrder(context.Background(), uuid.New(), order)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "unexpected error %v", err)
	require.Equal(t, 5, loadRecord(t, db, record.ID).AvailableStock)

	released, err := svc.ReleaseOrder(context.Background(), buyer, order)
	require.NoError(t, err)
	require.Equal(t, 2, released)
	require.Equal(t, 10, loadRecord(t, db, record.ID).AvailableStock)

	again, err := svc.ReleaseOrder(context.Background(), buyer, order)
	require.NoError(t, err)
	require.Zero(t, again)
}

func TestReleaseOrderReportsPartialRelease(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	good := seedRecord(t, db, 6)
	bad := seedRecord(t, db, 6)
	order, buyer := uuid.New(), uuid.New()
	_, err := newTestService(t, db, newLocalMutex()).ReserveAll(context.Background(), buyer, order, []ReserveItem{
		{SKUID: good.SKUID, WarehouseID: good.WarehouseID, Quantity: 2},
		{SKUID: bad.SKUID, WarehouseID: bad.WarehouseID, Quantity: 1},
	})
	require.NoError(t, err)

	svc := newService(ServiceParams{
		DB:     dbpkg.NewFromConn(db),
		Mutex:  newLocalMutex(),
		Logger: testLogger(),
	}, &brokenIncrementStore{Repository: NewRepository(db), sku: bad.SKUID})

	released, err := svc.ReleaseOrder(context.Background(), buyer, order)
	require.Error(t, err)
	require.Equal(t, 1, released)
	require.Equal(t, 6, loadRecord(t, db, good.ID).AvailableStock)
	require.Equal(t, 5, loadRecord(t, db, bad.ID).AvailableStock)
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db, newLocalMutex())
	record := seedRecord(t, db, 7)
	missing := StockKey{SKUID: uuid.New(), WarehouseID: uuid.New()}
	key := StockKey{SKUID: record.SKUID, WarehouseID: record.WarehouseID}

	stock, err := svc.Available(context.Background(), []StockKey{key, missing})
	require.NoError(t, err)
	require.Equal(t, 7, stock[key])
	_, ok := stock[missing]
	require.False(t, ok)
}
