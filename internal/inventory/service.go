package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/lock"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
)

const (
	defaultRetryAttempts = 5
	defaultRetryBackoff  = 10 * time.Millisecond
	defaultLockTTL       = 5 * time.Second
)

var errRevisionConflict = errors.New("inventory revision changed")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type store interface {
	Find(ctx context.Context, tx *gorm.DB, key StockKey) (*models.InventoryRecord, error)
	Available(ctx context.Context, keys []StockKey) (map[StockKey]int, error)
	AvailableForSKUs(ctx context.Context, skuIDs []uuid.UUID) (map[StockKey]int, error)
	DecrementIfRevision(ctx context.Context, tx *gorm.DB, id uuid.UUID, revision int64, qty int, now time.Time) (bool, error)
	Increment(ctx context.Context, tx *gorm.DB, key StockKey, qty int, now time.Time) (bool, error)
	InsertReservation(ctx context.Context, tx *gorm.DB, reservation *models.InventoryReservation) error
	MarkReleased(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, at time.Time) (bool, error)
	ActiveReservations(ctx context.Context, orderRef uuid.UUID) ([]models.InventoryReservation, error)
}

// ReserveInput describes one stock decrement.
type ReserveInput struct {
	SKUID       uuid.UUID
	WarehouseID uuid.UUID
	UserID      uuid.UUID
	OrderRef    uuid.UUID
	Quantity    int
}

// ReleaseInput describes one stock increment. When ReservationID is set the
// matching audit entry is marked released and a second release is a no-op.
type ReleaseInput struct {
	SKUID         uuid.UUID
	WarehouseID   uuid.UUID
	Quantity      int
	ReservationID *uuid.UUID
}

// Reservation is the result of a successful reserve.
type Reservation struct {
	ID             uuid.UUID `json:"id"`
	SKUID          uuid.UUID `json:"sku_id"`
	WarehouseID    uuid.UUID `json:"warehouse_id"`
	Quantity       int       `json:"quantity"`
	RemainingStock int       `json:"remaining_stock"`
	ReservedAt     time.Time `json:"reserved_at"`
}

// ServiceParams configure the inventory service.
type ServiceParams struct {
	DB            txRunner
	Repo          *Repository
	Mutex         lock.Mutex
	Logger        *logger.Logger
	Metrics       *metrics.CheckoutMetrics
	LockTTL       time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Service owns every write to available_stock.
type Service struct {
	db       txRunner
	repo     store
	mutex    lock.Mutex
	logg     *logger.Logger
	metrics  *metrics.CheckoutMetrics
	lockTTL  time.Duration
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

// NewService builds the inventory service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Mutex == nil {
		return nil, fmt.Errorf("mutex required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return newService(params, params.Repo), nil
}

func newService(params ServiceParams, repo store) *Service {
	attempts := params.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	backoff := params.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		db:       params.DB,
		repo:     repo,
		mutex:    params.Mutex,
		logg:     params.Logger,
		metrics:  params.Metrics,
		lockTTL:  ttl,
		attempts: attempts,
		backoff:  backoff,
		now:      time.Now,
	}
}

// Available returns available stock per key; keys without a counter are absent.
func (s *Service) Available(ctx context.Context, keys []StockKey) (map[StockKey]int, error) {
	stock, err := s.repo.Available(ctx, keys)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load available stock")
	}
	return stock, nil
}

// AvailableForSKUs returns stock of every warehouse holding one of skuIDs.
func (s *Service) AvailableForSKUs(ctx context.Context, skuIDs []uuid.UUID) (map[StockKey]int, error) {
	stock, err := s.repo.AvailableForSKUs(ctx, skuIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load available stock")
	}
	return stock, nil
}

// Reserve decrements stock for one SKU in one warehouse. It holds the
// per-key mutex and retries revision conflicts a bounded number of times.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (*Reservation, error) {
	if err := validateQuantity(input.Quantity); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"sku_id":       input.SKUID.String(),
		"warehouse_id": input.WarehouseID.String(),
		"order_ref":    input.OrderRef.String(),
	})

	var result *Reservation
	err := s.mutex.WithLock(ctx, lock.InventoryKey(input.SKUID, input.WarehouseID), s.lockTTL, func(ctx context.Context) error {
		reserved, err := s.reserveWithRetry(ctx, input)
		if err != nil {
			return err
		}
		result = reserved
		return nil
	})
	if err != nil {
		s.metrics.IncReservation(outcomeFor(err))
		return nil, err
	}
	s.metrics.IncReservation(metrics.OutcomeReserved)
	return result, nil
}

func (s *Service) reserveWithRetry(ctx context.Context, input ReserveInput) (*Reservation, error) {
	var result *Reservation
	backoff := retry.WithMaxRetries(uint64(s.attempts-1), retry.NewExponential(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		reserved, err := s.reserveOnce(ctx, input)
		if errors.Is(err, errRevisionConflict) {
			s.metrics.IncOptimisticRetry()
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		result = reserved
		return nil
	})
	if errors.Is(err, errRevisionConflict) {
		s.logg.Warn(ctx, "inventory revision conflicts exhausted retries")
		return nil, pkgerrors.Wrap(pkgerrors.CodeConcurrency, err, "inventory changed concurrently").WithDetails(map[string]any{
			"sku_id":   input.SKUID,
			"attempts": s.attempts,
		})
	}
	if err != nil && pkgerrors.As(err) == nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLockTimeout, err, "reservation canceled while retrying").WithDetails(map[string]any{
			"sku_id": input.SKUID,
		})
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) reserveOnce(ctx context.Context, input ReserveInput) (*Reservation, error) {
	var result *Reservation
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		key := StockKey{SKUID: input.SKUID, WarehouseID: input.WarehouseID}
		record, err := s.repo.Find(ctx, tx, key)
		if errors.Is(err, ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeValidation, "sku is not stocked in warehouse").WithDetails(map[string]any{
				"sku_id":       input.SKUID,
				"warehouse_id": input.WarehouseID,
				"reason":       "not_stocked",
			})
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory record")
		}
		if record.AvailableStock < input.Quantity {
			return insufficientStock(input, record.AvailableStock)
		}

		now := s.now().UTC()
		updated, err := s.repo.DecrementIfRevision(ctx, tx, record.ID, record.Revision, input.Quantity, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement inventory")
		}
		if !updated {
			return errRevisionConflict
		}

		audit := &models.InventoryReservation{
			InventoryID: record.ID,
			SKUID:       input.SKUID,
			WarehouseID: input.WarehouseID,
			UserID:      input.UserID,
			OrderRef:    input.OrderRef,
			Quantity:    input.Quantity,
			ReservedAt:  now,
		}
		if err := s.repo.InsertReservation(ctx, tx, audit); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record reservation")
		}
		result = &Reservation{
			ID:             audit.ID,
			SKUID:          input.SKUID,
			WarehouseID:    input.WarehouseID,
			Quantity:       input.Quantity,
			RemainingStock: record.AvailableStock - input.Quantity,
			ReservedAt:     now,
		}
		return nil
	})
	return result, err
}

// Release adds stock back. It is safe without the revision token because
// the increment is a single atomic update.
func (s *Service) Release(ctx context.Context, input ReleaseInput) error {
	if err := validateQuantity(input.Quantity); err != nil {
		return err
	}
	now := s.now().UTC()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if input.ReservationID != nil {
			active, err := s.repo.MarkReleased(ctx, tx, *input.ReservationID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark reservation released")
			}
			if !active {
				return nil
			}
		}
		updated, err := s.repo.Increment(ctx, tx, StockKey{SKUID: input.SKUID, WarehouseID: input.WarehouseID}, input.Quantity, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment inventory")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.IncRelease()
	return nil
}

// ReserveItem is one line of a multi-item reservation.
type ReserveItem struct {
	SKUID       uuid.UUID
	WarehouseID uuid.UUID
	Quantity    int
}

// ReserveAll reserves items in order. The first failure releases every
// reservation already made for the order and is returned to the caller.
func (s *Service) ReserveAll(ctx context.Context, userID, orderRef uuid.UUID, items []ReserveItem) ([]Reservation, error) {
	reserved := make([]Reservation, 0, len(items))
	for _, item := range items {
		res, err := s.Reserve(ctx, ReserveInput{
			SKUID:       item.SKUID,
			WarehouseID: item.WarehouseID,
			UserID:      userID,
			OrderRef:    orderRef,
			Quantity:    item.Quantity,
		})
		if err != nil {
			if compErr := s.Compensate(ctx, reserved); compErr != nil {
				s.logg.Error(s.logg.WithOrderRef(ctx, orderRef.String()), "compensating release failed", compErr)
				return nil, multierr.Append(err, compErr)
			}
			return nil, err
		}
		reserved = append(reserved, *res)
	}
	return reserved, nil
}

// Compensate releases reservations in reverse order, attempting every one.
func (s *Service) Compensate(ctx context.Context, reservations []Reservation) error {
	_, err := s.compensate(ctx, reservations)
	return err
}

// compensate releases newest first and reports how many releases succeeded.
func (s *Service) compensate(ctx context.Context, reservations []Reservation) (int, error) {
	var errs error
	released := 0
	for i := len(reservations) - 1; i >= 0; i-- {
		res := reservations[i]
		id := res.ID
		if err := s.Release(ctx, ReleaseInput{
			SKUID:         res.SKUID,
			WarehouseID:   res.WarehouseID,
			Quantity:      res.Quantity,
			ReservationID: &id,
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %s: %w", res.ID, err))
			continue
		}
		released++
	}
	if len(reservations) > 0 {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"released": released,
			"failed":   len(reservations) - released,
		}), "released reservations of failed order")
	}
	return released, errs
}

// ReleaseOrder releases every active reservation userID holds for orderRef
// and returns how many were released. On a partial failure the count covers
// the rows that were released before the error is returned.
func (s *Service) ReleaseOrder(ctx context.Context, userID, orderRef uuid.UUID) (int, error) {
	rows, err := s.repo.ActiveReservations(ctx, orderRef)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservations")
	}
	reservations := make([]Reservation, 0, len(rows))
	for _, row := range rows {
		if row.UserID != userID {
			return 0, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
		}
		reservations = append(reservations, Reservation{
			ID:          row.ID,
			SKUID:       row.SKUID,
			WarehouseID: row.WarehouseID,
			Quantity:    row.Quantity,
			ReservedAt:  row.ReservedAt,
		})
	}
	return s.compensate(ctx, reservations)
}

func validateQuantity(qty int) error {
	if qty < 0 {
		return pkgerrors.Newf(pkgerrors.CodeInternal, "negative quantity %d", qty)
	}
	if qty == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}
	return nil
}

func insufficientStock(input ReserveInput, available int) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock").WithDetails(map[string]any{
		"sku_id":       input.SKUID,
		"warehouse_id": input.WarehouseID,
		"requested":    input.Quantity,
		"available":    available,
		"reason":       "insufficient_stock",
	})
}

func outcomeFor(err error) string {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		return metrics.OutcomeInsufficient
	case pkgerrors.IsCode(err, pkgerrors.CodeConcurrency):
		return metrics.OutcomeConflict
	case pkgerrors.IsCode(err, pkgerrors.CodeLockTimeout):
		return metrics.OutcomeLockTimeout
	default:
		return metrics.OutcomeError
	}
}
