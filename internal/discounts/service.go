package discounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/lock"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const defaultLockTTL = 5 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Rejection explains why a discount cannot be applied.
type Rejection struct {
	Code   string
	Reason enums.DiscountRejection
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("discount %q rejected: %s", r.Code, r.Reason)
}

// RejectionFrom extracts a Rejection from err.
func RejectionFrom(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

func reject(code string, reason enums.DiscountRejection) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, &Rejection{Code: code, Reason: reason}, "discount cannot be applied").WithDetails(map[string]any{
		"code":   code,
		"reason": reason,
	})
}

// ResolveInput carries everything needed to decide whether a code applies.
// ShopID nil resolves a platform-wide discount.
type ResolveInput struct {
	Code          string
	ShopID        *uuid.UUID
	UserID        uuid.UUID
	SubtotalCents int64
	ProductIDs    []uuid.UUID
}

// PendingUsage is a provisional redemption recorded on a checkout.
type PendingUsage struct {
	DiscountID uuid.UUID  `json:"discount_id"`
	Code       string     `json:"code"`
	ShopID     *uuid.UUID `json:"shop_id,omitempty"`
}

// ServiceParams configure the discount service.
type ServiceParams struct {
	DB      txRunner
	Repo    *Repository
	Mutex   lock.Mutex
	Logger  *logger.Logger
	LockTTL time.Duration
}

// Service validates discount codes and finalizes their usage ledger entries.
type Service struct {
	db      txRunner
	repo    *Repository
	mutex   lock.Mutex
	logg    *logger.Logger
	lockTTL time.Duration
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("discount repository required")
	}
	if params.Mutex == nil {
		return nil, fmt.Errorf("mutex required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		db:      params.DB,
		repo:    params.Repo,
		mutex:   params.Mutex,
		logg:    params.Logger,
		lockTTL: ttl,
		now:     time.Now,
	}, nil
}

// Resolve returns the discount for input.Code when every precondition holds.
// Failed preconditions return a validation error carrying a Rejection.
func (s *Service) Resolve(ctx context.Context, input ResolveInput) (*models.Discount, error) {
	discount, err := s.repo.FindByCode(ctx, input.ShopID, input.Code)
	if errors.Is(err, ErrNotFound) {
		return nil, reject(input.Code, enums.DiscountRejectionNotFound)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load discount")
	}
	if !discount.Type.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeInternal, "discount %s has unsupported type %q", discount.ID, discount.Type)
	}
	if reason, ok := checkActive(discount, s.now()); !ok {
		return nil, reject(input.Code, reason)
	}
	if discount.MinOrderCents != nil && input.SubtotalCents < *discount.MinOrderCents {
		return nil, reject(input.Code, enums.DiscountRejectionMinOrder)
	}
	if !discount.AppliesToAll && !discount.ProductIDs.ContainsAll(input.ProductIDs) {
		return nil, reject(input.Code, enums.DiscountRejectionNotApplicable)
	}
	reason, ok, err := s.checkCaps(ctx, nil, discount, input.UserID, 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reject(input.Code, reason)
	}
	return discount, nil
}

// TxHook runs inside the transaction that writes the ledger rows.
type TxHook func(ctx context.Context, tx *gorm.DB) error

// Finalize appends one ledger row per usage for a confirmed order. Caps are
// re-checked against the ledger while holding every involved discount's lock,
// so racing confirmations cannot exceed a cap. Hooks commit or roll back with
// the ledger rows. Finalizing an order twice is a no-op.
func (s *Service) Finalize(ctx context.Context, userID, orderRef uuid.UUID, usages []PendingUsage, hooks ...TxHook) error {
	if len(usages) == 0 {
		if len(hooks) == 0 {
			return nil
		}
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			return runHooks(ctx, tx, hooks)
		})
	}
	ctx = s.logg.WithOrderRef(ctx, orderRef.String())

	perDiscount := make(map[uuid.UUID]int, len(usages))
	keys := make([]string, 0, len(usages))
	for _, usage := range usages {
		perDiscount[usage.DiscountID]++
		keys = append(keys, lock.DiscountKey(usage.DiscountID))
	}

	err := lock.WithLocks(ctx, s.mutex, keys, s.lockTTL, func(ctx context.Context) error {
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			done, err := s.repo.HasOrder(ctx, tx, orderRef)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check ledger")
			}
			if done {
				return nil
			}

			now := s.now().UTC()
			for discountID, n := range perDiscount {
				discount, err := s.repo.FindByID(ctx, tx, discountID)
				if errors.Is(err, ErrNotFound) {
					return reject(discountID.String(), enums.DiscountRejectionNotFound)
				}
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load discount")
				}
				if reason, ok := checkActive(discount, now); !ok {
					return reject(discount.Code, reason)
				}
				reason, ok, err := s.checkCaps(ctx, tx, discount, userID, n)
				if err != nil {
					return err
				}
				if !ok {
					return reject(discount.Code, reason)
				}
			}

			rows := make([]models.DiscountUsage, 0, len(usages))
			for _, usage := range usages {
				rows = append(rows, models.DiscountUsage{
					DiscountID: usage.DiscountID,
					UserID:     userID,
					ShopID:     usage.ShopID,
					OrderRef:   orderRef,
					CreatedAt:  now,
				})
			}
			if err := s.repo.InsertUsages(ctx, tx, rows); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append discount usage")
			}
			for discountID, n := range perDiscount {
				if err := s.repo.IncrementUsedCount(ctx, tx, discountID, n); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bump discount counter")
				}
			}
			return runHooks(ctx, tx, hooks)
		})
	})
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "usages", len(usages)), "discount usage finalized")
	return nil
}

// Reconcile rewrites cached used_count values from the ledger.
func (s *Service) Reconcile(ctx context.Context) (int64, error) {
	fixed, err := s.repo.ReconcileUsedCounts(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile discount counters")
	}
	return fixed, nil
}

func runHooks(ctx context.Context, tx *gorm.DB, hooks []TxHook) error {
	for _, hook := range hooks {
		if err := hook(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func checkActive(discount *models.Discount, now time.Time) (enums.DiscountRejection, bool) {
	switch {
	case !discount.Published:
		return enums.DiscountRejectionUnpublished, false
	case !discount.Available:
		return enums.DiscountRejectionUnavailable, false
	case now.Before(discount.StartsAt):
		return enums.DiscountRejectionNotStarted, false
	case now.After(discount.EndsAt):
		return enums.DiscountRejectionExpired, false
	}
	return "", true
}

// checkCaps reports whether n more uses fit under the global and per-user
// caps, counting only ledger rows.
func (s *Service) checkCaps(ctx context.Context, tx *gorm.DB, discount *models.Discount, userID uuid.UUID, n int) (enums.DiscountRejection, bool, error) {
	if discount.UsageLimit > 0 {
		used, err := s.repo.CountUsages(ctx, tx, discount.ID, nil)
		if err != nil {
			return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count discount usage")
		}
		if used+int64(n) > int64(discount.UsageLimit) {
			return enums.DiscountRejectionExhausted, false, nil
		}
	}
	if discount.PerUserLimit > 0 {
		used, err := s.repo.CountUsages(ctx, tx, discount.ID, &userID)
		if err != nil {
			return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count user discount usage")
		}
		if used+int64(n) > int64(discount.PerUserLimit) {
			return enums.DiscountRejectionUserExhausted, false, nil
		}
	}
	return "", true, nil
}
