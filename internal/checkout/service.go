package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/catalog"
	"github.com/angelmondragon/storefront-checkout/internal/checkout/helpers"
	"github.com/angelmondragon/storefront-checkout/internal/discounts"
	"github.com/angelmondragon/storefront-checkout/internal/inventory"
	"github.com/angelmondragon/storefront-checkout/internal/lock"
	pkgcheckout "github.com/angelmondragon/storefront-checkout/pkg/checkout"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

const (
	defaultTTL                = 15 * time.Minute
	defaultConfirmLockTTL     = 30 * time.Second
	defaultResolveConcurrency = 8
)

// orderRefSpace derives an order reference from its checkout id, so a retried
// confirm of the same checkout lands on the same order.
var orderRefSpace = uuid.MustParse("6f1d3c2e-8a4b-5c7d-9e0f-1a2b3c4d5e6f")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type skuLoader interface {
	FindSKUs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.SKUSnapshot, error)
}

type distanceResolver interface {
	DistanceKm(ctx context.Context, shopID uuid.UUID, destination types.GeographyPoint) (float64, error)
}

type inventoryService interface {
	AvailableForSKUs(ctx context.Context, skuIDs []uuid.UUID) (map[inventory.StockKey]int, error)
	ReserveAll(ctx context.Context, userID, orderRef uuid.UUID, items []inventory.ReserveItem) ([]inventory.Reservation, error)
	Compensate(ctx context.Context, reservations []inventory.Reservation) error
	ReleaseOrder(ctx context.Context, userID, orderRef uuid.UUID) (int, error)
}

type discountService interface {
	Resolve(ctx context.Context, input discounts.ResolveInput) (*models.Discount, error)
	Finalize(ctx context.Context, userID, orderRef uuid.UUID, usages []discounts.PendingUsage, hooks ...discounts.TxHook) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	Queued(ctx context.Context, eventType enums.OutboxEventType, aggregateID uuid.UUID) (bool, error)
}

// CartSelection is one (SKU, quantity) pair the cart service asks to price.
type CartSelection struct {
	SKUID    uuid.UUID
	Quantity int
}

// DiscountSelection names a code to try. ShopID nil targets the whole checkout.
// Explicit selections fail the computation when rejected instead of warning.
type DiscountSelection struct {
	Code     string
	ShopID   *uuid.UUID
	Explicit bool
}

// ComputeInput carries a pricing request.
type ComputeInput struct {
	UserID           uuid.UUID
	Items            []CartSelection
	Destination      types.GeographyPoint
	PlatformDiscount *DiscountSelection
	ShopDiscounts    []DiscountSelection
}

// ConfirmInput identifies the checkout being converted into an order.
type ConfirmInput struct {
	UserID     uuid.UUID
	CheckoutID uuid.UUID
}

// Confirmation is the outcome of a successful checkout confirmation.
type Confirmation struct {
	OrderRef        uuid.UUID               `json:"order_ref"`
	CheckoutID      uuid.UUID               `json:"checkout_id"`
	FinalTotalCents int64                   `json:"final_total_cents"`
	Reservations    []inventory.Reservation `json:"reservations"`
}

// Cancellation reports the stock handed back for an order.
type Cancellation struct {
	OrderRef uuid.UUID `json:"order_ref"`
	Released int       `json:"released"`
}

// ServiceParams wire the checkout service.
type ServiceParams struct {
	DB                 txRunner
	Catalog            skuLoader
	Distances          distanceResolver
	Inventory          inventoryService
	Discounts          discountService
	Outbox             outboxPublisher
	Store              Store
	Mutex              lock.Mutex
	Logger             *logger.Logger
	Metrics            *metrics.CheckoutMetrics
	ShippingTiers      pkgcheckout.ShippingTiers
	TTL                time.Duration
	ConfirmLockTTL     time.Duration
	ResolveConcurrency int
}

// Service prices checkouts and converts them into reserved orders.
type Service struct {
	db             txRunner
	catalog        skuLoader
	distances      distanceResolver
	inventory      inventoryService
	discounts      discountService
	outbox         outboxPublisher
	store          Store
	mutex          lock.Mutex
	logg           *logger.Logger
	metrics        *metrics.CheckoutMetrics
	tiers          pkgcheckout.ShippingTiers
	ttl            time.Duration
	confirmLockTTL time.Duration
	concurrency    int
	now            func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Catalog == nil:
		return nil, fmt.Errorf("catalog loader required")
	case params.Distances == nil:
		return nil, fmt.Errorf("distance resolver required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory service required")
	case params.Discounts == nil:
		return nil, fmt.Errorf("discount service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Store == nil:
		return nil, fmt.Errorf("checkout store required")
	case params.Mutex == nil:
		return nil, fmt.Errorf("mutex required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case len(params.ShippingTiers) == 0:
		return nil, fmt.Errorf("shipping tiers required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	confirmTTL := params.ConfirmLockTTL
	if confirmTTL <= 0 {
		confirmTTL = defaultConfirmLockTTL
	}
	concurrency := params.ResolveConcurrency
	if concurrency <= 0 {
		concurrency = defaultResolveConcurrency
	}
	return &Service{
		db:             params.DB,
		catalog:        params.Catalog,
		distances:      params.Distances,
		inventory:      params.Inventory,
		discounts:      params.Discounts,
		outbox:         params.Outbox,
		store:          params.Store,
		mutex:          params.Mutex,
		logg:           params.Logger,
		metrics:        params.Metrics,
		tiers:          params.ShippingTiers,
		ttl:            ttl,
		confirmLockTTL: confirmTTL,
		concurrency:    concurrency,
		now:            time.Now,
	}, nil
}

// Compute prices the selection, replaces the user's live checkout and returns it.
func (s *Service) Compute(ctx context.Context, input ComputeInput) (*Checkout, error) {
	result, err := s.compute(ctx, input)
	s.metrics.IncComputation(resultFor(err))
	return result, err
}

func (s *Service) compute(ctx context.Context, input ComputeInput) (*Checkout, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id required")
	}
	ctx = s.logg.WithUserID(ctx, input.UserID.String())

	lines := make([]helpers.SelectionLine, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, helpers.SelectionLine{SKUID: item.SKUID, Quantity: item.Quantity})
	}
	if err := helpers.ValidateSelection(lines); err != nil {
		return nil, err
	}
	lines, err := helpers.MergeSelection(lines)
	if err != nil {
		return nil, err
	}
	if !input.Destination.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination coordinates out of range")
	}

	snapshots, stock, err := s.loadSnapshots(ctx, lines)
	if err != nil {
		return nil, err
	}

	var warnings []Warning
	type pricedLine struct {
		snapshot catalog.SKUSnapshot
		quantity int
	}
	selected := make([]pricedLine, 0, len(lines))
	for _, line := range lines {
		snapshot, ok := snapshots[line.SKUID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown sku").WithDetails(map[string]any{
				"sku_id": line.SKUID,
			})
		}
		selected = append(selected, pricedLine{snapshot: snapshot, quantity: line.Quantity})
	}

	var groups []ShopGroup
	for _, shop := range helpers.GroupByShop(selected, func(p pricedLine) uuid.UUID { return p.snapshot.ShopID }) {
		group := ShopGroup{ShopID: shop.ShopID}
		for _, line := range shop.Items {
			snap := line.snapshot
			group.ShopName = snap.ShopName
			available := stock[inventory.StockKey{SKUID: snap.SKUID, WarehouseID: snap.WarehouseID}]
			if available < line.quantity {
				skuID, shopID := snap.SKUID, snap.ShopID
				warnings = append(warnings, Warning{
					Type:    enums.CheckoutWarningOutOfStock,
					ShopID:  &shopID,
					SKUID:   &skuID,
					Reason:  "insufficient_stock",
					Message: fmt.Sprintf("%s has %d available, %d requested", snap.Name, max(available, 0), line.quantity),
				})
				continue
			}
			lineTotal := snap.UnitPriceCents * int64(line.quantity)
			group.Items = append(group.Items, LineItem{
				SKUID:          snap.SKUID,
				ProductID:      snap.ProductID,
				WarehouseID:    snap.WarehouseID,
				Name:           snap.Name,
				Thumbnail:      snap.Thumbnail,
				UnitPriceCents: snap.UnitPriceCents,
				Quantity:       line.quantity,
				LineTotalCents: lineTotal,
			})
			group.RawSubtotalCents += lineTotal
		}
		if len(group.Items) == 0 {
			shopID := group.ShopID
			warnings = append(warnings, Warning{
				Type:    enums.CheckoutWarningShopDropped,
				ShopID:  &shopID,
				Message: fmt.Sprintf("%s dropped: no items in stock", group.ShopName),
			})
			continue
		}
		groups = append(groups, group)
	}
	if len(groups) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no items in the selection are in stock").WithDetails(map[string]any{
			"warnings": warnings,
		})
	}

	selections, scopeWarnings, err := shopSelections(input.ShopDiscounts, groups)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, scopeWarnings...)

	resolved, discountWarnings, err := s.priceShops(ctx, input, groups, selections)
	if err != nil {
		return nil, err
	}
	for _, w := range discountWarnings {
		if w != nil {
			warnings = append(warnings, *w)
		}
	}

	result := &Checkout{
		ID:     uuid.New(),
		UserID: input.UserID,
	}
	var aggregate, subtotal int64
	productIDs := make([]uuid.UUID, 0, len(lines))
	for i := range groups {
		group := &groups[i]
		if d := resolved[i]; d != nil {
			amount, err := pkgcheckout.DiscountAmount(d.Type, group.RawSubtotalCents, d.Value, d.MaxDiscountCents)
			if err != nil {
				return nil, err
			}
			group.Discount = appliedDiscount(d)
			group.DiscountCents = amount
			shopID := group.ShopID
			result.PendingUsages = append(result.PendingUsages, discounts.PendingUsage{DiscountID: d.ID, Code: d.Code, ShopID: &shopID})
		}
		group.DiscountedSubtotalCents = group.RawSubtotalCents - group.DiscountCents
		subtotal += group.DiscountedSubtotalCents
		aggregate += group.DiscountedSubtotalCents + group.ShippingFeeCents
		for _, item := range group.Items {
			productIDs = append(productIDs, item.ProductID)
		}
	}

	var platformAmount int64
	if sel := input.PlatformDiscount; sel != nil && sel.Code != "" {
		d, warning, err := s.resolveDiscount(ctx, input.UserID, *sel, nil, subtotal, productIDs)
		if err != nil {
			return nil, err
		}
		if warning != nil {
			warnings = append(warnings, *warning)
		}
		if d != nil {
			platformAmount, err = pkgcheckout.DiscountAmount(d.Type, aggregate, d.Value, d.MaxDiscountCents)
			if err != nil {
				return nil, err
			}
			result.PlatformDiscount = appliedDiscount(d)
			result.PendingUsages = append(result.PendingUsages, discounts.PendingUsage{DiscountID: d.ID, Code: d.Code})
		}
	}

	weights := make([]int64, len(groups))
	for i, group := range groups {
		weights[i] = group.DiscountedSubtotalCents + group.ShippingFeeCents
	}
	shares, err := helpers.AllocateProportional(platformAmount, weights)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocate platform discount")
	}
	for i := range groups {
		group := &groups[i]
		group.PlatformDiscountShareCents = shares[i]
		group.TotalPayableCents = group.DiscountedSubtotalCents + group.ShippingFeeCents - shares[i]

		result.RawTotalCents += group.RawSubtotalCents
		result.ShippingTotalCents += group.ShippingFeeCents
		result.ShopDiscountTotalCents += group.DiscountCents
		result.PlatformDiscountTotalCents += shares[i]
	}
	result.DiscountTotalCents = result.ShopDiscountTotalCents + result.PlatformDiscountTotalCents
	result.FinalTotalCents = result.RawTotalCents + result.ShippingTotalCents - result.DiscountTotalCents
	result.ShopGroups = groups
	result.Warnings = warnings

	now := s.now().UTC()
	result.CreatedAt = now
	result.ExpiresAt = now.Add(s.ttl)

	if err := result.Validate(); err != nil {
		s.logg.Error(ctx, "computed checkout failed validation", err)
		return nil, err
	}
	if err := s.store.Save(ctx, result, s.ttl); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist checkout")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"checkout_id":       result.ID.String(),
		"final_total_cents": result.FinalTotalCents,
		"shops":             len(groups),
		"warnings":          len(warnings),
	})
	s.logg.Info(logCtx, "checkout computed")
	return result, nil
}

// loadSnapshots fetches SKU snapshots and stock concurrently.
func (s *Service) loadSnapshots(ctx context.Context, lines []helpers.SelectionLine) (map[uuid.UUID]catalog.SKUSnapshot, map[inventory.StockKey]int, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.SKUID)
	}

	var (
		snapshots map[uuid.UUID]catalog.SKUSnapshot
		stock     map[inventory.StockKey]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshots, err = s.catalog.FindSKUs(gctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sku snapshots")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		stock, err = s.inventory.AvailableForSKUs(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return snapshots, stock, nil
}

// priceShops resolves shipping and shop discounts for every group concurrently.
// Each goroutine writes only its own index.
func (s *Service) priceShops(ctx context.Context, input ComputeInput, groups []ShopGroup, selections map[uuid.UUID]DiscountSelection) ([]*models.Discount, []*Warning, error) {
	resolved := make([]*models.Discount, len(groups))
	warnings := make([]*Warning, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range groups {
		g.Go(func() error {
			group := &groups[i]
			km, err := s.distances.DistanceKm(gctx, group.ShopID, input.Destination)
			if err != nil {
				return err
			}
			fee, err := s.tiers.FeeForDistance(km)
			if err != nil {
				return err
			}
			group.DistanceKm = km
			group.ShippingFeeCents = fee

			sel, ok := selections[group.ShopID]
			if !ok {
				return nil
			}
			productIDs := make([]uuid.UUID, 0, len(group.Items))
			for _, item := range group.Items {
				productIDs = append(productIDs, item.ProductID)
			}
			shopID := group.ShopID
			d, warning, err := s.resolveDiscount(gctx, input.UserID, sel, &shopID, group.RawSubtotalCents, productIDs)
			if err != nil {
				return err
			}
			resolved[i] = d
			warnings[i] = warning
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return resolved, warnings, nil
}

// resolveDiscount turns a rejection into a warning unless the selection is explicit.
func (s *Service) resolveDiscount(ctx context.Context, userID uuid.UUID, sel DiscountSelection, shopID *uuid.UUID, subtotal int64, productIDs []uuid.UUID) (*models.Discount, *Warning, error) {
	d, err := s.discounts.Resolve(ctx, discounts.ResolveInput{
		Code:          sel.Code,
		ShopID:        shopID,
		UserID:        userID,
		SubtotalCents: subtotal,
		ProductIDs:    productIDs,
	})
	if err == nil {
		return d, nil, nil
	}
	rejection, ok := discounts.RejectionFrom(err)
	if !ok || sel.Explicit {
		return nil, nil, err
	}
	return nil, &Warning{
		Type:    enums.CheckoutWarningDiscountRejected,
		ShopID:  shopID,
		Code:    sel.Code,
		Reason:  rejection.Reason.String(),
		Message: fmt.Sprintf("discount %s not applied: %s", sel.Code, rejection.Reason),
	}, nil
}

// Get returns the user's live checkout.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*Checkout, error) {
	live, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if live.Expired(s.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout expired")
	}
	return live, nil
}

// Confirm reserves every line of the live checkout, finalizes its discount
// usage and queues a checkout_confirmed event. Any failure leaves no stock reserved.
func (s *Service) Confirm(ctx context.Context, input ConfirmInput) (*Confirmation, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id required")
	}
	ctx = s.logg.WithUserID(ctx, input.UserID.String())

	var result *Confirmation
	err := s.mutex.WithLock(ctx, lock.CheckoutKey(input.UserID), s.confirmLockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.confirm(ctx, input)
		return err
	})
	s.metrics.IncConfirmation(resultFor(err))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) confirm(ctx context.Context, input ConfirmInput) (*Confirmation, error) {
	live, err := s.load(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if input.CheckoutID != uuid.Nil && live.ID != input.CheckoutID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "checkout was recomputed, review the latest summary")
	}
	now := s.now().UTC()
	if live.Expired(now) {
		s.discard(ctx, input.UserID)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout expired").WithDetails(map[string]any{
			"expired_at": live.ExpiresAt,
		})
	}
	if err := live.Validate(); err != nil {
		return nil, err
	}

	orderRef := uuid.NewSHA1(orderRefSpace, live.ID[:])
	ctx = s.logg.WithOrderRef(ctx, orderRef.String())

	// A confirm that committed but could not drop the live checkout leaves it behind.
	confirmed, err := s.outbox.Queued(ctx, enums.EventCheckoutConfirmed, orderRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check checkout confirmation")
	}
	if confirmed {
		s.discard(ctx, input.UserID)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "checkout already confirmed").WithDetails(map[string]any{
			"order_ref": orderRef,
		})
	}

	items := make([]inventory.ReserveItem, 0)
	for _, group := range live.ShopGroups {
		for _, item := range group.Items {
			items = append(items, inventory.ReserveItem{
				SKUID:       item.SKUID,
				WarehouseID: item.WarehouseID,
				Quantity:    item.Quantity,
			})
		}
	}
	reservations, err := s.inventory.ReserveAll(ctx, input.UserID, orderRef, items)
	if err != nil {
		return nil, err
	}

	event := confirmedEvent(live, orderRef, reservations, now)
	emit := func(ctx context.Context, tx *gorm.DB) error {
		return s.outbox.EmitIfNotExists(ctx, tx, event)
	}
	if err := s.discounts.Finalize(ctx, input.UserID, orderRef, live.PendingUsages, emit); err != nil {
		if compErr := s.inventory.Compensate(ctx, reservations); compErr != nil {
			s.logg.Error(ctx, "releasing reservations after failed finalize", compErr)
			return nil, multierr.Append(err, compErr)
		}
		return nil, err
	}
	s.discard(ctx, input.UserID)

	s.logg.Info(s.logg.WithField(ctx, "final_total_cents", live.FinalTotalCents), "checkout confirmed")
	return &Confirmation{
		OrderRef:        orderRef,
		CheckoutID:      live.ID,
		FinalTotalCents: live.FinalTotalCents,
		Reservations:    reservations,
	}, nil
}

// CancelOrder releases the stock an order holds and queues reservation_released.
func (s *Service) CancelOrder(ctx context.Context, userID, orderRef uuid.UUID) (*Cancellation, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id required")
	}
	ctx = s.logg.WithOrderRef(s.logg.WithUserID(ctx, userID.String()), orderRef.String())

	released, releaseErr := s.inventory.ReleaseOrder(ctx, userID, orderRef)
	if releaseErr != nil && released == 0 {
		return nil, releaseErr
	}
	if released == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order has no active reservations")
	}
	event := outbox.DomainEvent{
		EventType:   enums.EventReservationReleased,
		AggregateID: orderRef,
		Actor:       &outbox.ActorRef{UserID: userID},
		Data: payloads.ReservationReleasedEvent{
			OrderRef:   orderRef,
			UserID:     userID,
			Released:   released,
			Reason:     "order_canceled",
			ReleasedAt: s.now().UTC(),
		},
	}
	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.EmitIfNotExists(ctx, tx, event)
	}); err != nil {
		return nil, multierr.Append(releaseErr, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue reservation released event"))
	}
	if releaseErr != nil {
		s.logg.Error(s.logg.WithField(ctx, "released", released), "order reservations partially released", releaseErr)
		return &Cancellation{OrderRef: orderRef, Released: released}, releaseErr
	}
	s.logg.Info(s.logg.WithField(ctx, "released", released), "order reservations released")
	return &Cancellation{OrderRef: orderRef, Released: released}, nil
}

func (s *Service) load(ctx context.Context, userID uuid.UUID) (*Checkout, error) {
	live, err := s.store.Load(ctx, userID)
	if errors.Is(err, ErrCheckoutNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no live checkout")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout")
	}
	return live, nil
}

func (s *Service) discard(ctx context.Context, userID uuid.UUID) {
	if err := s.store.Delete(ctx, userID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to delete live checkout")
	}
}

// shopSelections indexes shop discount selections by shop. Selections for
// shops that are not in the checkout are dropped with a warning, or rejected when explicit.
func shopSelections(selections []DiscountSelection, groups []ShopGroup) (map[uuid.UUID]DiscountSelection, []Warning, error) {
	present := make(map[uuid.UUID]struct{}, len(groups))
	for _, group := range groups {
		present[group.ShopID] = struct{}{}
	}
	out := make(map[uuid.UUID]DiscountSelection, len(selections))
	var warnings []Warning
	for _, sel := range selections {
		if sel.Code == "" {
			continue
		}
		if sel.ShopID == nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "shop discount requires a shop id").WithDetails(map[string]any{
				"code": sel.Code,
			})
		}
		if _, ok := out[*sel.ShopID]; ok {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "only one discount per shop").WithDetails(map[string]any{
				"shop_id": *sel.ShopID,
			})
		}
		if _, ok := present[*sel.ShopID]; !ok {
			if sel.Explicit {
				return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "discount targets a shop that is not in the checkout").WithDetails(map[string]any{
					"code":    sel.Code,
					"shop_id": *sel.ShopID,
					"reason":  enums.DiscountRejectionWrongScope,
				})
			}
			shopID := *sel.ShopID
			warnings = append(warnings, Warning{
				Type:    enums.CheckoutWarningDiscountRejected,
				ShopID:  &shopID,
				Code:    sel.Code,
				Reason:  enums.DiscountRejectionWrongScope.String(),
				Message: fmt.Sprintf("discount %s not applied: shop is not in the checkout", sel.Code),
			})
			continue
		}
		out[*sel.ShopID] = sel
	}
	return out, warnings, nil
}

func appliedDiscount(d *models.Discount) *AppliedDiscount {
	return &AppliedDiscount{
		DiscountID:       d.ID,
		Code:             d.Code,
		Name:             d.Name,
		Type:             d.Type,
		Value:            d.Value,
		MaxDiscountCents: d.MaxDiscountCents,
	}
}

func confirmedEvent(live *Checkout, orderRef uuid.UUID, reservations []inventory.Reservation, now time.Time) outbox.DomainEvent {
	shops := make([]payloads.ShopTotal, 0, len(live.ShopGroups))
	for _, group := range live.ShopGroups {
		shops = append(shops, payloads.ShopTotal{
			ShopID:            group.ShopID,
			TotalPayableCents: group.TotalPayableCents,
			ShippingFeeCents:  group.ShippingFeeCents,
			DiscountCents:     group.DiscountCents + group.PlatformDiscountShareCents,
		})
	}
	lines := make([]payloads.ReservedLine, 0, len(reservations))
	for _, res := range reservations {
		lines = append(lines, payloads.ReservedLine{
			ReservationID: res.ID,
			SKUID:         res.SKUID,
			WarehouseID:   res.WarehouseID,
			Quantity:      res.Quantity,
		})
	}
	codes := make([]string, 0, len(live.PendingUsages))
	for _, usage := range live.PendingUsages {
		codes = append(codes, usage.Code)
	}
	return outbox.DomainEvent{
		EventType:   enums.EventCheckoutConfirmed,
		AggregateID: orderRef,
		Actor:       &outbox.ActorRef{UserID: live.UserID},
		Data: payloads.CheckoutConfirmedEvent{
			OrderRef:        orderRef,
			CheckoutID:      live.ID,
			UserID:          live.UserID,
			FinalTotalCents: live.FinalTotalCents,
			Shops:           shops,
			Reservations:    lines,
			DiscountCodes:   codes,
			ConfirmedAt:     now,
		},
		OccurredAt: now,
	}
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation),
		pkgerrors.IsCode(err, pkgerrors.CodeNotFound),
		pkgerrors.IsCode(err, pkgerrors.CodeConflict),
		pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized),
		pkgerrors.IsCode(err, pkgerrors.CodeForbidden):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
