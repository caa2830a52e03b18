package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/api/middleware"
	"github.com/angelmondragon/storefront-checkout/api/responses"
	"github.com/angelmondragon/storefront-checkout/api/validators"
	checkoutsvc "github.com/angelmondragon/storefront-checkout/internal/checkout"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

const maxDiscountCodeLen = 64

// CheckoutService is the surface of internal/checkout the HTTP layer drives.
type CheckoutService interface {
	Compute(ctx context.Context, input checkoutsvc.ComputeInput) (*checkoutsvc.Checkout, error)
	Get(ctx context.Context, userID uuid.UUID) (*checkoutsvc.Checkout, error)
	Confirm(ctx context.Context, input checkoutsvc.ConfirmInput) (*checkoutsvc.Confirmation, error)
	CancelOrder(ctx context.Context, userID, orderRef uuid.UUID) (*checkoutsvc.Cancellation, error)
}

type computeRequest struct {
	Items         []computeItemRequest  `json:"items" validate:"required,min=1,dive"`
	Destination   destinationRequest    `json:"destination"`
	PlatformCode  *discountCodeRequest  `json:"platform_discount,omitempty"`
	ShopDiscounts []shopDiscountRequest `json:"shop_discounts,omitempty" validate:"omitempty,dive"`
}

type computeItemRequest struct {
	SKUID    uuid.UUID `json:"sku_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,min=1,max=9999"`
}

type destinationRequest struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// discountCodeRequest carries a code. AutoApplied codes were suggested by the
// storefront rather than typed by the shopper, so a rejection only warns.
type discountCodeRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	AutoApplied bool   `json:"auto_applied,omitempty"`
}

type shopDiscountRequest struct {
	ShopID      uuid.UUID `json:"shop_id" validate:"required"`
	Code        string    `json:"code" validate:"required,max=64"`
	AutoApplied bool      `json:"auto_applied,omitempty"`
}

type confirmRequest struct {
	CheckoutID uuid.UUID `json:"checkout_id" validate:"required"`
}

func (req computeRequest) toInput(userID uuid.UUID) checkoutsvc.ComputeInput {
	input := checkoutsvc.ComputeInput{
		UserID:      userID,
		Items:       make([]checkoutsvc.CartSelection, 0, len(req.Items)),
		Destination: types.GeographyPoint{Lat: req.Destination.Lat, Lng: req.Destination.Lng},
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, checkoutsvc.CartSelection{SKUID: item.SKUID, Quantity: item.Quantity})
	}
	if req.PlatformCode != nil {
		input.PlatformDiscount = &checkoutsvc.DiscountSelection{
			Code:     normalizeCode(req.PlatformCode.Code),
			Explicit: !req.PlatformCode.AutoApplied,
		}
	}
	for _, sel := range req.ShopDiscounts {
		shopID := sel.ShopID
		input.ShopDiscounts = append(input.ShopDiscounts, checkoutsvc.DiscountSelection{
			Code:     normalizeCode(sel.Code),
			ShopID:   &shopID,
			Explicit: !sel.AutoApplied,
		})
	}
	return input
}

func normalizeCode(code string) string {
	return validators.NormalizeDiscountCode(code, maxDiscountCodeLen)
}

// CheckoutCompute prices the shopper's selection and replaces their live checkout.
func CheckoutCompute(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		userID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload computeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Compute(r.Context(), payload.toInput(userID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CheckoutFetch returns the shopper's live checkout.
func CheckoutFetch(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		userID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Get(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CheckoutConfirm reserves stock and finalizes discount usage for the live checkout.
func CheckoutConfirm(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		userID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Confirm(r.Context(), checkoutsvc.ConfirmInput{UserID: userID, CheckoutID: payload.CheckoutID})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// OrderCancel hands the stock reserved for an order back to inventory.
func OrderCancel(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		userID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderRef, err := uuid.Parse(chi.URLParam(r, "orderRef"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order reference"))
			return
		}

		result, err := svc.CancelOrder(r.Context(), userID, orderRef)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return principal.UserID, nil
}
