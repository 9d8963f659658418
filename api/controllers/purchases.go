package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/api/responses"
	"github.com/angelmondragon/escrow-backend/api/validators"
	"github.com/angelmondragon/escrow-backend/internal/actors"
	"github.com/angelmondragon/escrow-backend/internal/purchases"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
)

// PurchaseService is the purchase ledger surface exposed over HTTP.
type PurchaseService interface {
	Get(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID) (*models.Purchase, error)
	ConfirmPayment(ctx context.Context, actor actors.Actor, input purchases.ConfirmPaymentInput) (*models.Purchase, error)
	Cancel(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID) (*models.Purchase, error)
	AdminRefund(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID, reason string) error
	AdminRelease(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID) (*models.Purchase, error)
	CompletedSales(ctx context.Context, sellerID uuid.UUID) (int64, error)
}

type addressRequest struct {
	Name     string `json:"name" validate:"max=120"`
	Street   string `json:"street" validate:"max=200"`
	City     string `json:"city" validate:"max=120"`
	Postcode string `json:"postcode" validate:"max=20"`
	Country  string `json:"country" validate:"max=2"`
	Phone    string `json:"phone" validate:"max=32"`
}

type confirmPaymentRequest struct {
	PaymentRef     string          `json:"payment_ref" validate:"required,max=255"`
	DeliveryMethod string          `json:"delivery_method" validate:"required,oneof=parcel in_person"`
	ShippingPrice  string          `json:"shipping_price"`
	Address        *addressRequest `json:"address"`
}

func GetPurchase(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaseID, err := validators.PathUUID(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		p, err := svc.Get(r.Context(), actor, purchaseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPurchaseResponse(p))
	}
}

// ConfirmPayment records that the buyer's payment was authorised.
func ConfirmPayment(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaseID, err := validators.PathUUID(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipping, err := validators.ParseMoneyCents("shipping_price", req.ShippingPrice)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParseDeliveryMethod(req.DeliveryMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery method"))
			return
		}

		input := purchases.ConfirmPaymentInput{
			PurchaseID:         purchaseID,
			PaymentRef:         validators.SanitizeString(req.PaymentRef, 255),
			DeliveryMethod:     method,
			ShippingPriceCents: shipping,
		}
		if req.Address != nil {
			input.Address = models.AddressSnapshot{
				Name:     validators.SanitizeString(req.Address.Name, 120),
				Street:   validators.SanitizeString(req.Address.Street, 200),
				City:     validators.SanitizeString(req.Address.City, 120),
				Postcode: validators.SanitizeString(req.Address.Postcode, 20),
				Country:  validators.SanitizeString(req.Address.Country, 2),
				Phone:    validators.SanitizeString(req.Address.Phone, 32),
			}
		}

		p, err := svc.ConfirmPayment(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPurchaseResponse(p))
	}
}

func CancelPurchase(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaseID, err := validators.PathUUID(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		p, err := svc.Cancel(r.Context(), actor, purchaseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPurchaseResponse(p))
	}
}

type adminRefundRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// AdminRefund returns the buyer's money outside the return flow.
func AdminRefund(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaseID, err := validators.PathUUID(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req adminRefundRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.AdminRefund(r.Context(), actor, purchaseID, validators.SanitizeString(req.Reason, 500)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		p, err := svc.Get(r.Context(), actor, purchaseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPurchaseResponse(p))
	}
}

// AdminRelease settles a dispute in the seller's favour.
func AdminRelease(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaseID, err := validators.PathUUID(r, "purchaseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		p, err := svc.AdminRelease(r.Context(), actor, purchaseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPurchaseResponse(p))
	}
}

type sellerReputationResponse struct {
	SellerID       uuid.UUID `json:"seller_id"`
	CompletedSales int64     `json:"completed_sales"`
}

// GetSellerReputation reports how many purchases a seller has completed.
func GetSellerReputation(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := validators.PathUUID(r, "sellerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sales, err := svc.CompletedSales(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller reputation"))
			return
		}
		responses.WriteSuccess(w, sellerReputationResponse{SellerID: sellerID, CompletedSales: sales})
	}
}
