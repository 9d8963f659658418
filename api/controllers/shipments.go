package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/api/responses"
	"github.com/angelmondragon/escrow-backend/api/validators"
	"github.com/angelmondragon/escrow-backend/internal/actors"
	"github.com/angelmondragon/escrow-backend/internal/shipments"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
)

// ShipmentService is the shipment tracker surface exposed over HTTP.
type ShipmentService interface {
	Get(ctx context.Context, actor actors.Actor, shipmentID uuid.UUID) (*models.Shipment, error)
	MarkShipped(ctx context.Context, actor actors.Actor, input shipments.MarkShippedInput) (*models.Shipment, error)
	MarkInTransit(ctx context.Context, actor actors.Actor, shipmentID uuid.UUID) (*models.Shipment, error)
	ConfirmDelivery(ctx context.Context, actor actors.Actor, input shipments.ConfirmDeliveryInput) (*models.Shipment, error)
	ConfirmInPersonDelivery(ctx context.Context, actor actors.Actor, shipmentID uuid.UUID) (*models.Shipment, error)
	OpenDispute(ctx context.Context, actor actors.Actor, shipmentID uuid.UUID, reason string) (*models.Shipment, error)
}

type markShippedRequest struct {
	Carrier        string `json:"carrier" validate:"required,max=64"`
	TrackingNumber string `json:"tracking_number" validate:"required,max=128"`
	TrackingURL    string `json:"tracking_url" validate:"omitempty,url,max=512"`
	EstimatedDays  *int   `json:"estimated_days" validate:"omitempty,min=1,max=60"`
}

type confirmDeliveryRequest struct {
	Rating  *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Comment *string `json:"comment" validate:"omitempty,max=1000"`
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// shipmentAction adapts the single-id shipment operations.
func shipmentAction(logg *logger.Logger, run func(ctx context.Context, actor actors.Actor, id uuid.UUID, r *http.Request) (*models.Shipment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipmentID, err := validators.PathUUID(r, "shipmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		s, err := run(r.Context(), actor, shipmentID, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toShipmentResponse(s))
	}
}

func GetShipment(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return shipmentAction(logg, func(ctx context.Context, actor actors.Actor, id uuid.UUID, _ *http.Request) (*models.Shipment, error) {
		return svc.Get(ctx, actor, id)
	})
}

func MarkShipped(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return shipmentAction(logg, func(ctx context.Context, actor actors.Actor, id uuid.UUID, r *http.Request) (*models.Shipment, error) {
		var req markShippedRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return nil, err
		}
		return svc.MarkShipped(ctx, actor, shipments.MarkShippedInput{
			ShipmentID:     id,
			Carrier:        validators.SanitizeString(req.Carrier, 64),
			TrackingNumber: validators.SanitizeString(req.TrackingNumber, 128),
			TrackingURL:    validators.SanitizeString(req.TrackingURL, 512),
			EstimatedDays:  req.EstimatedDays,
		})
	})
}

func MarkInTransit(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return shipmentAction(logg, func(ctx context.Context, actor actors.Actor, id uuid.UUID, _ *http.Request) (*models.Shipment, error) {
		return svc.MarkInTransit(ctx, actor, id)
	})
}

// ConfirmDelivery accepts an empty body; rating and comment are optional.
func ConfirmDelivery(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return shipmentAction(logg, func(ctx context.Context, actor actors.Actor, id uuid.UUID, r *http.Request) (*models.Shipment, error) {
		var req confirmDeliveryRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			return nil, err
		}
		if req.Comment != nil {
			comment := validators.SanitizeString(*req.Comment, 1000)
			req.Comment = &comment
		}
		return svc.ConfirmDelivery(ctx, actor, shipments.ConfirmDeliveryInput{
			ShipmentID: id,
			Rating:     req.Rating,
			Comment:    req.Comment,
		})
	})
}

func ConfirmInPersonDelivery(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return shipmentAction(logg, func(ctx context.Context, actor actors.Actor, id uuid.UUID, _ *http.Request) (*models.Shipment, error) {
		return svc.ConfirmInPersonDelivery(ctx, actor, id)
	})
}

func OpenDispute(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return shipmentAction(logg, func(ctx context.Context, actor actors.Actor, id uuid.UUID, r *http.Request) (*models.Shipment, error) {
		var req disputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			return nil, err
		}
		return svc.OpenDispute(ctx, actor, id, validators.SanitizeString(req.Reason, 1000))
	})
}
