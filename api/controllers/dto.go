package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/api/validators"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

type purchaseResponse struct {
	ID             uuid.UUID               `json:"id"`
	BuyerID        uuid.UUID               `json:"buyer_id"`
	SellerID       uuid.UUID               `json:"seller_id"`
	ProductID      uuid.UUID               `json:"product_id"`
	Status         enums.PurchaseStatus    `json:"status"`
	FinalPrice     string                  `json:"final_price"`
	ShippingPrice  string                  `json:"shipping_price"`
	Total          string                  `json:"total"`
	Currency       string                  `json:"currency"`
	DeliveryMethod *enums.DeliveryMethod   `json:"delivery_method,omitempty"`
	Address        *models.AddressSnapshot `json:"address,omitempty"`
	Version        int64                   `json:"version"`
	PaidAt         *time.Time              `json:"paid_at,omitempty"`
	ShippedAt      *time.Time              `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time              `json:"delivered_at,omitempty"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
	DisputedAt     *time.Time              `json:"disputed_at,omitempty"`
	CancelledAt    *time.Time              `json:"cancelled_at,omitempty"`
	RefundedAt     *time.Time              `json:"refunded_at,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

func toPurchaseResponse(p *models.Purchase) purchaseResponse {
	resp := purchaseResponse{
		ID:             p.ID,
		BuyerID:        p.BuyerID,
		SellerID:       p.SellerID,
		ProductID:      p.ProductID,
		Status:         p.Status,
		FinalPrice:     validators.FormatCents(p.FinalPriceCents),
		ShippingPrice:  validators.FormatCents(p.ShippingPriceCents),
		Total:          validators.FormatCents(p.TotalCents()),
		Currency:       p.Currency,
		DeliveryMethod: p.DeliveryMethod,
		Version:        p.Version,
		PaidAt:         p.PaidAt,
		ShippedAt:      p.ShippedAt,
		DeliveredAt:    p.DeliveredAt,
		CompletedAt:    p.CompletedAt,
		DisputedAt:     p.DisputedAt,
		CancelledAt:    p.CancelledAt,
		RefundedAt:     p.RefundedAt,
		CreatedAt:      p.CreatedAt,
	}
	if p.DeliveryMethod != nil && *p.DeliveryMethod == enums.DeliveryMethodParcel {
		addr := p.Address
		resp.Address = &addr
	}
	return resp
}

type shipmentResponse struct {
	ID                  uuid.UUID            `json:"id"`
	PurchaseID          uuid.UUID            `json:"purchase_id"`
	Status              enums.ShipmentStatus `json:"status"`
	Carrier             *string              `json:"carrier,omitempty"`
	TrackingNumber      *string              `json:"tracking_number,omitempty"`
	TrackingURL         *string              `json:"tracking_url,omitempty"`
	Price               string               `json:"price"`
	EstimatedDeliveryAt *time.Time           `json:"estimated_delivery_at,omitempty"`
	ShippedAt           *time.Time           `json:"shipped_at,omitempty"`
	InTransitAt         *time.Time           `json:"in_transit_at,omitempty"`
	DeliveredAt         *time.Time           `json:"delivered_at,omitempty"`
	ConfirmedBy         *string              `json:"confirmed_by,omitempty"`
	IncidentAt          *time.Time           `json:"incident_at,omitempty"`
	IncidentReason      *string              `json:"incident_reason,omitempty"`
	CancelledAt         *time.Time           `json:"cancelled_at,omitempty"`
	BuyerRating         *int                 `json:"buyer_rating,omitempty"`
	BuyerComment        *string              `json:"buyer_comment,omitempty"`
}

func toShipmentResponse(s *models.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:                  s.ID,
		PurchaseID:          s.PurchaseID,
		Status:              s.Status,
		Carrier:             s.Carrier,
		TrackingNumber:      s.TrackingNumber,
		TrackingURL:         s.TrackingURL,
		Price:               validators.FormatCents(s.PriceCents),
		EstimatedDeliveryAt: s.EstimatedDeliveryAt,
		ShippedAt:           s.ShippedAt,
		InTransitAt:         s.InTransitAt,
		DeliveredAt:         s.DeliveredAt,
		ConfirmedBy:         s.ConfirmedBy,
		IncidentAt:          s.IncidentAt,
		IncidentReason:      s.IncidentReason,
		CancelledAt:         s.CancelledAt,
		BuyerRating:         s.BuyerRating,
		BuyerComment:        s.BuyerComment,
	}
}

type returnResponse struct {
	ID             uuid.UUID          `json:"id"`
	PurchaseID     uuid.UUID          `json:"purchase_id"`
	Status         enums.ReturnStatus `json:"status"`
	Reason         string             `json:"reason"`
	Description    string             `json:"description,omitempty"`
	EvidenceURLs   []string           `json:"evidence_urls"`
	SellerNote     *string            `json:"seller_note,omitempty"`
	ReturnCarrier  *string            `json:"return_carrier,omitempty"`
	ReturnTracking *string            `json:"return_tracking,omitempty"`
	RefundRef      *string            `json:"refund_ref,omitempty"`
	RequestedAt    time.Time          `json:"requested_at"`
	RespondedAt    *time.Time         `json:"responded_at,omitempty"`
	ShippedAt      *time.Time         `json:"shipped_at,omitempty"`
	ResolvedAt     *time.Time         `json:"resolved_at,omitempty"`
}

func toReturnResponse(r *models.Return) returnResponse {
	urls := []string(r.EvidenceURLs)
	if urls == nil {
		urls = []string{}
	}
	return returnResponse{
		ID:             r.ID,
		PurchaseID:     r.PurchaseID,
		Status:         r.Status,
		Reason:         r.Reason,
		Description:    r.Description,
		EvidenceURLs:   urls,
		SellerNote:     r.SellerNote,
		ReturnCarrier:  r.ReturnCarrier,
		ReturnTracking: r.ReturnTracking,
		RefundRef:      r.RefundRef,
		RequestedAt:    r.RequestedAt,
		RespondedAt:    r.RespondedAt,
		ShippedAt:      r.ShippedAt,
		ResolvedAt:     r.ResolvedAt,
	}
}
