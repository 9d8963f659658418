package shipments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/internal/actors"
	"github.com/angelmondragon/escrow-backend/internal/notifications"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/payloads"
)

// DefaultGracePeriod is how long a shipped parcel waits for the buyer before
// the sweeper confirms it.
const DefaultGracePeriod = 7 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PurchaseLedger is the slice of the purchase ledger the tracker drives.
type PurchaseLedger interface {
	LockPurchase(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID) (*models.Purchase, error)
	TransitionTx(ctx context.Context, tx *gorm.DB, p *models.Purchase, to enums.PurchaseStatus, actor actors.Actor) error
	CompleteFromDeliveryTx(ctx context.Context, tx *gorm.DB, p *models.Purchase, actor actors.Actor) (bool, error)
}

type Service struct {
	repo      Repository
	tx        txRunner
	purchases PurchaseLedger
	notifier  notifications.Notifier
	logg      *logger.Logger
	now       func() time.Time
	grace     time.Duration
}

type ServiceParams struct {
	Repo        Repository
	Tx          txRunner
	Purchases   PurchaseLedger
	Notifier    notifications.Notifier
	Logger      *logger.Logger
	Clock       func() time.Time
	GracePeriod time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("shipments repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Purchases == nil:
		return nil, fmt.Errorf("purchase ledger required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	grace := params.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Service{
		repo:      params.Repo,
		tx:        params.Tx,
		purchases: params.Purchases,
		notifier:  params.Notifier,
		logg:      params.Logger,
		now:       func() time.Time { return clock().UTC() },
		grace:     grace,
	}, nil
}

type MarkShippedInput struct {
	ShipmentID     uuid.UUID
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	EstimatedDays  *int
}

type ConfirmDeliveryInput struct {
	ShipmentID uuid.UUID
	Rating     *int
	Comment    *string
}

// SweepResult summarises one auto-confirm pass.
type SweepResult struct {
	Scanned   int
	Confirmed int
	Skipped   int
	Failed    int
}

// MarkShipped records the carrier hand-off and moves the purchase to SHIPPED.
func (s *Service) MarkShipped(ctx context.Context, actor actors.Actor, input MarkShippedInput) (*models.Shipment, error) {
	carrier := strings.TrimSpace(input.Carrier)
	tracking := strings.TrimSpace(input.TrackingNumber)
	if carrier == "" || tracking == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier and tracking number required")
	}
	if input.EstimatedDays != nil && *input.EstimatedDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "estimated days must be non-negative")
	}

	shipment, _, err := s.mutate(ctx, input.ShipmentID, func(tx *gorm.DB, p *models.Purchase, sh *models.Shipment) (bool, error) {
		if err := actor.Require(participants(p), actors.Seller); err != nil {
			return false, err
		}
		if sh.Status != enums.ShipmentStatusPendingShipment {
			return false, stateError("shipment already left the seller", sh.Status, enums.ShipmentStatusShipped)
		}
		if p.DeliveryMethod != nil && *p.DeliveryMethod == enums.DeliveryMethodInPerson {
			return false, pkgerrors.New(pkgerrors.CodeStateConflict, "in-person purchases are not shipped")
		}

		now := s.now()
		updates := map[string]any{
			"status":          enums.ShipmentStatusShipped,
			"carrier":         carrier,
			"tracking_number": tracking,
			"shipped_at":      now,
			"updated_at":      now,
		}
		sh.Carrier = &carrier
		sh.TrackingNumber = &tracking
		if url := strings.TrimSpace(input.TrackingURL); url != "" {
			updates["tracking_url"] = url
			sh.TrackingURL = &url
		}
		if input.EstimatedDays != nil {
			days := *input.EstimatedDays
			eta := now.AddDate(0, 0, days)
			updates["estimated_days"] = days
			updates["estimated_delivery_at"] = eta
			sh.EstimatedDays = &days
			sh.EstimatedDeliveryAt = &eta
		}
		if err := s.apply(ctx, tx, sh, enums.ShipmentStatusShipped, updates); err != nil {
			return false, err
		}
		sh.ShippedAt = &now
		if err := s.purchases.TransitionTx(ctx, tx, p, enums.PurchaseStatusShipped, actor); err != nil {
			return false, err
		}
		return true, s.publish(ctx, tx, actor, enums.EventShipmentShipped, p, sh, "")
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

// MarkInTransit records a carrier scan after pickup. The purchase is unaffected.
func (s *Service) MarkInTransit(ctx context.Context, actor actors.Actor, shipmentID uuid.UUID) (*models.Shipment, error) {
	shipment, _, err := s.mutate(ctx, shipmentID, func(tx *gorm.DB, p *models.Purchase, sh *models.Shipment) (bool, error) {
		if err := actor.Require(participants(p), actors.Seller, actors.AdminCap); err != nil {
			return false, err
		}
		if sh.Status == enums.ShipmentStatusInTransit {
			return false, nil
		}
		if sh.Status != enums.ShipmentStatusShipped {
			return false, stateError("shipment is not shipped", sh.Status, enums.ShipmentStatusInTransit)
		}
		now := s.now()
		if err := s.apply(ctx, tx, sh, enums.ShipmentStatusInTransit, map[string]any{
			"status":        enums.ShipmentStatusInTransit,
			"in_transit_at": now,
			"updated_at":    now,
		}); err != nil {
			return false, err
		}
		sh.InTransitAt = &now
		return true, s.publish(ctx, tx, actor, enums.EventShipmentInTransit, p, sh, "")
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

// ConfirmDelivery closes an in-flight shipment and settles the purchase. A
// shipment that is already DELIVERED is returned unchanged.
func (s *Service) ConfirmDelivery(ctx context.Context, actor actors.Actor, input ConfirmDeliveryInput) (*models.Shipment, error) {
	shipment, _, err := s.confirmDelivery(ctx, actor, input)
	return shipment, err
}

func (s *Service) confirmDelivery(ctx context.Context, actor actors.Actor, input ConfirmDeliveryInput) (*models.Shipment, bool, error) {
	if input.Rating != nil && (*input.Rating < 1 || *input.Rating > 5) {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5")
	}

	return s.mutate(ctx, input.ShipmentID, func(tx *gorm.DB, p *models.Purchase, sh *models.Shipment) (bool, error) {
		if err := actor.Require(participants(p), actors.Buyer, actors.AdminCap, actors.SystemCap); err != nil {
			return false, err
		}
		if sh.Status == enums.ShipmentStatusDelivered {
			return false, nil
		}
		if !sh.Status.InFlight() {
			return false, stateError("shipment is not in flight", sh.Status, enums.ShipmentStatusDelivered)
		}

		extra := map[string]any{}
		if input.Rating != nil {
			rating := *input.Rating
			extra["buyer_rating"] = rating
			sh.BuyerRating = &rating
		}
		if input.Comment != nil {
			comment := strings.TrimSpace(*input.Comment)
			extra["buyer_comment"] = comment
			sh.BuyerComment = &comment
		}
		if err := s.deliver(ctx, tx, p, sh, actor, extra); err != nil {
			return false, err
		}
		return true, s.publish(ctx, tx, actor, enums.EventShipmentDelivered, p, sh, "")
	})
}

// ConfirmInPersonDelivery records a hand-over without a carrier. Carrier
// fields are left as they are.
func (s *Service) ConfirmInPersonDelivery(ctx context.Context, actor actors.Actor, shipmentID uuid.UUID) (*models.Shipment, error) {
	shipment, _, err := s.mutate(ctx, shipmentID, func(tx *gorm.DB, p *models.Purchase, sh *models.Shipment) (bool, error) {
		if err := actor.Require(participants(p), actors.Buyer, actors.AdminCap); err != nil {
			return false, err
		}
		if sh.Status == enums.ShipmentStatusDelivered {
			return false, nil
		}
		if sh.Status != enums.ShipmentStatusPendingShipment && !sh.Status.InFlight() {
			return false, stateError("shipment cannot be handed over", sh.Status, enums.ShipmentStatusDelivered)
		}
		if sh.Status == enums.ShipmentStatusPendingShipment && (p.DeliveryMethod == nil || *p.DeliveryMethod != enums.DeliveryMethodInPerson) {
			return false, stateError("parcel has not been shipped", sh.Status, enums.ShipmentStatusDelivered)
		}
		if err := s.deliver(ctx, tx, p, sh, actor, nil); err != nil {
			return false, err
		}
		return true, s.publish(ctx, tx, actor, enums.EventShipmentDelivered, p, sh, "")
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

// OpenDispute flags an in-flight shipment and freezes the funds: the purchase
// moves to DISPUTED and no gateway call is made.
func (s *Service) OpenDispute(ctx context.Context, actor actors.Actor, shipmentID uuid.UUID, reason string) (*models.Shipment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute reason required")
	}

	shipment, _, err := s.mutate(ctx, shipmentID, func(tx *gorm.DB, p *models.Purchase, sh *models.Shipment) (bool, error) {
		if err := actor.Require(participants(p), actors.Buyer, actors.AdminCap); err != nil {
			return false, err
		}
		if !sh.Status.InFlight() {
			return false, stateError("only in-flight shipments can be disputed", sh.Status, enums.ShipmentStatusIncident)
		}
		now := s.now()
		if err := s.apply(ctx, tx, sh, enums.ShipmentStatusIncident, map[string]any{
			"status":          enums.ShipmentStatusIncident,
			"incident_at":     now,
			"incident_reason": reason,
			"updated_at":      now,
		}); err != nil {
			return false, err
		}
		sh.IncidentAt = &now
		sh.IncidentReason = &reason
		if err := s.purchases.TransitionTx(ctx, tx, p, enums.PurchaseStatusDisputed, actor); err != nil {
			return false, err
		}
		return true, s.publish(ctx, tx, actor, enums.EventShipmentDisputed, p, sh, reason)
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

func (s *Service) Get(ctx context.Context, actor actors.Actor, shipmentID uuid.UUID) (*models.Shipment, error) {
	sh, err := s.repo.FindByID(ctx, shipmentID)
	if err != nil {
		return nil, notFoundOr(err, "load shipment")
	}
	buyerID, sellerID, err := s.repo.Participants(ctx, sh.PurchaseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchase parties")
	}
	if err := actor.Require(actors.Participants{BuyerID: buyerID, SellerID: sellerID}, actors.Buyer, actors.Seller, actors.AdminCap, actors.SystemCap); err != nil {
		return nil, err
	}
	return sh, nil
}

// AutoConfirmSweep confirms shipments left in SHIPPED past the grace period
// on the buyer's behalf. Each shipment is settled in its own transaction; a
// shipment that moved on since it was listed counts as skipped.
func (s *Service) AutoConfirmSweep(ctx context.Context, limit int) (SweepResult, error) {
	var result SweepResult
	cutoff := s.now().Add(-s.grace)
	overdue, err := s.repo.ListShippedBefore(ctx, cutoff, limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list overdue shipments")
	}
	result.Scanned = len(overdue)

	var errs error
	for _, sh := range overdue {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		itemCtx := s.logg.WithFields(ctx, map[string]any{
			"shipment_id": sh.ID.String(),
			"purchase_id": sh.PurchaseID.String(),
		})
		_, changed, err := s.confirmDelivery(itemCtx, actors.System(), ConfirmDeliveryInput{ShipmentID: sh.ID})
		switch {
		case err == nil && changed:
			result.Confirmed++
		case err == nil, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), pkgerrors.IsCode(err, pkgerrors.CodeConflict):
			result.Skipped++
			s.logg.Info(itemCtx, "auto-confirm skipped shipment")
		default:
			result.Failed++
			s.logg.Error(itemCtx, "auto-confirm failed", err)
			errs = multierr.Append(errs, fmt.Errorf("shipment %s: %w", sh.ID, err))
		}
	}
	return result, errs
}

// deliver marks sh DELIVERED and walks the purchase through to COMPLETED.
func (s *Service) deliver(ctx context.Context, tx *gorm.DB, p *models.Purchase, sh *models.Shipment, actor actors.Actor, extra map[string]any) error {
	now := s.now()
	confirmedBy := actor.Ref()
	updates := map[string]any{
		"status":       enums.ShipmentStatusDelivered,
		"delivered_at": now,
		"confirmed_by": confirmedBy,
		"updated_at":   now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := s.apply(ctx, tx, sh, enums.ShipmentStatusDelivered, updates); err != nil {
		return err
	}
	sh.DeliveredAt = &now
	sh.ConfirmedBy = &confirmedBy

	if p.Status == enums.PurchaseStatusPaid {
		if err := s.purchases.TransitionTx(ctx, tx, p, enums.PurchaseStatusShipped, actor); err != nil {
			return err
		}
	}
	if p.Status == enums.PurchaseStatusShipped {
		if err := s.purchases.TransitionTx(ctx, tx, p, enums.PurchaseStatusDelivered, actor); err != nil {
			return err
		}
	}
	_, err := s.purchases.CompleteFromDeliveryTx(ctx, tx, p, actor)
	return err
}

// apply moves sh to status, guarded by its current status.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, sh *models.Shipment, to enums.ShipmentStatus, updates map[string]any) error {
	from := sh.Status
	if !from.CanTransitionTo(to) {
		return stateError("shipment transition not allowed", from, to)
	}
	ok, err := s.repo.WithTx(tx).UpdateFromStatus(ctx, sh.ID, from, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "shipment was modified concurrently")
	}
	sh.Status = to
	if at, ok := updates["updated_at"].(time.Time); ok {
		sh.UpdatedAt = at
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"shipment_id": sh.ID.String(),
		"purchase_id": sh.PurchaseID.String(),
		"from":        from,
		"to":          to,
	})
	s.logg.Info(logCtx, "shipment transitioned")
	return nil
}

// mutate runs fn in a transaction holding the purchase lock and then the
// shipment lock, in that order. fn reports whether it changed anything.
func (s *Service) mutate(ctx context.Context, shipmentID uuid.UUID, fn func(tx *gorm.DB, p *models.Purchase, sh *models.Shipment) (bool, error)) (*models.Shipment, bool, error) {
	if shipmentID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "shipment id required")
	}
	current, err := s.repo.FindByID(ctx, shipmentID)
	if err != nil {
		return nil, false, notFoundOr(err, "load shipment")
	}

	var (
		shipment *models.Shipment
		changed  bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := s.purchases.LockPurchase(ctx, tx, current.PurchaseID)
		if err != nil {
			return err
		}
		sh, err := s.repo.WithTx(tx).LockByID(ctx, shipmentID)
		if err != nil {
			return notFoundOr(err, "lock shipment")
		}
		changed, err = fn(tx, p, sh)
		if err != nil {
			return err
		}
		shipment = sh
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return shipment, changed, nil
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, actor actors.Actor, eventType enums.OutboxEventType, p *models.Purchase, sh *models.Shipment, note string) error {
	shipmentID := sh.ID
	return s.notifier.Enqueue(ctx, tx, enums.NotificationChannelChat, notifications.Event{
		Type:        eventType,
		AggregateID: sh.ID,
		Actor:       actor,
		Payload: payloads.EscrowEvent{
			PurchaseID: p.ID,
			ShipmentID: &shipmentID,
			BuyerID:    p.BuyerID,
			SellerID:   p.SellerID,
			Recipients: []uuid.UUID{p.BuyerID, p.SellerID},
			Status:     string(sh.Status),
			Note:       note,
		},
	})
}

func participants(p *models.Purchase) actors.Participants {
	return actors.Participants{BuyerID: p.BuyerID, SellerID: p.SellerID}
}

func stateError(message string, from, to enums.ShipmentStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, message).
		WithDetails(map[string]any{"status": from, "target": to})
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
