package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/internal/actors"
	"github.com/angelmondragon/escrow-backend/internal/notifications"
	"github.com/angelmondragon/escrow-backend/internal/payments"
	"github.com/angelmondragon/escrow-backend/internal/purchases"
	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/escrow-backend/pkg/storage/gcs"
)

// MaxEvidencePhotos caps the photos attached to one return request.
const MaxEvidencePhotos = 6

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PurchaseLedger is the slice of the purchase ledger the return workflow drives.
type PurchaseLedger interface {
	LockPurchase(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID) (*models.Purchase, error)
	RefundPurchaseTx(ctx context.Context, tx *gorm.DB, p *models.Purchase, actor actors.Actor, spec purchases.RefundSpec) (string, error)
}

// EvidenceStore keeps the photos a buyer attaches to a return.
type EvidenceStore interface {
	Upload(ctx context.Context, prefix string, file gcs.File) (string, error)
	Delete(ctx context.Context, url string) error
}

type Service struct {
	repo      Repository
	tx        txRunner
	purchases PurchaseLedger
	evidence  EvidenceStore
	notifier  notifications.Notifier
	logg      *logger.Logger
	now       func() time.Time
}

type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Purchases PurchaseLedger
	Evidence  EvidenceStore
	Notifier  notifications.Notifier
	Logger    *logger.Logger
	Clock     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("returns repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Purchases == nil:
		return nil, fmt.Errorf("purchase ledger required")
	case params.Evidence == nil:
		return nil, fmt.Errorf("evidence store required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:      params.Repo,
		tx:        params.Tx,
		purchases: params.Purchases,
		evidence:  params.Evidence,
		notifier:  params.Notifier,
		logg:      params.Logger,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

type RequestInput struct {
	PurchaseID  uuid.UUID
	Reason      string
	Description string
	Photos      []gcs.File
}

type RespondInput struct {
	ReturnID uuid.UUID
	Accept   bool
	Note     string
}

type MarkShippedInput struct {
	ReturnID       uuid.UUID
	Carrier        string
	TrackingNumber string
}

// Request opens a return on a delivered or completed purchase. Evidence is
// uploaded first and removed again if the return cannot be stored.
func (s *Service) Request(ctx context.Context, actor actors.Actor, input RequestInput) (*models.Return, error) {
	reason := strings.TrimSpace(input.Reason)
	if input.PurchaseID == uuid.Nil || reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id and reason required")
	}
	if len(input.Photos) > MaxEvidencePhotos {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d photos allowed", MaxEvidencePhotos)
	}

	p, err := s.repo.FindPurchase(ctx, input.PurchaseID)
	if err != nil {
		return nil, purchaseNotFoundOr(err)
	}
	if err := checkReturnable(actor, p); err != nil {
		return nil, err
	}
	live, err := s.repo.FindLiveByPurchaseID(ctx, p.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load live return")
	}
	if live != nil {
		return nil, liveReturnConflict(live.ID)
	}

	urls, err := s.uploadEvidence(ctx, p.ID, input.Photos)
	if err != nil {
		return nil, err
	}

	var ret *models.Return
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.purchases.LockPurchase(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if err := checkReturnable(actor, locked); err != nil {
			return err
		}
		now := s.now()
		ret = &models.Return{
			ID:           uuid.New(),
			PurchaseID:   locked.ID,
			BuyerID:      locked.BuyerID,
			SellerID:     locked.SellerID,
			Status:       enums.ReturnStatusRequested,
			Reason:       reason,
			Description:  strings.TrimSpace(input.Description),
			EvidenceURLs: pq.StringArray(urls),
			RequestedAt:  now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.WithTx(tx).Create(ctx, ret); err != nil {
			if db.IsUniqueViolation(err, "ux_returns_live_per_purchase") || db.IsUniqueViolation(err, "returns.purchase_id") {
				return liveReturnConflict(uuid.Nil)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create return")
		}
		return s.publish(ctx, tx, actor, enums.EventReturnRequested, ret, []uuid.UUID{ret.SellerID}, "")
	})
	if err != nil {
		s.discardEvidence(ctx, urls)
		return nil, err
	}

	s.logg.Info(s.logCtx(ctx, ret), "return requested")
	return ret, nil
}

// Respond lets the seller accept or reject a requested return.
func (s *Service) Respond(ctx context.Context, actor actors.Actor, input RespondInput) (*models.Return, error) {
	target := enums.ReturnStatusRejected
	event := enums.EventReturnRejected
	if input.Accept {
		target = enums.ReturnStatusAccepted
		event = enums.EventReturnAccepted
	}
	note := strings.TrimSpace(input.Note)

	ret, err := s.mutate(ctx, input.ReturnID, func(tx *gorm.DB, _ *models.Purchase, ret *models.Return) error {
		if err := actor.Require(returnParticipants(ret), actors.Seller); err != nil {
			return err
		}
		now := s.now()
		updates := map[string]any{
			"status":       target,
			"responded_at": now,
			"updated_at":   now,
		}
		if note != "" {
			updates["seller_note"] = note
			ret.SellerNote = &note
		}
		if target == enums.ReturnStatusRejected {
			updates["resolved_at"] = now
			ret.ResolvedAt = &now
		}
		ret.RespondedAt = &now
		if err := s.apply(ctx, tx, ret, target, updates); err != nil {
			return err
		}
		return s.publish(ctx, tx, actor, event, ret, []uuid.UUID{ret.BuyerID}, note)
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// MarkReturnShipped records the buyer sending the item back.
func (s *Service) MarkReturnShipped(ctx context.Context, actor actors.Actor, input MarkShippedInput) (*models.Return, error) {
	carrier := strings.TrimSpace(input.Carrier)
	tracking := strings.TrimSpace(input.TrackingNumber)
	if carrier == "" || tracking == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier and tracking number required")
	}

	ret, err := s.mutate(ctx, input.ReturnID, func(tx *gorm.DB, _ *models.Purchase, ret *models.Return) error {
		if err := actor.Require(returnParticipants(ret), actors.Buyer); err != nil {
			return err
		}
		now := s.now()
		ret.ReturnCarrier = &carrier
		ret.ReturnTracking = &tracking
		ret.ShippedAt = &now
		if err := s.apply(ctx, tx, ret, enums.ReturnStatusReturnShipped, map[string]any{
			"status":          enums.ReturnStatusReturnShipped,
			"return_carrier":  carrier,
			"return_tracking": tracking,
			"shipped_at":      now,
			"updated_at":      now,
		}); err != nil {
			return err
		}
		return s.publish(ctx, tx, actor, enums.EventReturnShipped, ret, []uuid.UUID{ret.SellerID}, "")
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// ConfirmReceipt refunds the buyer once the seller has the item back. The
// return only completes after the gateway accepted the refund; on failure it
// stays RETURN_SHIPPED and the call can be repeated.
func (s *Service) ConfirmReceipt(ctx context.Context, actor actors.Actor, returnID uuid.UUID) (*models.Return, error) {
	ret, err := s.mutate(ctx, returnID, func(tx *gorm.DB, p *models.Purchase, ret *models.Return) error {
		if err := actor.Require(returnParticipants(ret), actors.Seller, actors.AdminCap); err != nil {
			return err
		}
		if ret.Status == enums.ReturnStatusCompleted {
			return nil
		}
		if ret.Status != enums.ReturnStatusReturnShipped {
			return stateError("return has not been shipped back", ret.Status, enums.ReturnStatusCompleted)
		}

		refundRef, err := s.purchases.RefundPurchaseTx(ctx, tx, p, actor, purchases.RefundSpec{
			Key:    payments.ReturnRefundKey(ret.ID),
			Reason: "return: " + ret.Reason,
		})
		if err != nil {
			return err
		}

		now := s.now()
		ret.RefundRef = &refundRef
		ret.ResolvedAt = &now
		if err := s.apply(ctx, tx, ret, enums.ReturnStatusCompleted, map[string]any{
			"status":      enums.ReturnStatusCompleted,
			"refund_ref":  refundRef,
			"resolved_at": now,
			"updated_at":  now,
		}); err != nil {
			return err
		}
		return s.publish(ctx, tx, actor, enums.EventReturnCompleted, ret, []uuid.UUID{ret.BuyerID, ret.SellerID}, "")
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) Get(ctx context.Context, actor actors.Actor, returnID uuid.UUID) (*models.Return, error) {
	ret, err := s.repo.FindByID(ctx, returnID)
	if err != nil {
		return nil, notFoundOr(err, "load return")
	}
	if err := actor.Require(returnParticipants(ret), actors.Buyer, actors.Seller, actors.AdminCap, actors.SystemCap); err != nil {
		return nil, err
	}
	return ret, nil
}

// GetForPurchase returns the live return of a purchase, or its most recent one.
func (s *Service) GetForPurchase(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID) (*models.Return, error) {
	ret, err := s.repo.FindLiveByPurchaseID(ctx, purchaseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load live return")
	}
	if ret == nil {
		ret, err = s.repo.FindLatestByPurchaseID(ctx, purchaseID)
		if err != nil {
			return nil, notFoundOr(err, "load return")
		}
	}
	if err := actor.Require(returnParticipants(ret), actors.Buyer, actors.Seller, actors.AdminCap, actors.SystemCap); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) uploadEvidence(ctx context.Context, purchaseID uuid.UUID, photos []gcs.File) ([]string, error) {
	urls := make([]string, 0, len(photos))
	prefix := "returns/" + purchaseID.String()
	for _, photo := range photos {
		url, err := s.evidence.Upload(ctx, prefix, photo)
		if err != nil {
			s.discardEvidence(ctx, urls)
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (s *Service) discardEvidence(ctx context.Context, urls []string) {
	ctx = context.WithoutCancel(ctx)
	for _, url := range urls {
		if err := s.evidence.Delete(ctx, url); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "evidence_url", url), "failed to delete orphaned evidence", err)
		}
	}
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, ret *models.Return, to enums.ReturnStatus, updates map[string]any) error {
	from := ret.Status
	if !from.CanTransitionTo(to) {
		return stateError("return transition not allowed", from, to)
	}
	ok, err := s.repo.WithTx(tx).UpdateFromStatus(ctx, ret.ID, from, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update return")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "return was modified concurrently")
	}
	ret.Status = to
	if at, ok := updates["updated_at"].(time.Time); ok {
		ret.UpdatedAt = at
	}
	s.logg.Info(s.logg.WithFields(s.logCtx(ctx, ret), map[string]any{"from": from, "to": to}), "return transitioned")
	return nil
}

// mutate locks the purchase and then the return before running fn.
func (s *Service) mutate(ctx context.Context, returnID uuid.UUID, fn func(tx *gorm.DB, p *models.Purchase, ret *models.Return) error) (*models.Return, error) {
	if returnID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "return id required")
	}
	current, err := s.repo.FindByID(ctx, returnID)
	if err != nil {
		return nil, notFoundOr(err, "load return")
	}

	var ret *models.Return
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := s.purchases.LockPurchase(ctx, tx, current.PurchaseID)
		if err != nil {
			return err
		}
		locked, err := s.repo.WithTx(tx).LockByID(ctx, returnID)
		if err != nil {
			return notFoundOr(err, "lock return")
		}
		if err := fn(tx, p, locked); err != nil {
			return err
		}
		ret = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, actor actors.Actor, eventType enums.OutboxEventType, ret *models.Return, recipients []uuid.UUID, note string) error {
	returnID := ret.ID
	return s.notifier.Enqueue(ctx, tx, enums.NotificationChannelChat, notifications.Event{
		Type:        eventType,
		AggregateID: ret.ID,
		Actor:       actor,
		Payload: payloads.EscrowEvent{
			PurchaseID: ret.PurchaseID,
			ReturnID:   &returnID,
			BuyerID:    ret.BuyerID,
			SellerID:   ret.SellerID,
			Recipients: recipients,
			Status:     string(ret.Status),
			Note:       note,
		},
	})
}

func (s *Service) logCtx(ctx context.Context, ret *models.Return) context.Context {
	return s.logg.WithFields(ctx, map[string]any{
		"return_id":   ret.ID.String(),
		"purchase_id": ret.PurchaseID.String(),
	})
}

func checkReturnable(actor actors.Actor, p *models.Purchase) error {
	if err := actor.Require(actors.Participants{BuyerID: p.BuyerID, SellerID: p.SellerID}, actors.Buyer); err != nil {
		return err
	}
	if p.Status != enums.PurchaseStatusCompleted && p.Status != enums.PurchaseStatusDelivered {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only delivered purchases can be returned").
			WithDetails(map[string]any{"status": p.Status})
	}
	return nil
}

func returnParticipants(ret *models.Return) actors.Participants {
	return actors.Participants{BuyerID: ret.BuyerID, SellerID: ret.SellerID}
}

func liveReturnConflict(existing uuid.UUID) error {
	err := pkgerrors.New(pkgerrors.CodeConflict, "a return is already open for this purchase")
	if existing != uuid.Nil {
		return err.WithDetails(map[string]any{"return_id": existing})
	}
	return err
}

func stateError(message string, from, to enums.ReturnStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, message).
		WithDetails(map[string]any{"status": from, "target": to})
}

func purchaseNotFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load purchase")
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "return not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
