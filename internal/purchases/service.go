package purchases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/internal/actors"
	"github.com/angelmondragon/escrow-backend/internal/ledger"
	"github.com/angelmondragon/escrow-backend/internal/notifications"
	"github.com/angelmondragon/escrow-backend/internal/payments"
	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, input ledger.RecordInput) (*models.LedgerEntry, bool, error)
	Find(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID, kind enums.LedgerEntryKind) (*models.LedgerEntry, error)
}

// ShipmentHooks lets the ledger create and cancel the companion shipment
// inside its own transaction.
type ShipmentHooks interface {
	CreateForPurchase(ctx context.Context, tx *gorm.DB, purchase *models.Purchase, at time.Time) (*models.Shipment, error)
	CancelForPurchase(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID, at time.Time) error
}

// Service is the purchase ledger. Public operations run their own
// transaction; the *Tx helpers join a transaction owned by the shipment or
// return workflow, which must already hold the purchase lock.
type Service struct {
	repo      Repository
	tx        txRunner
	ledger    ledgerRecorder
	gateway   payments.Gateway
	shipments ShipmentHooks
	notifier  notifications.Notifier
	logg      *logger.Logger
	now       func() time.Time
}

type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Ledger    ledgerRecorder
	Gateway   payments.Gateway
	Shipments ShipmentHooks
	Notifier  notifications.Notifier
	Logger    *logger.Logger
	Clock     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("purchases repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Shipments == nil:
		return nil, fmt.Errorf("shipment hooks required")
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
		ledger:    params.Ledger,
		gateway:   params.Gateway,
		shipments: params.Shipments,
		notifier:  params.Notifier,
		logg:      params.Logger,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

// ConfirmPaymentInput is the "payment confirmed" signal for a pending purchase.
type ConfirmPaymentInput struct {
	PurchaseID         uuid.UUID
	PaymentRef         string
	DeliveryMethod     enums.DeliveryMethod
	Address            models.AddressSnapshot
	ShippingPriceCents int64
}

func (in ConfirmPaymentInput) validate() error {
	if in.PurchaseID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "purchase id required")
	}
	if strings.TrimSpace(in.PaymentRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	if !in.DeliveryMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery method")
	}
	if in.ShippingPriceCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping price must be non-negative")
	}
	if in.DeliveryMethod == enums.DeliveryMethodParcel {
		a := in.Address
		missing := []string{}
		for field, value := range map[string]string{
			"name": a.Name, "street": a.Street, "city": a.City, "postcode": a.Postcode, "country": a.Country,
		} {
			if strings.TrimSpace(value) == "" {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "shipping address incomplete").
				WithDetails(map[string]any{"missing": missing})
		}
	}
	return nil
}

// ConfirmPayment moves a pending purchase to PAID: it reserves the product,
// opens the shipment and captures the funds, all in one transaction.
func (s *Service) ConfirmPayment(ctx context.Context, actor actors.Actor, input ConfirmPaymentInput) (*models.Purchase, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	var purchase *models.Purchase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		p, err := s.LockPurchase(ctx, tx, input.PurchaseID)
		if err != nil {
			return err
		}
		if err := actor.Require(participants(p), actors.Buyer, actors.AdminCap, actors.SystemCap); err != nil {
			return err
		}
		if p.Status != enums.PurchaseStatusPending {
			if p.PaymentRef != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment already confirmed for purchase").
					WithDetails(map[string]any{"status": p.Status})
			}
			return stateError("payment cannot be confirmed", p.Status, enums.PurchaseStatusPaid)
		}

		product, err := repo.FindProduct(ctx, p.ProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
		}
		if product.Status != enums.ProductStatusAvailable {
			return productUnavailable(product.Status)
		}
		reserved, err := repo.ReserveProduct(ctx, p.ProductID, p.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve product")
		}
		if !reserved {
			return productUnavailable(enums.ProductStatusReserved)
		}

		ref := strings.TrimSpace(input.PaymentRef)
		method := input.DeliveryMethod
		p.PaymentRef = &ref
		p.DeliveryMethod = &method
		p.Address = input.Address
		p.ShippingPriceCents = input.ShippingPriceCents
		if err := s.transition(ctx, tx, p, enums.PurchaseStatusPaid, actor, map[string]any{
			"payment_ref":          ref,
			"delivery_method":      method,
			"shipping_price_cents": input.ShippingPriceCents,
			"ship_name":            input.Address.Name,
			"ship_street":          input.Address.Street,
			"ship_city":            input.Address.City,
			"ship_postcode":        input.Address.Postcode,
			"ship_country":         input.Address.Country,
			"ship_phone":           input.Address.Phone,
		}); err != nil {
			return err
		}

		if _, err := s.shipments.CreateForPurchase(ctx, tx, p, s.now()); err != nil {
			return err
		}

		key := payments.CaptureKey(p.ID)
		result, err := s.gateway.Capture(ctx, payments.CaptureRequest{
			PaymentRef:     ref,
			AmountCents:    p.TotalCents(),
			Currency:       p.Currency,
			IdempotencyKey: key,
		})
		if err != nil {
			return err
		}
		if _, _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			PurchaseID:     p.ID,
			Kind:           enums.LedgerEntryCapture,
			AmountCents:    p.TotalCents(),
			Currency:       p.Currency,
			GatewayRef:     &result.Reference,
			IdempotencyKey: key,
			ActorUserID:    actor.UserIDPtr(),
		}); err != nil {
			return err
		}
		purchase = p
		return s.publish(ctx, tx, actor, enums.EventPurchasePaid, p, "")
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// Cancel aborts a purchase that has not been delivered. Captured funds are
// refunded before the purchase is marked CANCELLED.
func (s *Service) Cancel(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID) (*models.Purchase, error) {
	if purchaseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id required")
	}

	var purchase *models.Purchase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := s.LockPurchase(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if err := actor.Require(participants(p), actors.Buyer, actors.Seller, actors.AdminCap); err != nil {
			return err
		}
		purchase = p
		switch p.Status {
		case enums.PurchaseStatusCancelled:
			return nil
		case enums.PurchaseStatusPending, enums.PurchaseStatusPaid, enums.PurchaseStatusShipped:
		default:
			return stateError("purchase can no longer be cancelled", p.Status, enums.PurchaseStatusCancelled)
		}

		if p.Status.Captured() {
			if _, err := s.refundFunds(ctx, tx, p, actor, RefundSpec{Key: payments.CancelRefundKey(p.ID), Reason: "purchase cancelled"}); err != nil {
				return err
			}
		}
		if err := s.transition(ctx, tx, p, enums.PurchaseStatusCancelled, actor, nil); err != nil {
			return err
		}
		if err := s.shipments.CancelForPurchase(ctx, tx, p.ID, s.now()); err != nil {
			return err
		}
		return s.publish(ctx, tx, actor, enums.EventPurchaseCancelled, p, "")
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// AdminRefund returns the buyer's money for any captured purchase.
func (s *Service) AdminRefund(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID, reason string) error {
	if purchaseID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "purchase id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := s.LockPurchase(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if err := actor.Require(participants(p), actors.AdminCap); err != nil {
			return err
		}
		if p.Status == enums.PurchaseStatusRefunded {
			return nil
		}
		if reason == "" {
			reason = "refunded by admin"
		}
		if _, err := s.RefundPurchaseTx(ctx, tx, p, actor, RefundSpec{Key: payments.AdminRefundKey(p.ID), Reason: reason}); err != nil {
			return err
		}
		return s.publish(ctx, tx, actor, enums.EventPurchaseRefunded, p, reason)
	})
}

// AdminRelease resolves a dispute in the seller's favour.
func (s *Service) AdminRelease(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID) (*models.Purchase, error) {
	if purchaseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id required")
	}

	var purchase *models.Purchase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		p, err := s.LockPurchase(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if err := actor.Require(participants(p), actors.AdminCap); err != nil {
			return err
		}
		purchase = p
		if p.Status == enums.PurchaseStatusCompleted {
			return nil
		}
		if p.Status != enums.PurchaseStatusDisputed {
			return stateError("only disputed purchases can be released", p.Status, enums.PurchaseStatusCompleted)
		}
		changed, err := s.CompleteFromDeliveryTx(ctx, tx, p, actor)
		if err != nil || !changed {
			return err
		}
		return s.publish(ctx, tx, actor, enums.EventPurchaseCompleted, p, "")
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

func (s *Service) Get(ctx context.Context, actor actors.Actor, purchaseID uuid.UUID) (*models.Purchase, error) {
	p, err := s.repo.FindByID(ctx, purchaseID)
	if err != nil {
		return nil, notFoundOr(err, "load purchase")
	}
	if err := actor.Require(participants(p), actors.Buyer, actors.Seller, actors.AdminCap); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) CompletedSales(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	return s.repo.CompletedSales(ctx, sellerID)
}

// LockPurchase loads and row-locks the purchase inside tx.
func (s *Service) LockPurchase(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID) (*models.Purchase, error) {
	p, err := s.repo.WithTx(tx).LockByID(ctx, purchaseID)
	if err != nil {
		return nil, notFoundOr(err, "lock purchase")
	}
	return p, nil
}

// TransitionTx applies a documented purchase edge inside tx.
func (s *Service) TransitionTx(ctx context.Context, tx *gorm.DB, p *models.Purchase, to enums.PurchaseStatus, actor actors.Actor) error {
	return s.transition(ctx, tx, p, to, actor, nil)
}

// CompleteFromDeliveryTx settles a delivered or disputed purchase: COMPLETED,
// product SOLD, funds released to the seller and one more completed sale on
// the seller's record. It reports false when the purchase was already settled.
func (s *Service) CompleteFromDeliveryTx(ctx context.Context, tx *gorm.DB, p *models.Purchase, actor actors.Actor) (bool, error) {
	if p.Status == enums.PurchaseStatusCompleted {
		return false, nil
	}
	if err := s.transition(ctx, tx, p, enums.PurchaseStatusCompleted, actor, nil); err != nil {
		return false, err
	}

	meta, _ := json.Marshal(map[string]any{"seller_id": p.SellerID})
	_, created, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
		PurchaseID:  p.ID,
		Kind:        enums.LedgerEntryRelease,
		AmountCents: p.TotalCents(),
		Currency:    p.Currency,
		ActorUserID: actor.UserIDPtr(),
		Metadata:    meta,
	})
	if err != nil {
		return false, err
	}
	if !created {
		return true, nil
	}
	if err := s.repo.WithTx(tx).IncrementReputation(ctx, p.SellerID, s.now()); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment seller reputation")
	}
	return true, nil
}

// RefundSpec names the refund for the gateway and the ledger.
type RefundSpec struct {
	Key    string
	Reason string
}

// RefundPurchaseTx refunds the captured amount and moves the purchase to
// REFUNDED. The gateway is called at most once per purchase; later calls
// return the stored refund reference.
func (s *Service) RefundPurchaseTx(ctx context.Context, tx *gorm.DB, p *models.Purchase, actor actors.Actor, spec RefundSpec) (string, error) {
	if p.Status != enums.PurchaseStatusRefunded && !p.Status.CanTransitionTo(enums.PurchaseStatusRefunded) {
		return "", stateError("purchase cannot be refunded", p.Status, enums.PurchaseStatusRefunded)
	}
	ref, err := s.refundFunds(ctx, tx, p, actor, spec)
	if err != nil {
		return "", err
	}
	if p.Status == enums.PurchaseStatusRefunded {
		return ref, nil
	}
	if err := s.transition(ctx, tx, p, enums.PurchaseStatusRefunded, actor, nil); err != nil {
		return "", err
	}
	if err := s.shipments.CancelForPurchase(ctx, tx, p.ID, s.now()); err != nil {
		return "", err
	}
	return ref, nil
}

// refundFunds pays the buyer back at most once per purchase, whichever flow
// asks first. Later callers get the stored gateway reference.
func (s *Service) refundFunds(ctx context.Context, tx *gorm.DB, p *models.Purchase, actor actors.Actor, spec RefundSpec) (string, error) {
	existing, err := s.ledger.Find(ctx, tx, p.ID, enums.LedgerEntryRefund)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.GatewayRef != nil {
			return *existing.GatewayRef, nil
		}
		return "", nil
	}
	if p.PaymentRef == nil || *p.PaymentRef == "" {
		return "", stateError("purchase has no captured payment", p.Status, enums.PurchaseStatusRefunded)
	}
	result, err := s.gateway.Refund(ctx, payments.RefundRequest{
		PaymentRef:     *p.PaymentRef,
		AmountCents:    p.TotalCents(),
		Currency:       p.Currency,
		Reason:         spec.Reason,
		IdempotencyKey: spec.Key,
	})
	if err != nil {
		return "", err
	}
	entry, _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
		PurchaseID:     p.ID,
		Kind:           enums.LedgerEntryRefund,
		AmountCents:    p.TotalCents(),
		Currency:       p.Currency,
		GatewayRef:     &result.Reference,
		IdempotencyKey: spec.Key,
		ActorUserID:    actor.UserIDPtr(),
	})
	if err != nil {
		return "", err
	}
	if entry.GatewayRef != nil {
		return *entry.GatewayRef, nil
	}
	return result.Reference, nil
}

func (s *Service) transition(ctx context.Context, tx *gorm.DB, p *models.Purchase, to enums.PurchaseStatus, actor actors.Actor, extra map[string]any) error {
	from := p.Status
	if !from.CanTransitionTo(to) {
		return stateError("purchase transition not allowed", from, to)
	}

	now := s.now()
	stamp := !(to == enums.PurchaseStatusShipped && inPerson(p))
	updates := map[string]any{"status": to, "updated_at": now}
	if column := timestampColumn(to); column != "" && stamp {
		updates[column] = now
	}
	for k, v := range extra {
		updates[k] = v
	}

	repo := s.repo.WithTx(tx)
	if err := repo.UpdateVersioned(ctx, p.ID, p.Version, updates); err != nil {
		if errors.Is(err, errStaleVersion) {
			return pkgerrors.New(pkgerrors.CodeConflict, "purchase was modified concurrently")
		}
		if db.IsUniqueViolation(err, "ux_purchases_product_reserving") {
			return productUnavailable(enums.ProductStatusReserved)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update purchase")
	}

	switch to {
	case enums.PurchaseStatusCancelled, enums.PurchaseStatusRefunded:
		if err := repo.ReleaseProduct(ctx, p.ProductID, p.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release product")
		}
	case enums.PurchaseStatusCompleted:
		if _, err := repo.MarkProductSold(ctx, p.ProductID, p.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark product sold")
		}
	}

	p.Status = to
	p.Version++
	p.UpdatedAt = now
	if stamp {
		setTimestamp(p, to, now)
	}

	logCtx := s.logg.WithPurchaseID(ctx, p.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"from":       from,
		"to":         to,
		"actor_kind": actor.Kind,
	})
	s.logg.Info(logCtx, "purchase transitioned")
	return nil
}

func (s *Service) publish(ctx context.Context, tx *gorm.DB, actor actors.Actor, eventType enums.OutboxEventType, p *models.Purchase, note string) error {
	return s.notifier.Enqueue(ctx, tx, enums.NotificationChannelChat, notifications.Event{
		Type:        eventType,
		AggregateID: p.ID,
		Actor:       actor,
		Payload: payloads.EscrowEvent{
			PurchaseID: p.ID,
			BuyerID:    p.BuyerID,
			SellerID:   p.SellerID,
			Recipients: []uuid.UUID{p.BuyerID, p.SellerID},
			Status:     string(p.Status),
			Note:       note,
		},
	})
}

func timestampColumn(status enums.PurchaseStatus) string {
	switch status {
	case enums.PurchaseStatusPaid:
		return "paid_at"
	case enums.PurchaseStatusShipped:
		return "shipped_at"
	case enums.PurchaseStatusDelivered:
		return "delivered_at"
	case enums.PurchaseStatusCompleted:
		return "completed_at"
	case enums.PurchaseStatusDisputed:
		return "disputed_at"
	case enums.PurchaseStatusCancelled:
		return "cancelled_at"
	case enums.PurchaseStatusRefunded:
		return "refunded_at"
	}
	return ""
}

// inPerson purchases pass through SHIPPED on hand-over without a shipping date.
func inPerson(p *models.Purchase) bool {
	return p.DeliveryMethod != nil && *p.DeliveryMethod == enums.DeliveryMethodInPerson
}

func setTimestamp(p *models.Purchase, status enums.PurchaseStatus, at time.Time) {
	ts := at
	switch status {
	case enums.PurchaseStatusPaid:
		p.PaidAt = &ts
	case enums.PurchaseStatusShipped:
		p.ShippedAt = &ts
	case enums.PurchaseStatusDelivered:
		p.DeliveredAt = &ts
	case enums.PurchaseStatusCompleted:
		p.CompletedAt = &ts
	case enums.PurchaseStatusDisputed:
		p.DisputedAt = &ts
	case enums.PurchaseStatusCancelled:
		p.CancelledAt = &ts
	case enums.PurchaseStatusRefunded:
		p.RefundedAt = &ts
	}
}

func participants(p *models.Purchase) actors.Participants {
	return actors.Participants{BuyerID: p.BuyerID, SellerID: p.SellerID}
}

func stateError(message string, from, to enums.PurchaseStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, message).
		WithDetails(map[string]any{"status": from, "target": to})
}

func productUnavailable(status enums.ProductStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "product is not available").
		WithDetails(map[string]any{"product_status": status})
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
