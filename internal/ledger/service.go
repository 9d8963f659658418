package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
)

// Service records money movements for purchases. Each kind is written at most
// once per purchase; a second Record returns the stored entry.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.LedgerEntry, bool, error)
	Find(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID, kind enums.LedgerEntryKind) (*models.LedgerEntry, error)
	List(ctx context.Context, purchaseID uuid.UUID) ([]models.LedgerEntry, error)
}

type service struct {
	repo Repository
}

// RecordInput captures the immutable data a ledger entry requires.
type RecordInput struct {
	PurchaseID     uuid.UUID             `json:"purchase_id"`
	Kind           enums.LedgerEntryKind `json:"kind"`
	AmountCents    int64                 `json:"amount_cents"`
	Currency       string                `json:"currency"`
	GatewayRef     *string               `json:"gateway_ref,omitempty"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
	ActorUserID    *uuid.UUID            `json:"actor_user_id,omitempty"`
	Metadata       json.RawMessage       `json:"metadata,omitempty"`
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// Record writes the entry inside tx. The bool is false when an entry of the
// same kind already existed for the purchase.
func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.LedgerEntry, bool, error) {
	if input.PurchaseID == uuid.Nil {
		return nil, false, fmt.Errorf("purchase id is required")
	}
	if !input.Kind.IsValid() {
		return nil, false, fmt.Errorf("invalid ledger entry kind %q", input.Kind)
	}
	if input.AmountCents < 0 {
		return nil, false, fmt.Errorf("amount must be non-negative")
	}
	if input.Currency == "" {
		return nil, false, fmt.Errorf("currency is required")
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.FindByKind(ctx, input.PurchaseID, input.Kind)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	if existing != nil {
		return existing, false, nil
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		PurchaseID:  input.PurchaseID,
		Kind:        input.Kind,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		GatewayRef:  input.GatewayRef,
		ActorUserID: input.ActorUserID,
		Metadata:    input.Metadata,
	}
	if input.IdempotencyKey != "" {
		key := input.IdempotencyKey
		entry.IdempotencyKey = &key
	}
	if err := repo.Create(ctx, entry); err != nil {
		if db.IsUniqueViolation(err, "ux_ledger_entries_purchase_kind") {
			return nil, false, pkgerrors.New(pkgerrors.CodeConflict, "ledger entry already recorded")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger entry")
	}
	return entry, true, nil
}

// Find returns nil, nil when no entry of kind exists for the purchase.
func (s *service) Find(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID, kind enums.LedgerEntryKind) (*models.LedgerEntry, error) {
	entry, err := s.repo.WithTx(tx).FindByKind(ctx, purchaseID, kind)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	return entry, nil
}

func (s *service) List(ctx context.Context, purchaseID uuid.UUID) ([]models.LedgerEntry, error) {
	if purchaseID == uuid.Nil {
		return nil, fmt.Errorf("purchase id is required")
	}
	return s.repo.ListByPurchaseID(ctx, purchaseID)
}
