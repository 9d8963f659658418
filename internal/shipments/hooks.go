package shipments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
)

// Hooks is what the purchase ledger calls inside its transaction to open and
// close the companion shipment.
type Hooks struct {
	repo Repository
}

func NewHooks(repo Repository) *Hooks {
	return &Hooks{repo: repo}
}

func (h *Hooks) CreateForPurchase(ctx context.Context, tx *gorm.DB, purchase *models.Purchase, at time.Time) (*models.Shipment, error) {
	shipment := &models.Shipment{
		ID:         uuid.New(),
		PurchaseID: purchase.ID,
		Status:     enums.ShipmentStatusPendingShipment,
		PriceCents: purchase.ShippingPriceCents,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if err := h.repo.WithTx(tx).Create(ctx, shipment); err != nil {
		if db.IsUniqueViolation(err, "ux_shipments_purchase") || db.IsUniqueViolation(err, "shipments.purchase_id") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "shipment already exists for purchase")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment")
	}
	return shipment, nil
}

// CancelForPurchase cancels the shipment unless it already reached a terminal state.
func (h *Hooks) CancelForPurchase(ctx context.Context, tx *gorm.DB, purchaseID uuid.UUID, at time.Time) error {
	if err := h.repo.WithTx(tx).CancelOpenForPurchase(ctx, purchaseID, at); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel shipment")
	}
	return nil
}
