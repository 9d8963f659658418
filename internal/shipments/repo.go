package shipments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// Repository persists shipments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, shipment *models.Shipment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	FindByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*models.Shipment, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	UpdateFromStatus(ctx context.Context, id uuid.UUID, from enums.ShipmentStatus, updates map[string]any) (bool, error)
	CancelOpenForPurchase(ctx context.Context, purchaseID uuid.UUID, at time.Time) error
	ListShippedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Shipment, error)
	Participants(ctx context.Context, purchaseID uuid.UUID) (buyerID, sellerID uuid.UUID, err error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&shipment).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) FindByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).Where("purchase_id = ?", purchaseID).Take(&shipment).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).Take(&shipment).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

// UpdateFromStatus applies updates only while the shipment is still in from.
func (r *repository) UpdateFromStatus(ctx context.Context, id uuid.UUID, from enums.ShipmentStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) CancelOpenForPurchase(ctx context.Context, purchaseID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("purchase_id = ? AND status IN ?", purchaseID, []enums.ShipmentStatus{
			enums.ShipmentStatusPendingShipment,
			enums.ShipmentStatusShipped,
			enums.ShipmentStatusInTransit,
		}).
		Updates(map[string]any{
			"status":       enums.ShipmentStatusCancelled,
			"cancelled_at": at,
			"updated_at":   at,
		}).Error
}

// ListShippedBefore returns shipments still SHIPPED whose shipped_at is older
// than cutoff, oldest first.
func (r *repository) ListShippedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Shipment, error) {
	var rows []models.Shipment
	query := r.db.WithContext(ctx).
		Where("status = ? AND shipped_at IS NOT NULL AND shipped_at < ?", enums.ShipmentStatusShipped, cutoff).
		Order("shipped_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Participants(ctx context.Context, purchaseID uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	var row struct {
		BuyerID  uuid.UUID
		SellerID uuid.UUID
	}
	err := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Select("buyer_id, seller_id").
		Where("id = ?", purchaseID).
		Take(&row).Error
	return row.BuyerID, row.SellerID, err
}
