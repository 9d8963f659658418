package returns

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// Repository persists returns.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, ret *models.Return) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Return, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Return, error)
	FindLiveByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*models.Return, error)
	FindLatestByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*models.Return, error)
	UpdateFromStatus(ctx context.Context, id uuid.UUID, from enums.ReturnStatus, updates map[string]any) (bool, error)
	FindPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.Purchase, error)
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

func (r *repository) Create(ctx context.Context, ret *models.Return) error {
	return r.db.WithContext(ctx).Create(ret).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Return, error) {
	var ret models.Return
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&ret).Error; err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Return, error) {
	var ret models.Return
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).Take(&ret).Error; err != nil {
		return nil, err
	}
	return &ret, nil
}

// FindLiveByPurchaseID returns nil, nil when the purchase has no open return.
func (r *repository) FindLiveByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*models.Return, error) {
	var ret models.Return
	err := r.db.WithContext(ctx).
		Where("purchase_id = ? AND status IN ?", purchaseID, enums.LiveReturnStatuses).
		Take(&ret).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *repository) FindLatestByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*models.Return, error) {
	var ret models.Return
	if err := r.db.WithContext(ctx).
		Where("purchase_id = ?", purchaseID).
		Order("requested_at DESC").
		Take(&ret).Error; err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *repository) UpdateFromStatus(ctx context.Context, id uuid.UUID, from enums.ReturnStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Return{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// FindPurchase is an unlocked read used to vet a request before evidence is uploaded.
func (r *repository) FindPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.Purchase, error) {
	var p models.Purchase
	if err := r.db.WithContext(ctx).Where("id = ?", purchaseID).Take(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
