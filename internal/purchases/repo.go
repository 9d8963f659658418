package purchases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/escrow-backend/pkg/db"
	"github.com/angelmondragon/escrow-backend/pkg/db/models"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// errStaleVersion is returned when a versioned update matched no row.
var errStaleVersion = errors.New("purchase version changed")

// Repository persists purchases, their product reservation and seller reputation.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	UpdateVersioned(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) error
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ReserveProduct(ctx context.Context, productID, purchaseID uuid.UUID) (bool, error)
	MarkProductSold(ctx context.Context, productID, purchaseID uuid.UUID) (bool, error)
	ReleaseProduct(ctx context.Context, productID, purchaseID uuid.UUID) error
	IncrementReputation(ctx context.Context, sellerID uuid.UUID, at time.Time) error
	CompletedSales(ctx context.Context, sellerID uuid.UUID) (int64, error)
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

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&purchase).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

// LockByID loads the purchase with a row lock held until the transaction ends.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).Take(&purchase).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

// UpdateVersioned applies updates only while the stored version still equals
// version, bumping it by one.
func (r *repository) UpdateVersioned(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) error {
	updates["version"] = version + 1
	res := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errStaleVersion
	}
	return nil
}

func (r *repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// ReserveProduct flips an available product to reserved for purchaseID. It
// reports false when someone else got there first.
func (r *repository) ReserveProduct(ctx context.Context, productID, purchaseID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND status = ?", productID, enums.ProductStatusAvailable).
		Updates(map[string]any{
			"status":                  enums.ProductStatusReserved,
			"reserved_by_purchase_id": purchaseID,
			"updated_at":              time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkProductSold(ctx context.Context, productID, purchaseID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND reserved_by_purchase_id = ? AND status = ?", productID, purchaseID, enums.ProductStatusReserved).
		Updates(map[string]any{
			"status":     enums.ProductStatusSold,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// ReleaseProduct makes the product available again if purchaseID holds it.
func (r *repository) ReleaseProduct(ctx context.Context, productID, purchaseID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND reserved_by_purchase_id = ?", productID, purchaseID).
		Updates(map[string]any{
			"status":                  enums.ProductStatusAvailable,
			"reserved_by_purchase_id": nil,
			"updated_at":              time.Now().UTC(),
		}).Error
}

func (r *repository) IncrementReputation(ctx context.Context, sellerID uuid.UUID, at time.Time) error {
	row := models.SellerReputation{SellerID: sellerID, CompletedSales: 1, UpdatedAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "seller_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"completed_sales": gorm.Expr("seller_reputations.completed_sales + 1"),
			"updated_at":      at,
		}),
	}).Create(&row).Error
}

func (r *repository) CompletedSales(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	var rep models.SellerReputation
	err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).Take(&rep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return rep.CompletedSales, err
}
