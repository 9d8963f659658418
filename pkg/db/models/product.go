package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// Product is the minimal listing view the escrow engine needs: who sells it
// and whether it is free to buy.
type Product struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	SellerID             uuid.UUID           `gorm:"column:seller_id;type:uuid;not null"`
	Title                string              `gorm:"column:title;not null"`
	PriceCents           int64               `gorm:"column:price_cents;not null"`
	Status               enums.ProductStatus `gorm:"column:status;type:product_status;not null"`
	ReservedByPurchaseID *uuid.UUID          `gorm:"column:reserved_by_purchase_id;type:uuid"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// SellerReputation counts completed sales per seller.
type SellerReputation struct {
	SellerID       uuid.UUID `gorm:"column:seller_id;type:uuid;primaryKey"`
	CompletedSales int64     `gorm:"column:completed_sales;not null;default:0"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
