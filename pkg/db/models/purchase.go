package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

// AddressSnapshot is copied onto the purchase at payment time so later profile
// edits never change where a parcel was sent.
type AddressSnapshot struct {
	Name     string `gorm:"column:name" json:"name"`
	Street   string `gorm:"column:street" json:"street"`
	City     string `gorm:"column:city" json:"city"`
	Postcode string `gorm:"column:postcode" json:"postcode"`
	Country  string `gorm:"column:country" json:"country"`
	Phone    string `gorm:"column:phone" json:"phone"`
}

// Purchase is the aggregate root for one buyer/product transaction.
type Purchase struct {
	ID                 uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID            uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID           uuid.UUID             `gorm:"column:seller_id;type:uuid;not null"`
	ProductID          uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	Status             enums.PurchaseStatus  `gorm:"column:status;type:purchase_status;not null"`
	PaymentRef         *string               `gorm:"column:payment_ref"`
	FinalPriceCents    int64                 `gorm:"column:final_price_cents;not null"`
	ShippingPriceCents int64                 `gorm:"column:shipping_price_cents;not null;default:0"`
	Currency           string                `gorm:"column:currency;not null"`
	DeliveryMethod     *enums.DeliveryMethod `gorm:"column:delivery_method;type:delivery_method"`
	Address            AddressSnapshot       `gorm:"embedded;embeddedPrefix:ship_"`
	Version            int64                 `gorm:"column:version;not null;default:0"`
	PaidAt             *time.Time            `gorm:"column:paid_at"`
	ShippedAt          *time.Time            `gorm:"column:shipped_at"`
	DeliveredAt        *time.Time            `gorm:"column:delivered_at"`
	CompletedAt        *time.Time            `gorm:"column:completed_at"`
	DisputedAt         *time.Time            `gorm:"column:disputed_at"`
	CancelledAt        *time.Time            `gorm:"column:cancelled_at"`
	RefundedAt         *time.Time            `gorm:"column:refunded_at"`
	CreatedAt          time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalCents is the amount captured from the buyer.
func (p Purchase) TotalCents() int64 {
	return p.FinalPriceCents + p.ShippingPriceCents
}
