package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem captures the snapshot of each line within an order.
type OrderItem struct {
	ID      uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	SKU     string          `gorm:"column:sku;not null"`
	Qty     int             `gorm:"column:qty;not null"`
	Price   decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
}

func (OrderItem) TableName() string {
	return "order_items"
}
