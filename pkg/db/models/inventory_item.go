package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks available/reserved counts per tenant and SKU.
// Reservation moves quantity between the two columns; their sum only
// changes through manual adjustments.
type InventoryItem struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID     string    `gorm:"column:tenant_id;not null;uniqueIndex:ux_inventory_tenant_sku"`
	SKU          string    `gorm:"column:sku;not null;uniqueIndex:ux_inventory_tenant_sku"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	ReservedQty  int       `gorm:"column:reserved_qty;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryItem) TableName() string {
	return "inventory_items"
}
