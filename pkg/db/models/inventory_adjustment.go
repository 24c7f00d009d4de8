package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/pkg/enums"
)

// InventoryAdjustment is the audit trail of manual stock changes.
type InventoryAdjustment struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID       string               `gorm:"column:tenant_id;not null;index"`
	SKU            string               `gorm:"column:sku;not null"`
	Type           enums.AdjustmentType `gorm:"column:type;not null"`
	Qty            int                  `gorm:"column:qty;not null"`
	Reason         string               `gorm:"column:reason;not null"`
	ActorSub       string               `gorm:"column:actor_sub;not null"`
	CorrelationID  string               `gorm:"column:correlation_id"`
	IdempotencyKey *string              `gorm:"column:idempotency_key"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (InventoryAdjustment) TableName() string {
	return "inventory_adjustments"
}
