package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/pkg/enums"
)

// Order is the saga root aggregate. Status transitions form a DAG:
// CREATED -> RESERVED | CANCELLED, RESERVED -> CONFIRMED | CANCELLED,
// CONFIRMED -> PAID. PAID and CANCELLED are terminal.
type Order struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID   string            `gorm:"column:tenant_id;not null;index"`
	CustomerID string            `gorm:"column:customer_id;not null"`
	Status     enums.OrderStatus `gorm:"column:status;not null;default:'CREATED'"`
	Items      []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}
