package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/pkg/enums"
)

// OutboxEvent is an append-only record of an intent to publish a domain
// event, written in the same transaction as the aggregate mutation that
// produced it. Rows are never deleted; status only moves pending -> sent
// or pending -> dead.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID      string                    `gorm:"column:tenant_id;not null;index"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Status        enums.OutboxStatus        `gorm:"column:status;not null;default:'pending'"`
	Attempts      int                       `gorm:"column:attempts;not null;default:0"`
	AvailableAt   time.Time                 `gorm:"column:available_at;not null"`
	LockedAt      *time.Time                `gorm:"column:locked_at"`
	LockedBy      *string                   `gorm:"column:locked_by"`
	LastError     *string                   `gorm:"column:last_error"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
