package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog records who did what to which aggregate, with the correlation id
// that ties the entry to the originating request.
type AuditLog struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID      string          `gorm:"column:tenant_id;not null;index"`
	ActorSub      string          `gorm:"column:actor_sub;not null"`
	Action        string          `gorm:"column:action;not null"`
	Target        string          `gorm:"column:target;not null"`
	Detail        json.RawMessage `gorm:"column:detail;type:jsonb"`
	CorrelationID string          `gorm:"column:correlation_id"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
