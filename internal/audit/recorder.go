package audit

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/logger"
)

// Entry describes a recorded action. Detail is marshaled to jsonb.
type Entry struct {
	TenantID      string
	ActorSub      string
	Action        string
	Target        string
	Detail        any
	CorrelationID string
}

// Recorder persists audit entries. Writes ride the caller's transaction so
// an audit row never outlives a rolled-back mutation.
type Recorder struct {
	logg *logger.Logger
}

func NewRecorder(logg *logger.Logger) *Recorder {
	return &Recorder{logg: logg}
}

// Record writes the entry inside tx. Marshal failures are reported; the
// caller decides whether to abort the surrounding transaction.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	var detail json.RawMessage
	if entry.Detail != nil {
		raw, err := json.Marshal(entry.Detail)
		if err != nil {
			return err
		}
		detail = raw
	}

	row := models.AuditLog{
		TenantID:      entry.TenantID,
		ActorSub:      entry.ActorSub,
		Action:        entry.Action,
		Target:        entry.Target,
		Detail:        detail,
		CorrelationID: entry.CorrelationID,
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	if r.logg != nil {
		fields := map[string]any{
			"action":    entry.Action,
			"target":    entry.Target,
			"tenant_id": entry.TenantID,
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "audit entry recorded")
	}
	return nil
}
