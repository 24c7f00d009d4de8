package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmartins/orderflow-backend/pkg/config"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
)

// ErrNotRequeueable is returned when a requeue targets a row that is not in
// the dead state.
var ErrNotRequeueable = errors.New("outbox event is not dead")

// RetryPolicy controls how failed publish attempts are rescheduled.
type RetryPolicy struct {
	MaxAttempts        int
	BackoffCapExponent int
	MaxBackoff         time.Duration
	StaleLockAfter     time.Duration
}

// PolicyFromConfig maps the outbox configuration onto a RetryPolicy.
func PolicyFromConfig(cfg config.OutboxConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        cfg.MaxAttempts,
		BackoffCapExponent: cfg.BackoffCapExponent,
		MaxBackoff:         time.Duration(cfg.MaxBackoffSeconds) * time.Second,
		StaleLockAfter:     time.Duration(cfg.StaleLockSeconds) * time.Second,
	}
}

// Backoff returns the delay before the given attempt count may be retried:
// 2^attempts seconds, with the exponent capped, and the whole delay capped
// at MaxBackoff.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	exp := attempts
	if exp > p.BackoffCapExponent {
		exp = p.BackoffCapExponent
	}
	if exp < 0 {
		exp = 0
	}
	delay := time.Duration(1<<uint(exp)) * time.Second
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

type Repository struct {
	db     *gorm.DB
	policy RetryPolicy
}

func NewRepository(db *gorm.DB, policy RetryPolicy) *Repository {
	return &Repository{db: db, policy: policy}
}

// Insert appends an event inside the caller's transaction. The row must be
// written atomically with the aggregate mutation that produced it.
func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if event.AvailableAt.IsZero() {
		event.AvailableAt = time.Now().UTC()
	}
	return tx.Create(event).Error
}

// FetchClaimable returns pending rows whose availability has arrived and
// whose lock is either absent or stale, oldest first.
func (r *Repository) FetchClaimable(ctx context.Context, limit int, now time.Time) ([]models.OutboxEvent, error) {
	staleBefore := now.Add(-r.policy.StaleLockAfter)
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OutboxStatusPending).
		Where("available_at <= ?", now).
		Where("locked_at IS NULL OR locked_at < ?", staleBefore).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Claim takes the publish lock on a fetched row. The update only succeeds
// when locked_at still holds the value observed at fetch time, so two
// dispatchers racing on the same row resolve to exactly one winner.
func (r *Repository) Claim(ctx context.Context, event models.OutboxEvent, workerID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", event.ID, enums.OutboxStatusPending).
		Where("locked_at IS NOT DISTINCT FROM ?", event.LockedAt).
		Updates(map[string]any{
			"locked_at": now,
			"locked_by": workerID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkSent finalizes a successfully published row. Terminal rows are never
// touched again.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusPending).
		Updates(map[string]any{
			"status":    enums.OutboxStatusSent,
			"locked_at": nil,
			"locked_by": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("outbox event %s not pending", id)
	}
	return nil
}

// FailureChanges computes the column updates for one failed publish
// attempt: the lock is released, the attempt counter advances, and the row
// either reschedules after the policy backoff or goes dead once attempts
// reach the cap. A dead row carries no available_at update; nothing will
// ever schedule it again.
func (p RetryPolicy) FailureChanges(event models.OutboxEvent, cause error, now time.Time) (enums.OutboxStatus, map[string]any) {
	attempts := event.Attempts + 1
	updates := map[string]any{
		"attempts":  attempts,
		"locked_at": nil,
		"locked_by": nil,
	}
	if cause != nil {
		updates["last_error"] = cause.Error()
	}

	status := enums.OutboxStatusPending
	if attempts >= p.MaxAttempts {
		status = enums.OutboxStatusDead
		updates["status"] = status
	} else {
		updates["available_at"] = now.Add(p.Backoff(attempts))
	}
	return status, updates
}

// MarkFailed records a publish failure per FailureChanges. The status guard
// keeps the update from touching a row that already went terminal.
func (r *Repository) MarkFailed(ctx context.Context, event models.OutboxEvent, cause error, now time.Time) (enums.OutboxStatus, error) {
	status, updates := r.policy.FailureChanges(event, cause, now)

	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", event.ID, enums.OutboxStatusPending).
		Updates(updates)
	if res.Error != nil {
		return status, res.Error
	}
	return status, nil
}

// CountPending reports the retryable backlog size.
func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status = ?", enums.OutboxStatusPending).
		Count(&count).Error
	return count, err
}

// List returns events for a tenant, optionally filtered by status, newest
// first. Used by the admin surface.
func (r *Repository) List(ctx context.Context, tenantID string, status enums.OutboxStatus, limit int) ([]models.OutboxEvent, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var rows []models.OutboxEvent
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Requeue puts a dead event back on the pending queue with a reset attempt
// counter. This is an operator override of the normal terminal state.
func (r *Repository) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusDead).
		Updates(map[string]any{
			"status":       enums.OutboxStatusPending,
			"attempts":     0,
			"available_at": now,
			"locked_at":    nil,
			"locked_by":    nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("outbox event %s: %w", id, ErrNotRequeueable)
	}
	return nil
}
