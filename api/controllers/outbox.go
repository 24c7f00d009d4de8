package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/api/middleware"
	"github.com/rmartins/orderflow-backend/api/responses"
	"github.com/rmartins/orderflow-backend/api/validators"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

// OutboxAdmin is the operator surface over the outbox store.
type OutboxAdmin interface {
	List(ctx context.Context, tenantID string, status enums.OutboxStatus, limit int) ([]models.OutboxEvent, error)
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error
}

type outboxEventResponse struct {
	ID            uuid.UUID                 `json:"id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   uuid.UUID                 `json:"aggregate_id"`
	Status        enums.OutboxStatus        `json:"status"`
	Attempts      int                       `json:"attempts"`
	AvailableAt   time.Time                 `json:"available_at"`
	LastError     *string                   `json:"last_error,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// ListOutboxEvents returns the tenant's outbox rows, optionally filtered by
// status, newest first.
func ListOutboxEvents(admin OutboxAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status enums.OutboxStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err = enums.ParseOutboxStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
		}

		events, err := admin.List(r.Context(), principal.TenantID, status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]outboxEventResponse, 0, len(events))
		for i := range events {
			evt := &events[i]
			out = append(out, outboxEventResponse{
				ID:            evt.ID,
				EventType:     evt.EventType,
				AggregateType: evt.AggregateType,
				AggregateID:   evt.AggregateID,
				Status:        evt.Status,
				Attempts:      evt.Attempts,
				AvailableAt:   evt.AvailableAt,
				LastError:     evt.LastError,
				CreatedAt:     evt.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// RequeueOutboxEvent puts a dead event back on the pending queue.
func RequeueOutboxEvent(admin OutboxAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "eventId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id"))
			return
		}

		if err := admin.Requeue(r.Context(), id, time.Now().UTC()); err != nil {
			if errors.Is(err, outbox.ErrNotRequeueable) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "event is not dead"))
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "requeued"})
	}
}
