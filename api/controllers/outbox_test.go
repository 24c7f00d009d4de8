package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
	"github.com/rmartins/orderflow-backend/pkg/types"
)

type stubOutboxAdmin struct {
	events     []models.OutboxEvent
	listStatus enums.OutboxStatus
	requeued   []uuid.UUID
	requeueErr error
}

func (s *stubOutboxAdmin) List(ctx context.Context, tenantID string, status enums.OutboxStatus, limit int) ([]models.OutboxEvent, error) {
	s.listStatus = status
	return s.events, nil
}

func (s *stubOutboxAdmin) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	if s.requeueErr != nil {
		return s.requeueErr
	}
	s.requeued = append(s.requeued, id)
	return nil
}

func outboxRouter(admin OutboxAdmin) http.Handler {
	logg := testLogger()
	r := chi.NewRouter()
	r.Get("/outbox/events", ListOutboxEvents(admin, logg))
	r.Post("/outbox/events/{eventId}/requeue", RequeueOutboxEvent(admin, logg))
	return r
}

func TestListOutboxEventsFiltersByStatus(t *testing.T) {
	admin := &stubOutboxAdmin{events: []models.OutboxEvent{{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Status:        enums.OutboxStatusDead,
		Attempts:      7,
	}}}
	router := outboxRouter(admin)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/outbox/events?status=dead", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if admin.listStatus != enums.OutboxStatusDead {
		t.Fatalf("expected dead status filter, got %q", admin.listStatus)
	}

	var body types.SuccessEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	items, ok := body.Data.([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one event in response, got %v", body.Data)
	}
}

func TestListOutboxEventsRejectsBadStatus(t *testing.T) {
	router := outboxRouter(&stubOutboxAdmin{})

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/outbox/events?status=bogus", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRequeueOutboxEvent(t *testing.T) {
	admin := &stubOutboxAdmin{}
	router := outboxRouter(admin)
	id := uuid.New()

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/outbox/events/"+id.String()+"/requeue", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(admin.requeued) != 1 || admin.requeued[0] != id {
		t.Fatalf("expected requeue of %s, got %v", id, admin.requeued)
	}
}

func TestRequeueOutboxEventNotDead(t *testing.T) {
	admin := &stubOutboxAdmin{requeueErr: outbox.ErrNotRequeueable}
	router := outboxRouter(admin)

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/outbox/events/"+uuid.NewString()+"/requeue", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequeueOutboxEventBadID(t *testing.T) {
	router := outboxRouter(&stubOutboxAdmin{})

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/outbox/events/not-a-uuid/requeue", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
