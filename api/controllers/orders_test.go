package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/api/middleware"
	internalorders "github.com/rmartins/orderflow-backend/internal/orders"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/logger"
)

type stubOrdersService struct {
	created   *models.Order
	replayed  bool
	createErr error
	confirm   []internalorders.ActionInput
	cancel    []internalorders.ActionInput
	actionErr error
	order     *models.Order
	getErr    error
}

func (s *stubOrdersService) Create(ctx context.Context, input internalorders.CreateInput) (*models.Order, bool, error) {
	if s.createErr != nil {
		return nil, false, s.createErr
	}
	return s.created, s.replayed, nil
}

func (s *stubOrdersService) Confirm(ctx context.Context, input internalorders.ActionInput) error {
	if s.actionErr != nil {
		return s.actionErr
	}
	s.confirm = append(s.confirm, input)
	return nil
}

func (s *stubOrdersService) Cancel(ctx context.Context, input internalorders.ActionInput) error {
	if s.actionErr != nil {
		return s.actionErr
	}
	s.cancel = append(s.cancel, input)
	return nil
}

func (s *stubOrdersService) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.order, nil
}

func (s *stubOrdersService) List(ctx context.Context, input internalorders.ListInput) ([]models.Order, string, error) {
	if s.order == nil {
		return nil, "", nil
	}
	return []models.Order{*s.order}, "next-cursor", nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test", Output: io.Discard})
}

func withPrincipal(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{
		TenantID: "acme",
		Subject:  "user-1",
	}))
}

func ordersRouter(svc internalorders.Service) http.Handler {
	logg := testLogger()
	r := chi.NewRouter()
	r.Post("/orders", CreateOrder(svc, logg))
	r.Get("/orders/{orderId}", GetOrder(svc, logg))
	r.Post("/orders/{orderId}/confirm", ConfirmOrder(svc, logg))
	r.Post("/orders/{orderId}/cancel", CancelOrder(svc, logg))
	return r
}

func TestCreateOrderReturns201(t *testing.T) {
	svc := &stubOrdersService{created: &models.Order{ID: uuid.New(), CustomerID: "cust-1", Status: enums.OrderStatusCreated}}
	router := ordersRouter(svc)

	body := []byte(`{"customer_id":"cust-1","items":[{"sku":"SKU-1","qty":2,"price":"9.90"}]}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body)))
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateOrderReplayReturns200(t *testing.T) {
	svc := &stubOrdersService{
		created:  &models.Order{ID: uuid.New(), CustomerID: "cust-1", Status: enums.OrderStatusCreated},
		replayed: true,
	}
	router := ordersRouter(svc)

	body := []byte(`{"customer_id":"cust-1","items":[{"sku":"SKU-1","qty":2,"price":"9.90"}]}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body)))
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d", rec.Code)
	}
}

func TestCreateOrderRejectsUnknownFields(t *testing.T) {
	svc := &stubOrdersService{}
	router := ordersRouter(svc)

	body := []byte(`{"customer_id":"cust-1","surprise":true,"items":[{"sku":"SKU-1","qty":1,"price":"1.00"}]}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body)))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestConfirmOrderPassesIdempotencyKey(t *testing.T) {
	svc := &stubOrdersService{}
	router := ordersRouter(svc)

	orderID := uuid.New()
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/confirm", nil))
	req.Header.Set("Idempotency-Key", "confirm-1")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.confirm) != 1 || svc.confirm[0].IdempotencyKey != "confirm-1" || svc.confirm[0].OrderID != orderID {
		t.Fatalf("unexpected confirm input: %+v", svc.confirm)
	}
}

func TestConfirmOrderStateConflictMapsTo422(t *testing.T) {
	svc := &stubOrdersService{actionErr: pkgerrors.New(pkgerrors.CodeStateConflict, "order not reserved")}
	router := ordersRouter(svc)

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/orders/"+uuid.NewString()+"/confirm", nil))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestCancelOrderCarriesReason(t *testing.T) {
	svc := &stubOrdersService{}
	router := ordersRouter(svc)

	body := []byte(`{"reason":"customer request"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/orders/"+uuid.NewString()+"/cancel", bytes.NewReader(body)))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.cancel) != 1 || svc.cancel[0].Reason != "customer request" {
		t.Fatalf("unexpected cancel input: %+v", svc.cancel)
	}
}

func TestGetOrderInvalidID(t *testing.T) {
	svc := &stubOrdersService{}
	router := ordersRouter(svc)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid", nil))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	svc := &stubOrdersService{getErr: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	router := ordersRouter(svc)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/orders/"+uuid.NewString(), nil))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND code, got %q", envelope.Error.Code)
	}
}
