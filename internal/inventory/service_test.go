package inventory

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/rmartins/orderflow-backend/internal/audit"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

type stubTxRunner struct {
	err error
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.err != nil {
		return s.err
	}
	return fn(&gorm.DB{})
}

type stubRepo struct {
	items        map[string]*models.InventoryItem
	adjustments  []models.InventoryAdjustment
	existingByID map[string]*models.InventoryAdjustment
	reserveOK    bool
	releaseOK    bool
	consumeOK    bool
	removeOK     bool
	failReserve  error
	created      []models.InventoryAdjustment
	added        []Line
	removed      []Line
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		items:        map[string]*models.InventoryItem{},
		existingByID: map[string]*models.InventoryAdjustment{},
		reserveOK:    true,
		releaseOK:    true,
		consumeOK:    true,
		removeOK:     true,
	}
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) FindBySKU(ctx context.Context, tenantID, sku string) (*models.InventoryItem, error) {
	if item, ok := s.items[sku]; ok {
		return item, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepo) List(ctx context.Context, tenantID string, cursor *pagination.Cursor, limit int) ([]models.InventoryItem, error) {
	out := []models.InventoryItem{}
	for _, item := range s.items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *stubRepo) Reserve(ctx context.Context, tenantID, sku string, qty int) (bool, error) {
	if s.failReserve != nil {
		return false, s.failReserve
	}
	return s.reserveOK, nil
}

func (s *stubRepo) Release(ctx context.Context, tenantID, sku string, qty int) (bool, error) {
	return s.releaseOK, nil
}

func (s *stubRepo) ConsumeReserved(ctx context.Context, tenantID, sku string, qty int) (bool, error) {
	return s.consumeOK, nil
}

func (s *stubRepo) AddAvailable(ctx context.Context, tenantID, sku string, qty int) error {
	s.added = append(s.added, Line{SKU: sku, Qty: qty})
	return nil
}

func (s *stubRepo) RemoveAvailable(ctx context.Context, tenantID, sku string, qty int) (bool, error) {
	if !s.removeOK {
		return false, nil
	}
	s.removed = append(s.removed, Line{SKU: sku, Qty: qty})
	return true, nil
}

func (s *stubRepo) CreateAdjustment(ctx context.Context, adj *models.InventoryAdjustment) error {
	s.created = append(s.created, *adj)
	return nil
}

func (s *stubRepo) FindAdjustmentByKey(ctx context.Context, tenantID, idempotencyKey string) (*models.InventoryAdjustment, error) {
	if adj, ok := s.existingByID[idempotencyKey]; ok {
		return adj, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepo) ListAdjustments(ctx context.Context, tenantID, sku string, limit int) ([]models.InventoryAdjustment, error) {
	return s.adjustments, nil
}

type stubAudit struct {
	entries []audit.Entry
}

func (s *stubAudit) Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func newTestService(t *testing.T, repo Repository) (Service, *stubAudit) {
	t.Helper()
	rec := &stubAudit{}
	svc, err := NewService(repo, &stubTxRunner{}, rec)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, rec
}

func adjustInput(typ enums.AdjustmentType, qty int) AdjustInput {
	return AdjustInput{
		TenantID: "acme",
		SKU:      "SKU-1",
		Type:     typ,
		Qty:      qty,
		Reason:   "cycle count",
		ActorSub: "user-1",
	}
}

func TestAdjustInRecordsAdjustmentAndAudit(t *testing.T) {
	repo := newStubRepo()
	svc, rec := newTestService(t, repo)

	adj, err := svc.Adjust(context.Background(), adjustInput(enums.AdjustmentIn, 10))
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if adj == nil || adj.Qty != 10 {
		t.Fatalf("unexpected adjustment: %+v", adj)
	}
	if len(repo.added) != 1 || repo.added[0].Qty != 10 {
		t.Fatalf("expected stock addition, got %+v", repo.added)
	}
	if len(rec.entries) != 1 || rec.entries[0].Action != "inventory.adjust" {
		t.Fatalf("expected audit entry, got %+v", rec.entries)
	}
}

func TestAdjustOutInsufficientStock(t *testing.T) {
	repo := newStubRepo()
	repo.removeOK = false
	svc, _ := newTestService(t, repo)

	_, err := svc.Adjust(context.Background(), adjustInput(enums.AdjustmentOut, 5))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("no adjustment row should be recorded on failure")
	}
}

func TestAdjustNegativeCorrection(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestService(t, repo)

	_, err := svc.Adjust(context.Background(), adjustInput(enums.AdjustmentSet, -4))
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if len(repo.removed) != 1 || repo.removed[0].Qty != 4 {
		t.Fatalf("expected removal of 4, got %+v", repo.removed)
	}
}

func TestAdjustRejectsNegativeInOut(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestService(t, repo)

	_, err := svc.Adjust(context.Background(), adjustInput(enums.AdjustmentIn, -1))
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAdjustReplaysIdempotencyKey(t *testing.T) {
	repo := newStubRepo()
	key := "idem-1"
	existing := &models.InventoryAdjustment{SKU: "SKU-1", Qty: 10}
	repo.existingByID[key] = existing
	svc, _ := newTestService(t, repo)

	input := adjustInput(enums.AdjustmentIn, 10)
	input.IdempotencyKey = &key
	adj, err := svc.Adjust(context.Background(), input)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if adj != existing {
		t.Fatalf("expected replayed adjustment")
	}
	if len(repo.added) != 0 {
		t.Fatalf("replay must not touch stock")
	}
}

func TestReserveLinesAllOrNothing(t *testing.T) {
	repo := newStubRepo()
	repo.reserveOK = false
	svc, _ := newTestService(t, repo)

	err := svc.ReserveLines(context.Background(), &gorm.DB{}, "acme", []Line{{SKU: "SKU-1", Qty: 2}})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestListBySKUMissingReturnsEmpty(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestService(t, repo)

	items, next, err := svc.List(context.Background(), ListInput{TenantID: "acme", SKU: "missing"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 || next != "" {
		t.Fatalf("expected empty result, got %+v", items)
	}
}
