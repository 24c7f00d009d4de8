package inventory

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/rmartins/orderflow-backend/internal/audit"
	dbpkg "github.com/rmartins/orderflow-backend/pkg/db"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

// Line pairs a SKU with a quantity for saga-driven stock movements.
type Line struct {
	SKU string
	Qty int
}

// AdjustInput captures a manual stock adjustment.
type AdjustInput struct {
	TenantID       string
	SKU            string
	Type           enums.AdjustmentType
	Qty            int
	Reason         string
	ActorSub       string
	CorrelationID  string
	IdempotencyKey *string
}

// ListInput filters the stock-level listing.
type ListInput struct {
	TenantID string
	SKU      string
	Params   pagination.Params
}

// Service defines inventory operations for the API and the saga handlers.
type Service interface {
	List(ctx context.Context, input ListInput) ([]models.InventoryItem, string, error)
	Adjust(ctx context.Context, input AdjustInput) (*models.InventoryAdjustment, error)
	ListAdjustments(ctx context.Context, tenantID, sku string, limit int) ([]models.InventoryAdjustment, error)

	// Saga-facing movements; all ride the caller's transaction.
	ReserveLines(ctx context.Context, tx *gorm.DB, tenantID string, lines []Line) error
	ReleaseLines(ctx context.Context, tx *gorm.DB, tenantID string, lines []Line) error
	ConsumeLines(ctx context.Context, tx *gorm.DB, tenantID string, lines []Line) error
}

// ErrInsufficientStock reports an all-or-nothing reservation that could not
// be satisfied.
var ErrInsufficientStock = pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient stock")

type service struct {
	repo  Repository
	tx    txRunner
	audit auditRecorder
}

// NewService builds an inventory service with the required dependencies.
func NewService(repo Repository, tx txRunner, auditRec auditRecorder) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, audit: auditRec}, nil
}

func (s *service) List(ctx context.Context, input ListInput) ([]models.InventoryItem, string, error) {
	if input.TenantID == "" {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.SKU != "" {
		item, err := s.repo.FindBySKU(ctx, input.TenantID, input.SKU)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return []models.InventoryItem{}, "", nil
			}
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory item")
		}
		return []models.InventoryItem{*item}, "", nil
	}

	cursor, err := pagination.ParseCursor(input.Params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(input.Params.Limit)

	items, err := s.repo.List(ctx, input.TenantID, cursor, limit+1)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list inventory")
	}

	next := ""
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return items, next, nil
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) (*models.InventoryAdjustment, error) {
	if input.TenantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.SKU == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment type must be IN, OUT or ADJUSTMENT")
	}
	if input.Qty == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be non-zero")
	}
	if input.Type != enums.AdjustmentSet && input.Qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive for IN and OUT")
	}

	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		existing, err := s.repo.FindAdjustmentByKey(ctx, input.TenantID, *input.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup")
		}
	}

	var result *models.InventoryAdjustment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if err := applyAdjustment(ctx, repo, input); err != nil {
			return err
		}

		adj := models.InventoryAdjustment{
			TenantID:       input.TenantID,
			SKU:            input.SKU,
			Type:           input.Type,
			Qty:            input.Qty,
			Reason:         input.Reason,
			ActorSub:       input.ActorSub,
			CorrelationID:  input.CorrelationID,
			IdempotencyKey: input.IdempotencyKey,
		}
		if err := repo.CreateAdjustment(ctx, &adj); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_inventory_adjustments_idem") {
				return pkgerrors.New(pkgerrors.CodeIdempotency, "adjustment already recorded")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record adjustment")
		}
		result = &adj

		if s.audit != nil {
			entry := audit.Entry{
				TenantID:      input.TenantID,
				ActorSub:      input.ActorSub,
				Action:        "inventory.adjust",
				Target:        input.SKU,
				Detail:        map[string]any{"type": input.Type, "qty": input.Qty, "reason": input.Reason},
				CorrelationID: input.CorrelationID,
			}
			if err := s.audit.Record(ctx, tx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit entry")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func applyAdjustment(ctx context.Context, repo Repository, input AdjustInput) error {
	switch input.Type {
	case enums.AdjustmentIn:
		return repo.AddAvailable(ctx, input.TenantID, input.SKU, input.Qty)
	case enums.AdjustmentOut:
		ok, err := repo.RemoveAvailable(ctx, input.TenantID, input.SKU, input.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove stock")
		}
		if !ok {
			return ErrInsufficientStock
		}
		return nil
	case enums.AdjustmentSet:
		if input.Qty > 0 {
			return repo.AddAvailable(ctx, input.TenantID, input.SKU, input.Qty)
		}
		ok, err := repo.RemoveAvailable(ctx, input.TenantID, input.SKU, -input.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "correct stock")
		}
		if !ok {
			return ErrInsufficientStock
		}
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid adjustment type")
	}
}

func (s *service) ListAdjustments(ctx context.Context, tenantID, sku string, limit int) ([]models.InventoryAdjustment, error) {
	if tenantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	rows, err := s.repo.ListAdjustments(ctx, tenantID, sku, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list adjustments")
	}
	return rows, nil
}

func (s *service) ReserveLines(ctx context.Context, tx *gorm.DB, tenantID string, lines []Line) error {
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		ok, err := repo.Reserve(ctx, tenantID, line.SKU, line.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve stock")
		}
		if !ok {
			return ErrInsufficientStock
		}
	}
	return nil
}

func (s *service) ReleaseLines(ctx context.Context, tx *gorm.DB, tenantID string, lines []Line) error {
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		ok, err := repo.Release(ctx, tenantID, line.SKU, line.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release stock")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation smaller than release")
		}
	}
	return nil
}

func (s *service) ConsumeLines(ctx context.Context, tx *gorm.DB, tenantID string, lines []Line) error {
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		ok, err := repo.ConsumeReserved(ctx, tenantID, line.SKU, line.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume reserved stock")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation smaller than consumption")
		}
	}
	return nil
}
