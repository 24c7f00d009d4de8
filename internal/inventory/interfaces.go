package inventory

import (
	"context"

	"gorm.io/gorm"

	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

// Repository is the storage surface for stock levels and adjustments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindBySKU(ctx context.Context, tenantID, sku string) (*models.InventoryItem, error)
	List(ctx context.Context, tenantID string, cursor *pagination.Cursor, limit int) ([]models.InventoryItem, error)

	// Reserve moves qty from available to reserved. Returns false when the
	// row is missing or available stock is insufficient.
	Reserve(ctx context.Context, tenantID, sku string, qty int) (bool, error)
	// Release reverses a reservation, returning qty to available.
	Release(ctx context.Context, tenantID, sku string, qty int) (bool, error)
	// ConsumeReserved drops qty from reserved without restoring available;
	// stock leaves the system when a reserved order is confirmed.
	ConsumeReserved(ctx context.Context, tenantID, sku string, qty int) (bool, error)
	// AddAvailable increases available stock, creating the row when absent.
	AddAvailable(ctx context.Context, tenantID, sku string, qty int) error
	// RemoveAvailable decreases available stock, guarded against going
	// negative. Returns false when stock is insufficient.
	RemoveAvailable(ctx context.Context, tenantID, sku string, qty int) (bool, error)

	CreateAdjustment(ctx context.Context, adj *models.InventoryAdjustment) error
	FindAdjustmentByKey(ctx context.Context, tenantID, idempotencyKey string) (*models.InventoryAdjustment, error)
	ListAdjustments(ctx context.Context, tenantID, sku string, limit int) ([]models.InventoryAdjustment, error)
}
