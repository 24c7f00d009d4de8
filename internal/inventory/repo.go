package inventory

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindBySKU(ctx context.Context, tenantID, sku string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sku = ?", tenantID, sku).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) List(ctx context.Context, tenantID string, cursor *pagination.Cursor, limit int) ([]models.InventoryItem, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if cursor != nil {
		query = query.Where("(created_at, id) > (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var items []models.InventoryItem
	err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&items).Error
	return items, err
}

func (r *repository) Reserve(ctx context.Context, tenantID, sku string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty - ?,
			reserved_qty = reserved_qty + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND sku = ? AND available_qty >= ?
	`, qty, qty, tenantID, sku, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Release(ctx context.Context, tenantID, sku string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + ?,
			reserved_qty = reserved_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND sku = ? AND reserved_qty >= ?
	`, qty, qty, tenantID, sku, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ConsumeReserved(ctx context.Context, tenantID, sku string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET reserved_qty = reserved_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND sku = ? AND reserved_qty >= ?
	`, qty, tenantID, sku, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AddAvailable(ctx context.Context, tenantID, sku string, qty int) error {
	item := models.InventoryItem{
		TenantID:     tenantID,
		SKU:          sku,
		AvailableQty: qty,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "sku"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"available_qty": gorm.Expr("inventory_items.available_qty + ?", qty),
			"updated_at":    gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&item).Error
}

func (r *repository) RemoveAvailable(ctx context.Context, tenantID, sku string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND sku = ? AND available_qty >= ?
	`, qty, tenantID, sku, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateAdjustment(ctx context.Context, adj *models.InventoryAdjustment) error {
	return r.db.WithContext(ctx).Create(adj).Error
}

func (r *repository) FindAdjustmentByKey(ctx context.Context, tenantID, idempotencyKey string) (*models.InventoryAdjustment, error) {
	var adj models.InventoryAdjustment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, idempotencyKey).
		First(&adj).Error
	if err != nil {
		return nil, err
	}
	return &adj, nil
}

func (r *repository) ListAdjustments(ctx context.Context, tenantID, sku string, limit int) ([]models.InventoryAdjustment, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if sku != "" {
		query = query.Where("sku = ?", sku)
	}
	var rows []models.InventoryAdjustment
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
