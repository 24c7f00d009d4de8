package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

// Repository is the storage surface for the order aggregate.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, tenantID string, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, tenantID string, status enums.OrderStatus, cursor *pagination.Cursor, limit int) ([]models.Order, error)

	// TransitionStatus moves an order from one status to another. Returns
	// false when the order no longer holds the expected status, which is
	// how redelivered saga events detect already-applied transitions.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error)
}
