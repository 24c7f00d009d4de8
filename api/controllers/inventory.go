package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/api/middleware"
	"github.com/rmartins/orderflow-backend/api/responses"
	"github.com/rmartins/orderflow-backend/api/validators"
	"github.com/rmartins/orderflow-backend/internal/inventory"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	pkgerrors "github.com/rmartins/orderflow-backend/pkg/errors"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/pagination"
)

type adjustInventoryRequest struct {
	SKU    string `json:"sku" validate:"required"`
	Type   string `json:"type" validate:"required,oneof=IN OUT ADJUSTMENT"`
	Qty    int    `json:"qty" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type inventoryItemResponse struct {
	SKU          string    `json:"sku"`
	AvailableQty int       `json:"available_qty"`
	ReservedQty  int       `json:"reserved_qty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type inventoryListResponse struct {
	Items      []inventoryItemResponse `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type adjustmentResponse struct {
	ID        uuid.UUID            `json:"id"`
	SKU       string               `json:"sku"`
	Type      enums.AdjustmentType `json:"type"`
	Qty       int                  `json:"qty"`
	Reason    string               `json:"reason"`
	ActorSub  string               `json:"actor_sub"`
	CreatedAt time.Time            `json:"created_at"`
}

func toAdjustmentResponse(adj *models.InventoryAdjustment) adjustmentResponse {
	return adjustmentResponse{
		ID:        adj.ID,
		SKU:       adj.SKU,
		Type:      adj.Type,
		Qty:       adj.Qty,
		Reason:    adj.Reason,
		ActorSub:  adj.ActorSub,
		CreatedAt: adj.CreatedAt,
	}
}

// ListInventory returns stock levels for the tenant, optionally filtered by SKU.
func ListInventory(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, nextCursor, err := svc.List(r.Context(), inventory.ListInput{
			TenantID: principal.TenantID,
			SKU:      strings.TrimSpace(r.URL.Query().Get("sku")),
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := inventoryListResponse{Items: make([]inventoryItemResponse, 0, len(items)), NextCursor: nextCursor}
		for _, item := range items {
			out.Items = append(out.Items, inventoryItemResponse{
				SKU:          item.SKU,
				AvailableQty: item.AvailableQty,
				ReservedQty:  item.ReservedQty,
				UpdatedAt:    item.UpdatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// AdjustInventory applies a manual stock movement.
func AdjustInventory(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		var body adjustInventoryRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		adjType, err := enums.ParseAdjustmentType(body.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid adjustment type"))
			return
		}

		var idemKey *string
		if raw := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)); raw != "" {
			idemKey = &raw
		}

		adjustment, err := svc.Adjust(r.Context(), inventory.AdjustInput{
			TenantID:       principal.TenantID,
			SKU:            body.SKU,
			Type:           adjType,
			Qty:            body.Qty,
			Reason:         body.Reason,
			ActorSub:       principal.Subject,
			CorrelationID:  middleware.CorrelationIDFromContext(r.Context()),
			IdempotencyKey: idemKey,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toAdjustmentResponse(adjustment))
	}
}

// ListAdjustments returns the most recent manual stock movements.
func ListAdjustments(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		adjustments, err := svc.ListAdjustments(r.Context(), principal.TenantID, strings.TrimSpace(r.URL.Query().Get("sku")), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]adjustmentResponse, 0, len(adjustments))
		for i := range adjustments {
			out = append(out, toAdjustmentResponse(&adjustments[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
