package commission

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pasar/internal/common"
)

// OverrideStore persists per-seller commission overrides.
type OverrideStore interface {
	CreateOverride(ctx context.Context, sellerID uuid.UUID, rate Rate) (uuid.UUID, error)
	SellerOverrides(ctx context.Context, sellerID uuid.UUID) ([]Rate, error)
}

// Handler exposes the commission admin surface.
type Handler struct {
	Store    OverrideStore
	Validate *validator.Validate
}

type overrideRequest struct {
	RateBps       int64      `json:"rateBps" validate:"min=0,max=10000"`
	ValidFrom     *time.Time `json:"validFrom"`
	ValidUntil    *time.Time `json:"validUntil"`
	MinOrderValue *string    `json:"minOrderValue"`
	MaxOrderValue *string    `json:"maxOrderValue"`
	Priority      int        `json:"priority" validate:"min=0,max=1000"`
}

// CreateOverride serves POST /v1/admin/sellers/{sellerID}/commission-override.
// The override takes priority over the store rate from the next payout
// computation on; existing payouts are never recomputed.
func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	sellerID, err := uuid.Parse(chi.URLParam(r, "sellerID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid seller id", nil)
		return
	}
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid commission override", err.Error())
		return
	}
	rate := Rate{
		Bps:        req.RateBps,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		Priority:   req.Priority,
	}
	if rate.MinOrderValue, err = parseValueBound(req.MinOrderValue); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid minimum order value", nil)
		return
	}
	if rate.MaxOrderValue, err = parseValueBound(req.MaxOrderValue); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid maximum order value", nil)
		return
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && req.ValidUntil.Before(*req.ValidFrom) {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "validity window ends before it starts", nil)
		return
	}

	id, err := h.Store.CreateOverride(r.Context(), sellerID, rate)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to save commission override", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"id":       id,
		"sellerId": sellerID,
		"rateBps":  rate.Bps,
		"priority": rate.Priority,
	}})
}

// ListOverrides serves GET /v1/admin/sellers/{sellerID}/commission-override.
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	sellerID, err := uuid.Parse(chi.URLParam(r, "sellerID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid seller id", nil)
		return
	}
	rates, err := h.Store.SellerOverrides(r.Context(), sellerID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list commission overrides", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rates})
}

func parseValueBound(raw *string) (*decimal.Decimal, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, ErrInvalidRate
	}
	return &d, nil
}
