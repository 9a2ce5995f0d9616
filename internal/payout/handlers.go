package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/common"
	"github.com/noah-isme/backend-pasar/internal/money"
)

// ListFilter narrows payout listings.
type ListFilter struct {
	SellerID *uuid.UUID
	Status   *Status
	Page     int
	PerPage  int
}

// StatusCount is one statistics bucket.
type StatusCount struct {
	Count  int    `json:"count"`
	Amount string `json:"amount"`
}

// Statistics aggregates payouts by status for the admin dashboard.
type Statistics struct {
	Pending    StatusCount `json:"pending"`
	Processing StatusCount `json:"processing"`
	Completed  StatusCount `json:"completed"`
	Failed     StatusCount `json:"failed"`
}

// Directory serves the read side of the payout surface.
type Directory interface {
	List(ctx context.Context, filter ListFilter) ([]Payout, int, error)
	Statistics(ctx context.Context) (Statistics, error)
}

// ConfigAdmin reads and upserts the schedule configuration. Changes take
// effect on the next tick, never on an in-flight run.
type ConfigAdmin interface {
	Active(ctx context.Context) (ScheduleConfig, error)
	Upsert(ctx context.Context, cfg ScheduleConfig) (ScheduleConfig, error)
}

// Handler exposes the payout admin and seller endpoints.
type Handler struct {
	Scheduler *Scheduler
	Processor *Processor
	Engine    *Engine
	Directory Directory
	Configs   ConfigAdmin
	Validate  *validator.Validate
}

type payoutDTO struct {
	ID               uuid.UUID   `json:"id"`
	SellerID         uuid.UUID   `json:"sellerId"`
	StoreID          uuid.UUID   `json:"storeId"`
	Amount           money.Money `json:"amount"`
	Currency         string      `json:"currency"`
	CommissionCount  int         `json:"commissionCount"`
	Status           Status      `json:"status"`
	PaymentMethod    string      `json:"paymentMethod"`
	PeriodStart      time.Time   `json:"periodStart"`
	PeriodEnd        time.Time   `json:"periodEnd"`
	ScheduledAt      time.Time   `json:"scheduledAt"`
	ProcessedAt      *time.Time  `json:"processedAt,omitempty"`
	PaymentReference string      `json:"paymentReference,omitempty"`
	FailureReason    string      `json:"failureReason,omitempty"`
	Notes            string      `json:"notes,omitempty"`
}

func toDTO(p Payout) payoutDTO {
	return payoutDTO{
		ID:               p.ID,
		SellerID:         p.SellerID,
		StoreID:          p.StoreID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		CommissionCount:  p.CommissionCount,
		Status:           p.Status,
		PaymentMethod:    p.PaymentMethod,
		PeriodStart:      p.PeriodStart,
		PeriodEnd:        p.PeriodEnd,
		ScheduledAt:      p.ScheduledAt,
		ProcessedAt:      p.ProcessedAt,
		PaymentReference: p.PaymentReference,
		FailureReason:    p.FailureReason,
		Notes:            p.Notes,
	}
}

// List serves GET /v1/admin/payouts and GET /v1/sellers/{sellerID}/payouts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}
	filter.Page, filter.PerPage = common.ParsePagination(r, 20)
	if raw := chi.URLParam(r, "sellerID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid seller id", nil)
			return
		}
		filter.SellerID = &id
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := Status(raw)
		switch status {
		case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
			filter.Status = &status
		default:
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown payout status", nil)
			return
		}
	}
	rows, total, err := h.Directory.List(r.Context(), filter)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list payouts", nil)
		return
	}
	items := make([]payoutDTO, 0, len(rows))
	for _, p := range rows {
		items = append(items, toDTO(p))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": items,
		"pagination": common.Pagination{
			Page:       filter.Page,
			PerPage:    filter.PerPage,
			TotalItems: total,
		},
	})
}

// Stats serves GET /v1/admin/payouts/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Directory.Statistics(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to aggregate payouts", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stats})
}

// Process serves POST /v1/admin/payouts/{id}/process.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	id, ok := payoutID(w, r)
	if !ok {
		return
	}
	row, err := h.Processor.Process(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toDTO(row)})
}

type completeRequest struct {
	PaymentReference string `json:"paymentReference" validate:"required,min=3,max=255"`
}

// Complete serves POST /v1/admin/payouts/{id}/complete. A human-supplied
// payment reference is mandatory.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := payoutID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "payment reference is required", nil)
		return
	}
	row, err := h.Processor.Complete(r.Context(), id, req.PaymentReference)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toDTO(row)})
}

type failRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// Fail serves POST /v1/admin/payouts/{id}/fail.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	id, ok := payoutID(w, r)
	if !ok {
		return
	}
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "failure reason is required", nil)
		return
	}
	row, err := h.Processor.Fail(r.Context(), id, req.Reason)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toDTO(row)})
}

type adjustRequest struct {
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3"`
	Reason   string `json:"reason" validate:"required,min=3,max=500"`
	Type     string `json:"type" validate:"required,oneof=CREDIT DEBIT"`
}

// Adjust serves POST /v1/admin/payouts/{id}/adjust. The request is validated
// into a typed adjustment before the processor sees it.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := payoutID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid adjustment", err.Error())
		return
	}
	amount, err := money.FromString(req.Amount, req.Currency)
	if err != nil || amount.IsNegative() || amount.IsZero() {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "adjustment amount must be positive", nil)
		return
	}
	row, err := h.Processor.Adjust(r.Context(), id, AdjustmentRequest{
		Amount: amount,
		Reason: req.Reason,
		Type:   req.Type,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidAdjustment) {
			common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_ADJUSTMENT", err.Error(), nil)
			return
		}
		writeLifecycleError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toDTO(row)})
}

// CancelPayout serves POST /v1/admin/payouts/{id}/cancel.
func (h *Handler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := payoutID(w, r)
	if !ok {
		return
	}
	row, err := h.Processor.Cancel(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toDTO(row)})
}

// Trigger serves POST /v1/admin/sellers/{sellerID}/payouts/trigger.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	sellerID, err := uuid.Parse(chi.URLParam(r, "sellerID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid seller id", nil)
		return
	}
	row, err := h.Scheduler.Trigger(r.Context(), sellerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrBelowMinimumPayout):
			common.JSONError(w, http.StatusUnprocessableEntity, "BELOW_MINIMUM", err.Error(), nil)
		case errors.Is(err, ErrNoEligibleEarnings):
			common.JSONError(w, http.StatusUnprocessableEntity, "NO_EARNINGS", err.Error(), nil)
		default:
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to trigger payout", nil)
		}
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": toDTO(row)})
}

// Balance serves GET /v1/sellers/{sellerID}/balance: released earnings not
// yet attached to a payout.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	sellerID, err := uuid.Parse(chi.URLParam(r, "sellerID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid seller id", nil)
		return
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "USD"
	}
	balance, err := h.Engine.Ledger.PendingBalance(r.Context(), sellerID, currency)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to read balance", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": balance})
}

type configRequest struct {
	Frequency       Frequency `json:"frequency" validate:"required,oneof=DAILY WEEKLY BIWEEKLY MONTHLY ON_DEMAND"`
	DayOfWeek       *int      `json:"dayOfWeek" validate:"omitempty,min=0,max=6"`
	DayOfMonth      *int      `json:"dayOfMonth" validate:"omitempty,min=1,max=28"`
	MinPayoutAmount string    `json:"minPayoutAmount" validate:"required"`
	Currency        string    `json:"currency" validate:"required,len=3"`
	HoldPeriodDays  int       `json:"holdPeriodDays" validate:"min=0,max=90"`
	HoldPolicy      string    `json:"holdPolicy" validate:"omitempty,oneof=delivery-confirmed order-placed"`
	IsAutomatic     bool      `json:"isAutomatic"`
	IsActive        bool      `json:"isActive"`
}

// GetConfig serves GET /v1/admin/payout-config.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Configs.Active(r.Context())
	if err != nil {
		if errors.Is(err, ErrScheduleInactive) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no active payout schedule", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to read schedule", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": cfg})
}

// PutConfig serves PUT /v1/admin/payout-config. The new configuration is
// read at the next tick; in-flight runs are unaffected.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid schedule configuration", err.Error())
		return
	}
	minAmount, err := money.FromString(req.MinPayoutAmount, req.Currency)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid minimum payout amount", nil)
		return
	}
	policy := HoldPolicy(req.HoldPolicy)
	if policy == "" {
		policy = HoldFromDelivery
	}
	cfg, err := h.Configs.Upsert(r.Context(), ScheduleConfig{
		Frequency:       req.Frequency,
		DayOfWeek:       req.DayOfWeek,
		DayOfMonth:      req.DayOfMonth,
		MinPayoutAmount: minAmount,
		HoldPeriodDays:  req.HoldPeriodDays,
		HoldPolicy:      policy,
		IsAutomatic:     req.IsAutomatic,
		IsActive:        req.IsActive,
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to save schedule", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": cfg})
}

func payoutID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payout id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "payout not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "payout operation failed", nil)
	}
}
