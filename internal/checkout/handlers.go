package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/allocation"
	"github.com/noah-isme/backend-pasar/internal/cart"
	"github.com/noah-isme/backend-pasar/internal/common"
	"github.com/noah-isme/backend-pasar/internal/currency"
	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/payment"
	"github.com/noah-isme/backend-pasar/internal/shippingtax"
	"github.com/noah-isme/backend-pasar/internal/totals"
)

// Handler exposes the checkout HTTP surface.
type Handler struct {
	Svc *Service
}

type lineInput struct {
	ProductID string `json:"productId"`
	SellerID  string `json:"sellerId"`
	StoreID   string `json:"storeId"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

type cartInput struct {
	CartID               string      `json:"cartId"`
	Currency             string      `json:"currency"`
	DestinationAddressID string      `json:"destinationAddressId"`
	Lines                []lineInput `json:"lines"`
}

type totalsRequest struct {
	Cart             cartInput `json:"cart"`
	ShippingMethodID string    `json:"shippingMethodId"`
	Discount         string    `json:"discount"`
}

type orderRequest struct {
	BuyerID          string    `json:"buyerId"`
	Cart             cartInput `json:"cart"`
	ShippingMethodID string    `json:"shippingMethodId"`
	Discount         string    `json:"discount"`
	InstrumentToken  string    `json:"instrumentToken"`
	SaveInstrument   bool      `json:"saveInstrument"`
}

func (in cartInput) snapshot() (cart.Snapshot, error) {
	snap := cart.Snapshot{Currency: in.Currency}
	var err error
	if snap.ID, err = uuid.Parse(in.CartID); err != nil {
		return cart.Snapshot{}, errors.New("invalid cart id")
	}
	if snap.DestinationAddressID, err = uuid.Parse(in.DestinationAddressID); err != nil {
		return cart.Snapshot{}, errors.New("invalid destination address id")
	}
	for _, l := range in.Lines {
		line := cart.Line{Quantity: l.Quantity}
		if line.ProductID, err = uuid.Parse(l.ProductID); err != nil {
			return cart.Snapshot{}, errors.New("invalid product id")
		}
		if line.SellerID, err = uuid.Parse(l.SellerID); err != nil {
			return cart.Snapshot{}, errors.New("invalid seller id")
		}
		if line.StoreID, err = uuid.Parse(l.StoreID); err != nil {
			return cart.Snapshot{}, errors.New("invalid store id")
		}
		if line.UnitPrice, err = money.FromString(l.UnitPrice, in.Currency); err != nil {
			return cart.Snapshot{}, err
		}
		snap.Lines = append(snap.Lines, line)
	}
	return snap, nil
}

func parseDiscount(raw, currencyCode string) (money.Money, error) {
	if raw == "" {
		return money.Zero(currencyCode), nil
	}
	return money.FromString(raw, currencyCode)
}

type quoteDTO struct {
	ShippingOptions []shippingtax.Option `json:"shippingOptions"`
	Tax             money.Money          `json:"tax"`
	Subtotal        money.Money          `json:"subtotal"`
	Totals          *totals.OrderTotals  `json:"totals,omitempty"`
}

// Totals serves POST /v1/checkout/totals.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	var req totalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	snap, err := req.Cart.snapshot()
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	discount, err := parseDiscount(req.Discount, snap.Currency)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid discount", nil)
		return
	}
	quote, err := h.Svc.QuoteTotals(r.Context(), snap, req.ShippingMethodID, discount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quoteDTO{
		ShippingOptions: quote.Options,
		Tax:             quote.Tax,
		Subtotal:        quote.Subtotal,
		Totals:          quote.Totals,
	}})
}

type orderDTO struct {
	OrderID       uuid.UUID                     `json:"orderId"`
	Status        string                        `json:"status"`
	Totals        totals.OrderTotals            `json:"totals"`
	Allocations   []allocation.SellerAllocation `json:"allocations"`
	Authorization struct {
		ID        uuid.UUID      `json:"id"`
		Status    payment.Status `json:"status"`
		Reference string         `json:"reference"`
	} `json:"authorization"`
}

// PlaceOrder serves POST /v1/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid buyer id", nil)
		return
	}
	snap, err := req.Cart.snapshot()
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}
	discount, err := parseDiscount(req.Discount, snap.Currency)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid discount", nil)
		return
	}
	instrument := payment.Instrument{Token: req.InstrumentToken, Reusable: req.SaveInstrument}

	result, err := h.Svc.PlaceOrder(r.Context(), buyerID, snap, req.ShippingMethodID, discount, instrument)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var dto orderDTO
	dto.OrderID = result.Order.ID
	dto.Status = result.Order.Status
	dto.Totals = result.Order.Totals
	dto.Allocations = result.Allocations
	dto.Authorization.ID = result.Authorization.ID
	dto.Authorization.Status = result.Authorization.Status
	dto.Authorization.Reference = result.Authorization.GatewayReference
	common.JSON(w, http.StatusCreated, map[string]any{"data": dto})
}

// Abandon serves POST /v1/orders/{id}/abandon.
func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Abandon(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{"status": "CANCELED"}})
}

// ConfirmDelivery serves POST /v1/orders/{id}/delivery-confirmation.
func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.ConfirmDelivery(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{"status": "DELIVERED"}})
}

func orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, cart.ErrZeroQuantityLine),
		errors.Is(err, cart.ErrCurrencyMismatch),
		errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, money.ErrUnsupportedCurrency),
		errors.Is(err, totals.ErrInvalidDiscount),
		errors.Is(err, ErrShippingMethodRequired):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
	case errors.Is(err, shippingtax.ErrUnknownMethod):
		common.JSONError(w, http.StatusBadRequest, "UNKNOWN_METHOD", err.Error(), nil)
	case errors.Is(err, shippingtax.ErrZoneUnavailable):
		common.JSONError(w, http.StatusUnprocessableEntity, "ZONE_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, shippingtax.ErrRateLookupTimeout),
		errors.Is(err, currency.ErrStaleSnapshot),
		errors.Is(err, payment.ErrGatewayUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "RETRYABLE", err.Error(), nil)
	case errors.Is(err, payment.ErrDeclined):
		common.JSONError(w, http.StatusPaymentRequired, "DECLINED", err.Error(), nil)
	case errors.Is(err, payment.ErrAmountMismatch),
		errors.Is(err, allocation.ErrReconciliation):
		common.JSONError(w, http.StatusConflict, "CONSISTENCY", err.Error(), nil)
	case errors.Is(err, payment.ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, ErrAlreadyDelivered):
		common.JSONError(w, http.StatusConflict, "ALREADY_DELIVERED", err.Error(), nil)
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, payment.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout failed", nil)
	}
}
