package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/hotplate/takeaway/internal/money"
	"github.com/hotplate/takeaway/internal/order"
	"github.com/hotplate/takeaway/internal/pricing"
	"github.com/hotplate/takeaway/internal/redisx"
	"github.com/hotplate/takeaway/internal/refund"
)

type OrdersHandler struct {
	Service *order.Service
	Refunds *refund.Processor
	Redis   *redis.Client
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/quotes", h.quote)
	r.Post("/orders", h.place)
	r.Get("/orders/{id}", h.get)
	r.Post("/orders/{id}/transition", h.transition)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/refunds", h.issueRefund)
	r.Post("/orders/{id}/reorder", h.reorder)
}

type quoteReq struct {
	CartID       string               `json:"cart_id"`
	CustomerID   string               `json:"customer_id"`
	AddressID    string               `json:"address_id"`
	Code         string               `json:"code,omitempty"`
	RedeemPoints int                  `json:"redeem_points,omitempty"`
	Tip          pricing.TipSelection `json:"tip"`
	ScheduledAt  *time.Time           `json:"scheduled_at,omitempty"`
	BadWeather   bool                 `json:"bad_weather,omitempty"`
}

func (h *OrdersHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, changes, err := h.Service.Quote(ctx, order.QuoteRequest{
		CartID:       req.CartID,
		CustomerID:   req.CustomerID,
		AddressID:    req.AddressID,
		Code:         req.Code,
		RedeemPoints: req.RedeemPoints,
		Tip:          req.Tip,
		ScheduledAt:  req.ScheduledAt,
		BadWeather:   req.BadWeather,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakdown": b, "price_changes": changes})
}

type placeReq struct {
	IdempotencyKey string               `json:"idempotency_key"`
	CartID         string               `json:"cart_id"`
	CartVersion    int64                `json:"cart_version"`
	CustomerID     string               `json:"customer_id"`
	PaymentToken   string               `json:"payment_token"`
	AddressID      string               `json:"address_id"`
	Code           string               `json:"code,omitempty"`
	RedeemPoints   int                  `json:"redeem_points,omitempty"`
	Tip            pricing.TipSelection `json:"tip"`
	ScheduledAt    *time.Time           `json:"scheduled_at,omitempty"`
	BadWeather     bool                 `json:"bad_weather,omitempty"`
}

func (h *OrdersHandler) place(w http.ResponseWriter, r *http.Request) {
	var req placeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if req.IdempotencyKey == "" || req.CartID == "" || req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing fields"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis; a repeated key returns the first
	// order instead of charging twice.
	idemKey := fmt.Sprintf(redisx.KeyIdemPlace, req.IdempotencyKey)
	if existing, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && existing != "" {
		o, err := h.Service.Get(ctx, existing)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": o, "idempotent": true})
		return
	}

	o, err := h.Service.Place(ctx, order.PlaceRequest{
		CartID:       req.CartID,
		CartVersion:  req.CartVersion,
		CustomerID:   req.CustomerID,
		PaymentToken: req.PaymentToken,
		AddressID:    req.AddressID,
		Code:         req.Code,
		RedeemPoints: req.RedeemPoints,
		Tip:          req.Tip,
		ScheduledAt:  req.ScheduledAt,
		BadWeather:   req.BadWeather,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	h.cacheStatus(ctx, o)

	writeJSON(w, http.StatusCreated, map[string]any{"order": o, "idempotent": false})
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	o, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

type transitionReq struct {
	To   string `json:"to"`
	Note string `json:"note,omitempty"`
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	o, err := h.Service.Transition(ctx, chi.URLParam(r, "id"), order.Status(req.To), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

type cancelReq struct {
	CustomerID string `json:"customer_id"`
	Reason     string `json:"reason"`
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	o, rec, err := h.Refunds.Cancel(ctx, chi.URLParam(r, "id"), req.CustomerID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, map[string]any{"order": o, "refund": rec})
}

type issueRefundReq struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

func (h *OrdersHandler) issueRefund(w http.ResponseWriter, r *http.Request) {
	var req issueRefundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	rec, err := h.Refunds.Issue(ctx, chi.URLParam(r, "id"), money.Cents(req.AmountCents), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type reorderReq struct {
	CustomerID string `json:"customer_id"`
}

func (h *OrdersHandler) reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	c, report, err := h.Service.Reorder(ctx, chi.URLParam(r, "id"), req.CustomerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c, "report": report})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o order.Order) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	body, _ := json.Marshal(map[string]string{
		"status":     string(o.Status),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}
