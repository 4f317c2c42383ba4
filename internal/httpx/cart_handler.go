package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hotplate/takeaway/internal/cart"
)

type CartHandler struct {
	Carts *cart.Store
}

func (h *CartHandler) Register(r *chi.Mux) {
	r.Get("/carts/{id}", h.get)
	r.Post("/carts/{id}/items", h.addItem)
	r.Patch("/carts/{id}/lines/{lineID}", h.updateQuantity)
	r.Delete("/carts/{id}/lines/{lineID}", h.removeLine)
	r.Delete("/carts/{id}", h.clear)
	r.Post("/carts/{id}/merge", h.merge)
	r.Post("/carts/{id}/revalidate", h.revalidate)
}

type addItemReq struct {
	CustomerID    string             `json:"customer_id"`
	Version       int64              `json:"version"`
	ItemID        string             `json:"item_id"`
	Qty           int                `json:"qty"`
	Customization cart.Customization `json:"customization"`
	Notes         string             `json:"notes"`
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	c, err := h.Carts.AddItem(r.Context(), chi.URLParam(r, "id"), req.CustomerID,
		req.Version, req.ItemID, req.Qty, req.Customization, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type quantityReq struct {
	Version int64 `json:"version"`
	Qty     int   `json:"qty"`
}

func (h *CartHandler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	c, err := h.Carts.UpdateQuantity(r.Context(), chi.URLParam(r, "id"), req.Version,
		chi.URLParam(r, "lineID"), req.Qty)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) removeLine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version int64 `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	c, err := h.Carts.RemoveLine(r.Context(), chi.URLParam(r, "id"), req.Version,
		chi.URLParam(r, "lineID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version int64 `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	c, err := h.Carts.Clear(r.Context(), chi.URLParam(r, "id"), req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type mergeReq struct {
	GuestCartID string `json:"guest_cart_id"`
	CustomerID  string `json:"customer_id"`
}

// merge folds a guest cart into the customer cart named in the path.
func (h *CartHandler) merge(w http.ResponseWriter, r *http.Request) {
	var req mergeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	c, err := h.Carts.Merge(r.Context(), req.GuestCartID, chi.URLParam(r, "id"), req.CustomerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CartHandler) revalidate(w http.ResponseWriter, r *http.Request) {
	changes, err := h.Carts.Revalidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := h.Carts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c, "price_changes": changes})
}
