package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hotplate/takeaway/internal/loyalty"
)

type LoyaltyHandler struct {
	Ledger *loyalty.Ledger
}

func (h *LoyaltyHandler) Register(r *chi.Mux) {
	r.Get("/customers/{id}/loyalty", h.balance)
	r.Get("/customers/{id}/loyalty/history", h.history)
}

func (h *LoyaltyHandler) balance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.Ledger.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"points": bal})
}

func (h *LoyaltyHandler) history(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Ledger.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}
