package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hotplate/takeaway/internal/catalog"
)

type MenuHandler struct {
	Menu *catalog.Memory
}

func (h *MenuHandler) Register(r *chi.Mux) {
	r.Get("/menu", h.list)
	r.Get("/menu/{id}", h.item)
}

func (h *MenuHandler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.Menu.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"open":  h.Menu.IsOpen(time.Now()),
		"items": items,
	})
}

func (h *MenuHandler) item(w http.ResponseWriter, r *http.Request) {
	it, err := h.Menu.Item(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}
