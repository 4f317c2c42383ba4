package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hotplate/takeaway/internal/address"
	"github.com/hotplate/takeaway/internal/faults"
	"github.com/hotplate/takeaway/internal/pricing"
)

type AddressHandler struct {
	Book *address.Book
}

func (h *AddressHandler) Register(r *chi.Mux) {
	r.Put("/customers/{id}/addresses/{addressID}", h.put)
}

func (h *AddressHandler) put(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Zone int `json:"zone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, faults.New(faults.Validation, "invalid request body"))
		return
	}
	zone := pricing.Zone(body.Zone)
	if zone != pricing.Zone1 && zone != pricing.Zone2 && zone != pricing.Zone3 && zone != pricing.ZoneOutOfRange {
		writeError(w, faults.Newf(faults.Validation, "unknown zone %d", body.Zone))
		return
	}
	a := address.Address{
		ID:         chi.URLParam(r, "addressID"),
		CustomerID: chi.URLParam(r, "id"),
		Zone:       zone,
	}
	h.Book.Put(a)
	writeJSON(w, http.StatusOK, a)
}
