package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hotplate/takeaway/internal/faults"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error      string             `json:"error"`
	Kind       string             `json:"kind,omitempty"`
	Violations []faults.Violation `json:"violations,omitempty"`
}

// writeError maps the fault taxonomy onto HTTP statuses. Foreign errors
// come back as 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	var fe *faults.Error
	if !errors.As(err, &fe) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	code := http.StatusInternalServerError
	switch fe.Kind {
	case faults.Validation:
		code = http.StatusBadRequest
	case faults.Availability:
		code = http.StatusConflict
	case faults.Concurrency:
		code = http.StatusConflict
	case faults.Payment:
		code = http.StatusPaymentRequired
	case faults.StateTransition:
		code = http.StatusUnprocessableEntity
	case faults.LimitExceeded:
		code = http.StatusTooManyRequests
	}
	writeJSON(w, code, errorBody{Error: fe.Msg, Kind: fe.Kind.String(), Violations: fe.Violations})
}
