package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"crm-finance/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, r, errorResponse{Error: message, Code: code}, status)
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, resp errorResponse, status int) {
	resp.RequestID = requestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps a finance error onto an HTTP status. Persistence
// failures are logged; everything else is the caller's problem.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *core.ValidationError
		je *core.JurisdictionAmbiguityError
		ce *core.ReconciliationConflictError
		te *core.InvalidTransitionError
		pe *core.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		writeErrorResponse(w, r, errorResponse{Error: err.Error(), Code: "VALIDATION_ERROR", Field: ve.Field}, http.StatusUnprocessableEntity)
	case errors.As(err, &je):
		writeError(w, r, err.Error(), "JURISDICTION_AMBIGUOUS", http.StatusUnprocessableEntity)
	case errors.As(err, &ce):
		writeError(w, r, err.Error(), "RECONCILIATION_CONFLICT", http.StatusConflict)
	case errors.As(err, &te):
		writeError(w, r, err.Error(), "INVALID_TRANSITION", http.StatusConflict)
	case errors.Is(err, core.ErrVersionConflict):
		writeErrorResponse(w, r, errorResponse{Error: err.Error(), Code: "VERSION_CONFLICT", Retryable: true}, http.StatusConflict)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.As(err, &pe):
		rl := h.requestLog(r)
		rl.Error().Err(err).Str("op", pe.Op).Msg("store failure")
		writeErrorResponse(w, r, errorResponse{Error: "storage unavailable", Code: "STORE_UNAVAILABLE", Retryable: pe.Retryable()}, http.StatusServiceUnavailable)
	default:
		rl := h.requestLog(r)
		rl.Error().Err(err).Msg("unhandled error")
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
