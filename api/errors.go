package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/cession-engine/ledger"
)

// KindUnauthenticated is only produced by the transport.
const KindUnauthenticated ledger.Kind = "UNAUTHENTICATED"

// statusFor maps an error kind to its HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case ledger.KindForbidden, ledger.KindImmutability:
		return http.StatusForbidden
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInvalidState:
		return http.StatusConflict
	case ledger.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// details exposes the structured part of a domain error.
func details(err error) any {
	var (
		validation *ledger.ValidationError
		notFound   *ledger.NotFoundError
		state      *ledger.InvalidStateError
		forbidden  *ledger.ForbiddenError
		immutable  *ledger.ImmutabilityViolation
	)
	switch {
	case errors.As(err, &validation):
		return map[string]string{"field": validation.Field, "reason": validation.Reason}
	case errors.As(err, &notFound):
		return map[string]string{"entity": notFound.Entity, "id": notFound.ID}
	case errors.As(err, &state):
		return map[string]any{"entity": state.Entity, "id": state.ID, "expected": state.Expected, "actual": state.Actual}
	case errors.As(err, &forbidden):
		return map[string]any{"operation": forbidden.Operation, "role": forbidden.Role, "allowed": forbidden.Allowed}
	case errors.As(err, &immutable):
		return map[string]string{"entry_id": string(immutable.EntryID), "operation": immutable.Operation}
	}
	return nil
}

// fail writes err as an ErrorResponse. Storage and unknown failures are
// logged with the request ID and reported without internals.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	status := statusFor(kind)

	resp := ErrorResponse{Error: err.Error(), Code: string(kind), Details: details(err)}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		resp.Error = "storage unavailable, retry later"
		if kind != ledger.KindStorage {
			resp.Error = "internal error"
		}
	}
	writeJSON(w, status, resp)
}

// writeError writes a transport-level error that has no domain error behind it.
func writeError(w http.ResponseWriter, status int, kind ledger.Kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads a JSON body into v, reporting malformed input as a
// ValidationError.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ledger.ValidationError{Reason: "invalid request body: " + err.Error()}
	}
	return nil
}
