package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

type errorBody struct {
	Code      Kind         `json:"code"`
	Message   string       `json:"message"`
	Fields    []FieldError `json:"fields,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error": {...}}. Anything that is not an
// *Error is logged and reported as a 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger, err error) {
	reqID := utilities.RequestIDFromContext(r.Context())
	var e *Error
	if !errors.As(err, &e) {
		logger.Errorw("request failed", "path", r.URL.Path, "request_id", reqID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]errorBody{
			"error": {Code: "INTERNAL", Message: msgInternal, RequestID: reqID},
		})
		return
	}
	if e.Err != nil {
		logger.Debugw("request rejected", "path", r.URL.Path, "request_id", reqID, "kind", e.Kind, "err", e.Err)
	}
	writeJSON(w, e.Kind.Status(), map[string]errorBody{
		"error": {Code: e.Kind, Message: e.Message, Fields: e.Fields, RequestID: reqID},
	})
}
