package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
)

func jsonResponse(w http.ResponseWriter, status int, data any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// errorBody is the standard non-2xx envelope required by §6.3:
// {"error", "code", "request_id"}, plus an optional retry hint for Busy
// responses.
type errorBody struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	RequestID    string `json:"request_id"`
	RetryAfterMS int    `json:"retry_after_ms,omitempty"`
}

// jsonError writes the standard error envelope. When retryAfterSeconds is
// positive (Busy responses, §7), it also sets the Retry-After header and
// the envelope's retry_after_ms field.
func jsonError(r *http.Request, w http.ResponseWriter, status int, code, message string, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	jsonResponse(w, status, errorBody{
		Error:        message,
		Code:         code,
		RequestID:    middleware.GetReqID(r.Context()),
		RetryAfterMS: retryAfterSeconds * 1000,
	})
}
