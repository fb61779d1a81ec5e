package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/obs"
)

// writeError maps an internal/errs.Kind to the status codes §7 specifies
// and writes the standard error envelope. Internal errors are logged but
// their message is never leaked to the client.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Internalf("INTERNAL", "%s", err.Error())
	}

	obs.LogError(h.logger, "request failed", e, "path", r.URL.Path, "method", r.Method)

	status := http.StatusInternalServerError
	message := e.Message
	retryAfterSeconds := 0
	switch e.Kind {
	case errs.Validation:
		status = http.StatusBadRequest
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.Conflict:
		status = http.StatusConflict
	case errs.Busy:
		status = http.StatusServiceUnavailable
		retryAfterSeconds = busyRetryAfterSeconds
	default:
		status = http.StatusInternalServerError
		message = "internal error"
	}

	jsonError(r, w, status, e.Kind.String(), message, retryAfterSeconds)
}

// busyRetryAfterSeconds is the retry hint §7 requires on every Busy
// response — SQLITE_BUSY contention is expected to clear quickly, so a
// short, fixed hint is enough; callers don't need a backoff schedule.
const busyRetryAfterSeconds = 1

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Validationf("MALFORMED_JSON", "request body could not be parsed: %v", err)
	}
	return nil
}
