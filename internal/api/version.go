package api

import (
	"net/http"
	"time"

	"github.com/sparkq/sparkq/internal/errs"
)

type healthBody struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, healthBody{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type versionBody struct {
	BuildID string `json:"build_id"`
}

func (h *handler) version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	jsonResponse(w, http.StatusOK, versionBody{BuildID: h.buildID})
}

// healthReady enforces the build-version invariant: when a client supplies
// X-Build-Id, it must match this server's buildID or the request fails as
// a blocking Conflict. Absent the header, readiness is reported
// unconditionally (dev/test mode, or a caller that doesn't track builds).
func (h *handler) healthReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if clientBuildID := r.Header.Get("X-Build-Id"); clientBuildID != "" && h.buildID != "" && clientBuildID != h.buildID {
		h.writeError(w, r, errs.Conflictf("BUILD_VERSION_MISMATCH", "client build %q does not match server build %q", clientBuildID, h.buildID))
		return
	}
	jsonResponse(w, http.StatusOK, healthBody{Status: "ready", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}
