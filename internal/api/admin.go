package api

import "net/http"

// reloadConfig backs the CLI's "reload" subcommand: it re-resolves and
// re-parses the configuration document and atomically swaps it in,
// without restarting the process (§4.G).
func (h *handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.cfg.Reload()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"reloaded": true, "database_path": cfg.Database.Path})
}

type purgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// purgeNow backs the CLI's "purge" subcommand: an on-demand run of the
// same sweep the purge janitor performs on its own schedule (§4.D).
func (h *handler) purgeNow(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	_ = decodeJSON(r, &req)
	if req.OlderThanDays <= 0 {
		req.OlderThanDays = h.cfg.Get().Purge.OlderThanDays
	}

	n, err := h.engine.SweepPurge(r.Context(), req.OlderThanDays)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"deleted": n})
}
