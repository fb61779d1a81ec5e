package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/store"
)

type createSessionRequest struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// createSession enforces I10 (a project must already exist) by looking the
// project up first, failing NotFound if it is absent, and rejects a duplicate non-deleted name within the
// project (I9's sibling rule for sessions) via SessionRepo.Create.
func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ProjectID == "" || req.Name == "" {
		h.writeError(w, r, errs.Validationf("MISSING_FIELD", "project_id and name are required"))
		return
	}

	var created *db.Session
	err := h.store.WithExclusive(r.Context(), func(ctx context.Context, q store.Queryer) error {
		projectRepo := db.NewProjectRepo(q)
		if _, err := projectRepo.Get(ctx, req.ProjectID); err != nil {
			return err
		}
		s := &db.Session{ProjectID: req.ProjectID, Name: req.Name, Description: req.Description}
		sessionRepo := db.NewSessionRepo(q)
		if err := sessionRepo.Create(ctx, s); err != nil {
			return err
		}
		created = s
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, created)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	repo := db.NewSessionRepo(h.store.SQL())
	sessions, err := repo.List(r.Context(), db.SessionFilter{
		ProjectID: r.URL.Query().Get("project_id"),
		Status:    r.URL.Query().Get("status"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"items": sessions})
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo := db.NewSessionRepo(h.store.SQL())
	s, err := repo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, s)
}

type updateSessionRequest struct {
	Status string `json:"status"`
}

// updateSession only supports the documented status:"ended" transition
// (§6.3); it is irreversible within the session's lifetime.
func (h *handler) updateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Status != db.SessionStatusEnded {
		h.writeError(w, r, errs.Validationf("UNSUPPORTED_TRANSITION", "only status=\"ended\" is supported"))
		return
	}

	var updated *db.Session
	err := h.store.WithExclusive(r.Context(), func(ctx context.Context, q store.Queryer) error {
		repo := db.NewSessionRepo(q)
		if err := repo.End(ctx, id); err != nil {
			return err
		}
		s, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		updated = s
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// deleteSession cascades to queues and tasks (ON DELETE CASCADE) and is
// irreversible.
func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo := db.NewSessionRepo(h.store.SQL())
	if err := repo.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}
