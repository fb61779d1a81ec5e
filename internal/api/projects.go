package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/store"
)

type createProjectRequest struct {
	Name     string `json:"name"`
	RepoPath string `json:"repo_path"`
	PRDPath  string `json:"prd_path"`
}

// createProject enforces I10: a second project creation fails Conflict.
// The existence check and the insert run inside one WithExclusive section
// so two concurrent "setup" calls can't both observe zero rows.
func (h *handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		h.writeError(w, r, errs.Validationf("MISSING_NAME", "name is required"))
		return
	}

	var created *db.Project
	err := h.store.WithExclusive(r.Context(), func(ctx context.Context, q store.Queryer) error {
		repo := db.NewProjectRepo(q)
		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return errs.Conflictf("PROJECT_ALREADY_EXISTS", "a project already exists; sparkq supports exactly one")
		}
		p := &db.Project{Name: req.Name, RepoPath: req.RepoPath, PRDPath: req.PRDPath}
		if err := repo.Create(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, created)
}

func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	repo := db.NewProjectRepo(h.store.SQL())
	p, err := repo.GetSingleton(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := []*db.Project{}
	if p != nil {
		items = append(items, p)
	}
	jsonResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handler) getProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo := db.NewProjectRepo(h.store.SQL())
	p, err := repo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, p)
}
