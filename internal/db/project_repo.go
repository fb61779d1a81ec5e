package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/store"
)

// ProjectRepo persists the single Project row every session belongs to (I10:
// at most one project may ever exist).
type ProjectRepo struct {
	q store.Queryer
}

func NewProjectRepo(q store.Queryer) *ProjectRepo {
	return &ProjectRepo{q: q}
}

// Create inserts the project row. Callers MUST run this inside
// Store.WithExclusive and have already checked Count == 0, so the
// singleton invariant is enforced under the same writer-exclusive section
// rather than racing a separate check-then-insert.
func (r *ProjectRepo) Create(ctx context.Context, project *Project) error {
	if project.ID == "" {
		id, err := NewID("proj")
		if err != nil {
			return err
		}
		project.ID = id
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = nowUTC()
	}
	if project.UpdatedAt.IsZero() {
		project.UpdatedAt = project.CreatedAt
	}

	_, err := r.q.ExecContext(ctx, `
INSERT INTO projects (id, name, repo_path, prd_path, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`, project.ID, project.Name, project.RepoPath, project.PRDPath, formatTimestamp(project.CreatedAt), formatTimestamp(project.UpdatedAt))
	if err != nil {
		return errs.Wrap(errs.Conflict, "PROJECT_EXISTS", fmt.Errorf("failed to create project: %w", err))
	}
	return nil
}

// Count returns how many project rows exist, used to enforce I10 before
// Create runs.
func (r *ProjectRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT count(1) FROM projects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return n, nil
}

func (r *ProjectRepo) Get(ctx context.Context, id string) (*Project, error) {
	var p Project
	var createdAtRaw, updatedAtRaw string

	err := r.q.QueryRowContext(ctx, `
SELECT id, name, repo_path, prd_path, created_at, updated_at
FROM projects
WHERE id = ?
`, id).Scan(&p.ID, &p.Name, &p.RepoPath, &p.PRDPath, &createdAtRaw, &updatedAtRaw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("PROJECT_NOT_FOUND", "project %q not found", id)
		}
		return nil, fmt.Errorf("failed to get project %q: %w", id, err)
	}

	if p.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetSingleton returns the sole project row, or nil if none has been
// created yet.
func (r *ProjectRepo) GetSingleton(ctx context.Context) (*Project, error) {
	var p Project
	var createdAtRaw, updatedAtRaw string

	err := r.q.QueryRowContext(ctx, `
SELECT id, name, repo_path, prd_path, created_at, updated_at
FROM projects
ORDER BY created_at ASC
LIMIT 1
`).Scan(&p.ID, &p.Name, &p.RepoPath, &p.PRDPath, &createdAtRaw, &updatedAtRaw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get singleton project: %w", err)
	}

	if p.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepo) Update(ctx context.Context, project *Project) error {
	project.UpdatedAt = nowUTC()
	res, err := r.q.ExecContext(ctx, `
UPDATE projects
SET name = ?, repo_path = ?, prd_path = ?, updated_at = ?
WHERE id = ?
`, project.Name, project.RepoPath, project.PRDPath, formatTimestamp(project.UpdatedAt), project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project %q: %w", project.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for project %q: %w", project.ID, err)
	}
	if affected == 0 {
		return errs.NotFoundf("PROJECT_NOT_FOUND", "project %q not found", project.ID)
	}
	return nil
}
