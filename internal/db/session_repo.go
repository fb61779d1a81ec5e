package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/store"
)

// SessionRepo persists Sessions, the grouping envelope for a project's
// queues. Name uniqueness (among non-deleted sessions of the same project)
// is enforced by the schema: deletion is a hard DELETE with no soft-delete
// column, so the plain (project_id, name) UNIQUE constraint the migration
// declares is sufficient, and Create translates its violation into Conflict.
type SessionRepo struct {
	q store.Queryer
}

func NewSessionRepo(q store.Queryer) *SessionRepo {
	return &SessionRepo{q: q}
}

func (r *SessionRepo) Create(ctx context.Context, s *Session) error {
	if s.ID == "" {
		id, err := NewID("sess")
		if err != nil {
			return err
		}
		s.ID = id
	}
	if s.Status == "" {
		s.Status = SessionStatusActive
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = nowUTC()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = nowUTC()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}

	_, err := r.q.ExecContext(ctx, `
INSERT INTO sessions (id, project_id, name, description, status, started_at, ended_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, s.ID, s.ProjectID, s.Name, s.Description, s.Status, formatTimestamp(s.StartedAt), formatTimestampPtr(s.EndedAt), formatTimestamp(s.CreatedAt), formatTimestamp(s.UpdatedAt))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return errs.Conflictf("SESSION_NAME_TAKEN", "a session named %q already exists in this project", s.Name)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	s, err := r.scanOne(ctx, `
SELECT id, project_id, name, description, status, started_at, ended_at, created_at, updated_at
FROM sessions WHERE id = ?
`, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.NotFoundf("SESSION_NOT_FOUND", "session %q not found", id)
	}
	return s, nil
}

func (r *SessionRepo) List(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	query := `SELECT id, project_id, name, description, status, started_at, ended_at, created_at, updated_at FROM sessions`
	args := []any{}
	where := []string{}

	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating sessions: %w", err)
	}
	return sessions, nil
}

// End transitions a session to ended exactly once (irreversible). It is
// gated on the current status inside the caller's Store.WithExclusive
// section: zero affected rows means the session was already ended
// (Conflict) or does not exist (NotFound), told apart by an existence
// lookup.
func (r *SessionRepo) End(ctx context.Context, id string) error {
	now := formatTimestamp(nowUTC())
	res, err := r.q.ExecContext(ctx, `
UPDATE sessions
SET status = ?, ended_at = ?, updated_at = ?
WHERE id = ? AND status = ?
`, SessionStatusEnded, now, now, id, SessionStatusActive)
	if err != nil {
		return fmt.Errorf("failed to end session %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for session %q: %w", id, err)
	}
	if affected == 0 {
		var n int
		if err := r.q.QueryRowContext(ctx, `SELECT count(1) FROM sessions WHERE id = ?`, id).Scan(&n); err != nil {
			return fmt.Errorf("failed to look up session %q: %w", id, err)
		}
		if n == 0 {
			return errs.NotFoundf("SESSION_NOT_FOUND", "session %q not found", id)
		}
		return errs.Conflictf("SESSION_ALREADY_ENDED", "session %q is already ended", id)
	}
	return nil
}

func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read deleted rows for session %q: %w", id, err)
	}
	if affected == 0 {
		return errs.NotFoundf("SESSION_NOT_FOUND", "session %q not found", id)
	}
	return nil
}

func (r *SessionRepo) scanOne(ctx context.Context, query string, args ...any) (*Session, error) {
	row := r.q.QueryRowContext(ctx, query, args...)
	var s Session
	var description sql.NullString
	var startedAtRaw, createdAtRaw, updatedAtRaw string
	var endedAtRaw sql.NullString

	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &description, &s.Status, &startedAtRaw, &endedAtRaw, &createdAtRaw, &updatedAtRaw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.Description = description.String
	if s.StartedAt, err = parseTimestamp(startedAtRaw); err != nil {
		return nil, err
	}
	if s.EndedAt, err = parseTimestampPtr(endedAtRaw); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (*Session, error) {
	var s Session
	var description sql.NullString
	var startedAtRaw, createdAtRaw, updatedAtRaw string
	var endedAtRaw sql.NullString

	if err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &description, &s.Status, &startedAtRaw, &endedAtRaw, &createdAtRaw, &updatedAtRaw); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.Description = description.String
	var err error
	if s.StartedAt, err = parseTimestamp(startedAtRaw); err != nil {
		return nil, err
	}
	if s.EndedAt, err = parseTimestampPtr(endedAtRaw); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	return &s, nil
}
