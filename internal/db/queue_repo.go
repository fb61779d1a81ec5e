package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/store"
)

// QueueRepo persists Queues, the FIFO lanes tasks are enqueued onto. Name
// uniqueness is scoped to non-archived queues within a session (I9), which
// the schema can't express as a plain UNIQUE index, so Create checks it
// explicitly; callers MUST invoke Create from inside Store.WithExclusive so
// the check-then-insert is atomic under the writer-exclusive section.
type QueueRepo struct {
	q store.Queryer
}

func NewQueueRepo(q store.Queryer) *QueueRepo {
	return &QueueRepo{q: q}
}

func (r *QueueRepo) NameTaken(ctx context.Context, sessionID, name string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
SELECT count(1) FROM queues WHERE session_id = ? AND name = ? AND status != ?
`, sessionID, name, QueueStatusArchived).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check queue name %q: %w", name, err)
	}
	return n > 0, nil
}

func (r *QueueRepo) Create(ctx context.Context, queue *Queue) error {
	if queue.ID == "" {
		id, err := NewID("queue")
		if err != nil {
			return err
		}
		queue.ID = id
	}
	if queue.Status == "" {
		queue.Status = QueueStatusActive
	}
	if queue.CreatedAt.IsZero() {
		queue.CreatedAt = nowUTC()
	}
	if queue.UpdatedAt.IsZero() {
		queue.UpdatedAt = queue.CreatedAt
	}

	taken, err := r.NameTaken(ctx, queue.SessionID, queue.Name)
	if err != nil {
		return err
	}
	if taken {
		return errs.Conflictf("QUEUE_NAME_TAKEN", "a non-archived queue named %q already exists in this session", queue.Name)
	}

	_, err = r.q.ExecContext(ctx, `
INSERT INTO queues (id, session_id, name, instructions, status, model_profile, codex_session_id, ended_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, queue.ID, queue.SessionID, queue.Name, queue.Instructions, queue.Status, queue.ModelProfile, queue.CodexSessionID, formatTimestampPtr(queue.EndedAt), formatTimestamp(queue.CreatedAt), formatTimestamp(queue.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	return nil
}

func (r *QueueRepo) Get(ctx context.Context, id string) (*Queue, error) {
	qr, err := r.scanOne(ctx, `
SELECT id, session_id, name, instructions, status, model_profile, codex_session_id, ended_at, created_at, updated_at
FROM queues WHERE id = ?
`, id)
	if err != nil {
		return nil, err
	}
	if qr == nil {
		return nil, errs.NotFoundf("QUEUE_NOT_FOUND", "queue %q not found", id)
	}
	return qr, nil
}

func (r *QueueRepo) List(ctx context.Context, filter QueueFilter) ([]*Queue, error) {
	query := `SELECT id, session_id, name, instructions, status, model_profile, codex_session_id, ended_at, created_at, updated_at FROM queues`
	args := []any{}
	where := []string{}

	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	} else if !filter.IncludeArchived {
		where = append(where, "status != ?")
		args = append(args, QueueStatusArchived)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	defer rows.Close()

	queues := []*Queue{}
	for rows.Next() {
		qr, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, qr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating queues: %w", err)
	}
	return queues, nil
}

// End forbids new enqueues but leaves existing queued/running tasks free to
// drain. End itself never re-activates a queue; an ended queue can still be
// archived, and Unarchive then returns it to active.
func (r *QueueRepo) End(ctx context.Context, id string) error {
	now := formatTimestamp(nowUTC())
	res, err := r.q.ExecContext(ctx, `
UPDATE queues SET status = ?, ended_at = ?, updated_at = ? WHERE id = ? AND status = ?
`, QueueStatusEnded, now, now, id, QueueStatusActive)
	if err != nil {
		return fmt.Errorf("failed to end queue %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for queue %q: %w", id, err)
	}
	if affected == 0 {
		return errs.Conflictf("QUEUE_NOT_ACTIVE", "queue %q is not active", id)
	}
	return nil
}

// Archive hides a queue from default listings without deleting it. Archival
// is non-destructive and reversible via Unarchive.
func (r *QueueRepo) Archive(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `
UPDATE queues SET status = ?, updated_at = ? WHERE id = ? AND status != ?
`, QueueStatusArchived, formatTimestamp(nowUTC()), id, QueueStatusArchived)
	if err != nil {
		return fmt.Errorf("failed to archive queue %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for queue %q: %w", id, err)
	}
	if affected == 0 {
		return errs.Conflictf("QUEUE_ALREADY_ARCHIVED", "queue %q is already archived", id)
	}
	return nil
}

// Unarchive restores a queue to active status. Per the decided resolution
// of the name-collision Open Question: if another non-archived queue in
// the same session has since taken this name, Unarchive fails Conflict
// rather than silently renaming or evicting the collider.
func (r *QueueRepo) Unarchive(ctx context.Context, id string) error {
	var sessionID, name string
	if err := r.q.QueryRowContext(ctx, `SELECT session_id, name FROM queues WHERE id = ? AND status = ?`, id, QueueStatusArchived).Scan(&sessionID, &name); err != nil {
		if err == sql.ErrNoRows {
			return errs.Conflictf("QUEUE_NOT_ARCHIVED", "queue %q is not archived", id)
		}
		return fmt.Errorf("failed to look up archived queue %q: %w", id, err)
	}

	taken, err := r.NameTaken(ctx, sessionID, name)
	if err != nil {
		return err
	}
	if taken {
		return errs.Conflictf("QUEUE_NAME_TAKEN", "a non-archived queue named %q already exists in this session", name)
	}

	res, err := r.q.ExecContext(ctx, `
UPDATE queues SET status = ?, ended_at = NULL, updated_at = ? WHERE id = ? AND status = ?
`, QueueStatusActive, formatTimestamp(nowUTC()), id, QueueStatusArchived)
	if err != nil {
		return fmt.Errorf("failed to unarchive queue %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for queue %q: %w", id, err)
	}
	if affected == 0 {
		return errs.Conflictf("QUEUE_NOT_ARCHIVED", "queue %q is not archived", id)
	}
	return nil
}

func (r *QueueRepo) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM queues WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read deleted rows for queue %q: %w", id, err)
	}
	if affected == 0 {
		return errs.NotFoundf("QUEUE_NOT_FOUND", "queue %q not found", id)
	}
	return nil
}

func (r *QueueRepo) scanOne(ctx context.Context, query string, args ...any) (*Queue, error) {
	row := r.q.QueryRowContext(ctx, query, args...)
	qr, err := scanQueueRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return qr, nil
}

func scanQueueRow(row rowScanner) (*Queue, error) {
	var qr Queue
	var instructions, modelProfile, codexSessionID sql.NullString
	var endedAtRaw sql.NullString
	var createdAtRaw, updatedAtRaw string

	if err := row.Scan(&qr.ID, &qr.SessionID, &qr.Name, &instructions, &qr.Status, &modelProfile, &codexSessionID, &endedAtRaw, &createdAtRaw, &updatedAtRaw); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}
	qr.Instructions = instructions.String
	qr.ModelProfile = modelProfile.String
	qr.CodexSessionID = codexSessionID.String

	var err error
	if qr.EndedAt, err = parseTimestampPtr(endedAtRaw); err != nil {
		return nil, err
	}
	if qr.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if qr.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	return &qr, nil
}
