package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/store"
)

// TaskRepo persists Tasks and exposes the conditional UPDATEs the lifecycle
// engine composes into claim/complete/fail/requeue. Every method that
// transitions status is written as an UPDATE ... WHERE status = <expected>
// and reports zero affected rows rather than silently no-opping, per the
// store's exclusive-write contract (§4.A): Complete and Fail as a Conflict,
// ClaimOldestQueued as NotFound (the same as an empty queue).
type TaskRepo struct {
	q store.Queryer
}

func NewTaskRepo(q store.Queryer) *TaskRepo {
	return &TaskRepo{q: q}
}

// Create inserts a new queued task. Callers enforce I7 (queue/session must
// be active) before calling this.
func (r *TaskRepo) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		id, err := NewID("task")
		if err != nil {
			return err
		}
		t.ID = id
	}
	if t.Status == "" {
		t.Status = TaskStatusQueued
	}
	if t.Timeout <= 0 {
		return errs.Validationf("INVALID_TIMEOUT", "timeout must be a positive number of seconds")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = nowUTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	_, err := r.q.ExecContext(ctx, `
INSERT INTO tasks (id, queue_id, tool_name, task_class, payload, status, timeout, attempts, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, t.ID, t.QueueID, t.ToolName, t.TaskClass, rawMessageOrNil(t.Payload), t.Status, t.Timeout, t.Attempts, formatTimestamp(t.CreatedAt), formatTimestamp(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *TaskRepo) Get(ctx context.Context, id string) (*Task, error) {
	t, err := r.scanOne(ctx, `
SELECT id, queue_id, tool_name, task_class, payload, status, timeout, attempts, result, error, stdout, stderr, claimed_at, started_at, finished_at, stale_warned_at, created_at, updated_at
FROM tasks WHERE id = ?
`, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errs.NotFoundf("TASK_NOT_FOUND", "task %q not found", id)
	}
	return t, nil
}

func (r *TaskRepo) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := `SELECT id, queue_id, tool_name, task_class, payload, status, timeout, attempts, result, error, stdout, stderr, claimed_at, started_at, finished_at, stale_warned_at, created_at, updated_at FROM tasks`
	args := []any{}
	where := []string{}

	if filter.QueueID != "" {
		where = append(where, "queue_id = ?")
		args = append(args, filter.QueueID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating tasks: %w", err)
	}
	return tasks, nil
}

// ListPage implements the cursor pagination contract (§4.B) for task
// listing: a caller-validated PageParams, an optional exact count, and the
// envelope required fields (items, limit, offset/next_cursor, total_count,
// truncated).
func (r *TaskRepo) ListPage(ctx context.Context, filter TaskFilter, p *PageParams) (*Page[*Task], error) {
	where := []string{}
	args := []any{}
	if filter.QueueID != "" {
		where = append(where, "queue_id = ?")
		args = append(args, filter.QueueID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	fingerprint := Fingerprint(p.SortBy, p.SortDir, map[string]string{"queue_id": filter.QueueID, "status": filter.Status})

	if p.UseCursor {
		sortValue, id, err := DecodeCursor(cursorKey, p.Cursor, fingerprint)
		if err != nil {
			return nil, err
		}
		op := ">"
		if p.SortDir == "desc" {
			op = "<"
		}
		where = append(where, fmt.Sprintf("(%s %s ? OR (%s = ? AND id > ?))", p.SortBy, op, p.SortBy))
		args = append(args, sortValue, sortValue, id)
	}

	query := fmt.Sprintf(`SELECT id, queue_id, tool_name, task_class, payload, status, timeout, attempts, result, error, stdout, stderr, claimed_at, started_at, finished_at, stale_warned_at, created_at, updated_at FROM tasks`)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id ASC", p.SortBy, strings.ToUpper(p.SortDir))

	fetchLimit := p.Limit + 1
	offset := 0
	if !p.UseCursor {
		offset = p.Offset
		query += " LIMIT ? OFFSET ?"
		args = append(args, fetchLimit, offset)
	} else {
		query += " LIMIT ?"
		args = append(args, fetchLimit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating tasks: %w", err)
	}

	truncated := len(tasks) > p.Limit
	if truncated {
		tasks = tasks[:p.Limit]
	}

	result := &Page[*Task]{Items: tasks, Limit: p.Limit, Truncated: truncated}
	if !p.UseCursor {
		off := offset
		result.Offset = &off
		total, err := r.count(ctx, filter)
		if err != nil {
			return nil, err
		}
		result.TotalCount = &total
	} else if truncated && len(tasks) > 0 {
		last := tasks[len(tasks)-1]
		result.NextCursor = EncodeCursor(cursorKey, sortValueOf(last, p.SortBy), last.ID, fingerprint)
	}
	return result, nil
}

func (r *TaskRepo) count(ctx context.Context, filter TaskFilter) (int64, error) {
	query := `SELECT count(1) FROM tasks`
	where := []string{}
	args := []any{}
	if filter.QueueID != "" {
		where = append(where, "queue_id = ?")
		args = append(args, filter.QueueID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var n int64
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

func sortValueOf(t *Task, sortBy string) string {
	switch sortBy {
	case "started_at":
		if t.StartedAt != nil {
			return formatTimestamp(*t.StartedAt)
		}
		return ""
	case "finished_at":
		if t.FinishedAt != nil {
			return formatTimestamp(*t.FinishedAt)
		}
		return ""
	case "status":
		return t.Status
	case "queue_name":
		return t.QueueName
	default:
		return formatTimestamp(t.CreatedAt)
	}
}

// ClaimOldestQueued atomically moves the oldest queued task in queueID to
// running and returns it. It MUST run inside Store.WithExclusive: the
// SELECT-then-UPDATE pair it performs is only safe because BEGIN IMMEDIATE
// has already serialized every other writer out. Oldest is by
// (created_at, id) so ties resolve deterministically.
func (r *TaskRepo) ClaimOldestQueued(ctx context.Context, queueID string) (*Task, error) {
	var id string
	err := r.q.QueryRowContext(ctx, `
SELECT id FROM tasks
WHERE queue_id = ? AND status = ?
ORDER BY created_at ASC, id ASC
LIMIT 1
`, queueID, TaskStatusQueued).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFoundf("NO_QUEUED_TASK", "no queued task available in queue %q", queueID)
		}
		return nil, fmt.Errorf("failed to find oldest queued task: %w", err)
	}

	now := formatTimestamp(nowUTC())
	res, err := r.q.ExecContext(ctx, `
UPDATE tasks
SET status = ?, claimed_at = ?, started_at = ?, attempts = attempts + 1, updated_at = ?
WHERE id = ? AND status = ?
`, TaskStatusRunning, now, now, now, id, TaskStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed rows for task %q: %w", id, err)
	}
	if affected == 0 {
		// Lost the race to another claimer between the SELECT and the
		// UPDATE; report it the same way an empty queue reports, so callers
		// don't need to distinguish the two.
		return nil, errs.NotFoundf("NO_QUEUED_TASK", "no queued task available in queue %q", queueID)
	}

	return r.Get(ctx, id)
}

// Complete transitions a running task to succeeded, recording result. Zero
// affected rows means the task was not running (already completed, failed,
// or requeued away) and is reported as Conflict.
func (r *TaskRepo) Complete(ctx context.Context, id string, result json.RawMessage, stdout, stderr string) error {
	now := formatTimestamp(nowUTC())
	res, err := r.q.ExecContext(ctx, `
UPDATE tasks
SET status = ?, result = ?, stdout = ?, stderr = ?, finished_at = ?, updated_at = ?
WHERE id = ? AND status = ?
`, TaskStatusSucceeded, rawMessageOrNil(result), nullIfEmpty(stdout), nullIfEmpty(stderr), now, now, id, TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete task %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read completed rows for task %q: %w", id, err)
	}
	if affected == 0 {
		return errs.Conflictf("TASK_NOT_RUNNING", "task %q is not running", id)
	}
	return nil
}

// Fail transitions a running task to failed, recording a non-empty error
// message (I5).
func (r *TaskRepo) Fail(ctx context.Context, id, errMsg, stdout, stderr string) error {
	if strings.TrimSpace(errMsg) == "" {
		return errs.Validationf("EMPTY_ERROR", "a failed task requires a non-empty error message")
	}
	now := formatTimestamp(nowUTC())
	res, err := r.q.ExecContext(ctx, `
UPDATE tasks
SET status = ?, error = ?, stdout = ?, stderr = ?, finished_at = ?, updated_at = ?
WHERE id = ? AND status = ?
`, TaskStatusFailed, errMsg, nullIfEmpty(stdout), nullIfEmpty(stderr), now, now, id, TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to fail task %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read failed rows for task %q: %w", id, err)
	}
	if affected == 0 {
		return errs.Conflictf("TASK_NOT_RUNNING", "task %q is not running", id)
	}
	return nil
}

// MarkStaleWarned records a one-time stale warning timestamp without
// changing status, so the janitor doesn't re-warn every tick.
func (r *TaskRepo) MarkStaleWarned(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `
UPDATE tasks SET stale_warned_at = ?, updated_at = ? WHERE id = ? AND status = ? AND stale_warned_at IS NULL
`, formatTimestamp(nowUTC()), formatTimestamp(nowUTC()), id, TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark task %q stale: %w", id, err)
	}
	return nil
}

// AutoFail force-fails a running task with reason as its error, clearing
// stdout/stderr. The janitor's sweep (lifecycle.Engine.SweepStale) does not
// use it; it calls Fail directly so the task's captured output is kept.
func (r *TaskRepo) AutoFail(ctx context.Context, id, reason string) error {
	return r.Fail(ctx, id, reason, "", "")
}

// ListRunningOlderThan returns running tasks whose claimed_at is at or
// before cutoffRFC3339, for the janitor's stale-warn/auto-fail sweeps.
func (r *TaskRepo) ListRunningOlderThan(ctx context.Context, cutoffRFC3339 string) ([]*Task, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT id, queue_id, tool_name, task_class, payload, status, timeout, attempts, result, error, stdout, stderr, claimed_at, started_at, finished_at, stale_warned_at, created_at, updated_at
FROM tasks
WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?
`, TaskStatusRunning, cutoffRFC3339)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale running tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating stale running tasks: %w", err)
	}
	return tasks, nil
}

// DeleteFinishedOlderThan purges terminal-state tasks past the configured
// retention age, returning the number of rows removed.
func (r *TaskRepo) DeleteFinishedOlderThan(ctx context.Context, cutoffRFC3339 string) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
DELETE FROM tasks
WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at <= ?
`, TaskStatusSucceeded, TaskStatusFailed, cutoffRFC3339)
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished tasks: %w", err)
	}
	return res.RowsAffected()
}

func (r *TaskRepo) scanOne(ctx context.Context, query string, args ...any) (*Task, error) {
	row := r.q.QueryRowContext(ctx, query, args...)
	t, err := scanTaskRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func scanTaskRow(row rowScanner) (*Task, error) {
	var t Task
	var payload sql.NullString
	var result, errMsg, stdout, stderr sql.NullString
	var claimedAt, startedAt, finishedAt, staleWarnedAt sql.NullString
	var createdAtRaw, updatedAtRaw string

	if err := row.Scan(&t.ID, &t.QueueID, &t.ToolName, &t.TaskClass, &payload, &t.Status, &t.Timeout, &t.Attempts,
		&result, &errMsg, &stdout, &stderr, &claimedAt, &startedAt, &finishedAt, &staleWarnedAt, &createdAtRaw, &updatedAtRaw); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if payload.Valid {
		t.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	t.Error = errMsg.String
	t.Stdout = stdout.String
	t.Stderr = stderr.String

	var err error
	if t.ClaimedAt, err = parseTimestampPtr(claimedAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = parseTimestampPtr(startedAt); err != nil {
		return nil, err
	}
	if t.FinishedAt, err = parseTimestampPtr(finishedAt); err != nil {
		return nil, err
	}
	if t.StaleWarnedAt, err = parseTimestampPtr(staleWarnedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	return &t, nil
}
