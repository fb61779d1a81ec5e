// Package lifecycle implements the task state machine (§4.C): enqueue,
// claim, complete, fail, requeue, and the stale-warn/auto-fail detection
// the janitor drives. Every write composes repository calls inside a
// single Store.WithExclusive section so the conditional updates they issue
// stay atomic with the precondition checks around them.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/store"
)

// Engine is the component C lifecycle engine, constructed once in
// cmd/sparkqd and shared by every HTTP handler and CLI-facing call.
type Engine struct {
	store             *store.Store
	taskClassTimeouts map[string]int
}

// NewEngine builds an Engine. A non-nil taskClassTimeouts replaces
// db.DefaultTaskClassTimeouts entirely (a class it omits has no default);
// callers typically pass config's TaskClassTimeouts(), which already
// layers config over the defaults. A nil map uses the defaults.
func NewEngine(s *store.Store, taskClassTimeouts map[string]int) *Engine {
	if taskClassTimeouts == nil {
		taskClassTimeouts = db.DefaultTaskClassTimeouts
	}
	return &Engine{store: s, taskClassTimeouts: taskClassTimeouts}
}

// ResolveTimeout returns the explicit timeout if positive, else the
// configured default for taskClass.
func (e *Engine) ResolveTimeout(taskClass string, explicit int) (int, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if explicit < 0 {
		return 0, errs.Validationf("INVALID_TIMEOUT", "timeout must be a positive number of seconds")
	}
	t, ok := e.taskClassTimeouts[taskClass]
	if !ok || t <= 0 {
		return 0, errs.Validationf("UNKNOWN_TASK_CLASS", "task_class %q has no configured default timeout", taskClass)
	}
	return t, nil
}

// Enqueue creates a new queued task (I7: queue and session must both be
// active).
func (e *Engine) Enqueue(ctx context.Context, queueID, toolName, taskClass string, payload json.RawMessage, explicitTimeout int) (*db.Task, error) {
	timeout, err := e.ResolveTimeout(taskClass, explicitTimeout)
	if err != nil {
		return nil, err
	}

	var created *db.Task
	err = e.store.WithExclusive(ctx, func(ctx context.Context, q store.Queryer) error {
		queueRepo := db.NewQueueRepo(q)
		queue, err := queueRepo.Get(ctx, queueID)
		if err != nil {
			return err
		}
		if queue.Status != db.QueueStatusActive {
			return errs.Conflictf("QUEUE_NOT_ACTIVE", "queue %q is not active", queueID)
		}

		sessionRepo := db.NewSessionRepo(q)
		session, err := sessionRepo.Get(ctx, queue.SessionID)
		if err != nil {
			return err
		}
		if session.Status != db.SessionStatusActive {
			return errs.Conflictf("SESSION_NOT_ACTIVE", "session %q is not active", queue.SessionID)
		}

		t := &db.Task{
			QueueID:   queueID,
			ToolName:  toolName,
			TaskClass: taskClass,
			Payload:   payload,
			Status:    db.TaskStatusQueued,
			Timeout:   timeout,
		}
		taskRepo := db.NewTaskRepo(q)
		if err := taskRepo.Create(ctx, t); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Claim atomically assigns the oldest queued task in queueID to a caller.
func (e *Engine) Claim(ctx context.Context, queueID string) (*db.Task, error) {
	var claimed *db.Task
	err := e.store.WithExclusive(ctx, func(ctx context.Context, q store.Queryer) error {
		taskRepo := db.NewTaskRepo(q)
		t, err := taskRepo.ClaimOldestQueued(ctx, queueID)
		if err != nil {
			return err
		}
		claimed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// completeResult is the shape result.summary enforcement (§7) checks for.
type completeResult struct {
	Summary string `json:"summary"`
}

// Complete validates that result carries a non-empty summary field (the
// part of §7's "Validation" contract this engine, not the HTTP layer, is
// responsible for) and then conditionally transitions the task.
func (e *Engine) Complete(ctx context.Context, taskID string, result json.RawMessage, stdout, stderr string) (*db.Task, error) {
	if len(result) == 0 {
		return nil, errs.Validationf("EMPTY_RESULT", "result is required and must be non-empty JSON")
	}
	var parsed completeResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, errs.Validationf("INVALID_RESULT", "result must be a JSON object: %v", err)
	}
	if parsed.Summary == "" {
		return nil, errs.Validationf("MISSING_RESULT_SUMMARY", "result.summary is required and must be non-empty")
	}

	var completed *db.Task
	err := e.store.WithExclusive(ctx, func(ctx context.Context, q store.Queryer) error {
		taskRepo := db.NewTaskRepo(q)
		if err := taskRepo.Complete(ctx, taskID, result, stdout, stderr); err != nil {
			return err
		}
		t, err := taskRepo.Get(ctx, taskID)
		if err != nil {
			return err
		}
		completed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// Fail transitions a running task to failed with a required error message.
func (e *Engine) Fail(ctx context.Context, taskID, errMsg, stdout, stderr string) (*db.Task, error) {
	var failed *db.Task
	err := e.store.WithExclusive(ctx, func(ctx context.Context, q store.Queryer) error {
		taskRepo := db.NewTaskRepo(q)
		if err := taskRepo.Fail(ctx, taskID, errMsg, stdout, stderr); err != nil {
			return err
		}
		t, err := taskRepo.Get(ctx, taskID)
		if err != nil {
			return err
		}
		failed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

// Requeue requires the source task to be failed and its queue still
// active; it never mutates the source task (I8), instead copying
// tool_name/task_class/payload/timeout into a brand new queued task.
func (e *Engine) Requeue(ctx context.Context, taskID string) (*db.Task, error) {
	var created *db.Task
	err := e.store.WithExclusive(ctx, func(ctx context.Context, q store.Queryer) error {
		taskRepo := db.NewTaskRepo(q)
		source, err := taskRepo.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if source.Status != db.TaskStatusFailed {
			return errs.Conflictf("TASK_NOT_FAILED", "task %q is not failed", taskID)
		}

		queueRepo := db.NewQueueRepo(q)
		queue, err := queueRepo.Get(ctx, source.QueueID)
		if err != nil {
			return err
		}
		if queue.Status != db.QueueStatusActive {
			return errs.Conflictf("QUEUE_NOT_ACTIVE", "queue %q is not active", source.QueueID)
		}

		replacement := &db.Task{
			QueueID:   source.QueueID,
			ToolName:  source.ToolName,
			TaskClass: source.TaskClass,
			Payload:   source.Payload,
			Status:    db.TaskStatusQueued,
			Timeout:   source.Timeout,
		}
		if err := taskRepo.Create(ctx, replacement); err != nil {
			return err
		}
		created = replacement
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// StaleSweepResult reports what a single stale-janitor tick did.
type StaleSweepResult struct {
	Warned     int
	AutoFailed int
}

// SweepStale marks newly stale-warned tasks and auto-fails those past 2x
// timeout, all inside one exclusive transaction so the tick is atomic and
// idempotent: a task already stale_warned_at-stamped is skipped, and a task
// already past 2x is auto-failed exactly once (the conditional UPDATE in
// TaskRepo.Fail makes a second attempt on an already-failed task a no-op
// Conflict that the sweep ignores).
func (e *Engine) SweepStale(ctx context.Context) (StaleSweepResult, error) {
	var result StaleSweepResult
	err := e.store.WithExclusive(ctx, func(ctx context.Context, q store.Queryer) error {
		taskRepo := db.NewTaskRepo(q)
		// claimed_at at least one second ago (the smallest possible
		// timeout) is the widest net that could possibly be stale; exact
		// staleness is re-checked per task below since timeout varies per
		// task.
		cutoff := time.Now().UTC().Add(-time.Second).Format(time.RFC3339)
		running, err := taskRepo.ListRunningOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, t := range running {
			if t.ClaimedAt == nil {
				continue
			}
			age := now.Sub(*t.ClaimedAt)
			timeout := time.Duration(t.Timeout) * time.Second

			if age > 2*timeout {
				if err := taskRepo.Fail(ctx, t.ID, "Auto-failed: exceeded 2x timeout", t.Stdout, t.Stderr); err != nil {
					if errs.KindOf(err) == errs.Conflict {
						continue
					}
					return err
				}
				result.AutoFailed++
				continue
			}
			if age > timeout && t.StaleWarnedAt == nil {
				if err := taskRepo.MarkStaleWarned(ctx, t.ID); err != nil {
					return err
				}
				result.Warned++
			}
		}
		return nil
	})
	return result, err
}

// SweepPurge deletes finished tasks older than olderThanDays, returning the
// number of rows removed.
func (e *Engine) SweepPurge(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = 3
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(time.RFC3339)

	var purged int64
	err := e.store.WithExclusive(ctx, func(ctx context.Context, q store.Queryer) error {
		taskRepo := db.NewTaskRepo(q)
		n, err := taskRepo.DeleteFinishedOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		purged = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge sweep failed: %w", err)
	}
	return purged, nil
}
