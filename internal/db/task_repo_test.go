package db

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/store"
)

func seedQueueChain(t *testing.T, s *store.Store) *Queue {
	t.Helper()
	p := seedProject(t, s)
	sess := seedSession(t, s, p.ID)
	return seedQueue(t, s, sess.ID)
}

func TestTaskRepoCreateRejectsNonPositiveTimeout(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())

	err := repo.Create(context.Background(), &Task{QueueID: q.ID, ToolName: "x", TaskClass: TaskClassFastScript, Timeout: 0})
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestTaskRepoCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	task := &Task{QueueID: q.ID, ToolName: "echo", TaskClass: TaskClassFastScript, Payload: json.RawMessage(`{"x":1}`), Timeout: 120}
	require.NoError(t, repo.Create(ctx, task))
	assert.Equal(t, TaskStatusQueued, task.Status)

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo", got.ToolName)
	assert.JSONEq(t, `{"x":1}`, string(got.Payload))
}

func TestTaskRepoGetMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := NewTaskRepo(s.SQL()).Get(context.Background(), "task_missing")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestTaskRepoClaimOldestQueuedOrdersByCreatedAt(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	// created_at is stored at second precision, so give the older task a
	// clearly earlier timestamp rather than relying on two back-to-back
	// Creates landing in different seconds.
	older := &Task{QueueID: q.ID, ToolName: "a", TaskClass: TaskClassFastScript, Timeout: 60, CreatedAt: time.Now().UTC().Add(-time.Minute)}
	require.NoError(t, repo.Create(ctx, older))
	newer := &Task{QueueID: q.ID, ToolName: "b", TaskClass: TaskClassFastScript, Timeout: 60}
	require.NoError(t, repo.Create(ctx, newer))

	claimed, err := repo.ClaimOldestQueued(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, TaskStatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.ClaimedAt)
}

func TestTaskRepoClaimOldestQueuedOnEmptyQueueIsNotFound(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	_, err := NewTaskRepo(s.SQL()).ClaimOldestQueued(context.Background(), q.ID)
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

// ClaimOldestQueued is documented to only be atomic under
// Store.WithExclusive; this test drives it through the store the way
// lifecycle.Engine.Claim does, with many goroutines racing a single queued
// row, and asserts exactly one winner.
func TestClaimOldestQueuedIsAtomicUnderConcurrency(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	ctx := context.Background()

	task := &Task{QueueID: q.ID, ToolName: "solo", TaskClass: TaskClassFastScript, Timeout: 60}
	require.NoError(t, NewTaskRepo(s.SQL()).Create(ctx, task))

	const n = 20
	var wg sync.WaitGroup
	claims := make([]*Task, n)
	errsOut := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.WithExclusive(ctx, func(ctx context.Context, q store.Queryer) error {
				t, err := NewTaskRepo(q).ClaimOldestQueued(ctx, task.QueueID)
				claims[i] = t
				errsOut[i] = err
				return nil
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errsOut[i] == nil {
			winners++
			assert.Equal(t, task.ID, claims[i].ID)
		} else {
			assert.Equal(t, errs.NotFound, errs.KindOf(errsOut[i]))
		}
	}
	assert.Equal(t, 1, winners, "exactly one goroutine should win the claim")
}

func TestTaskRepoCompleteRequiresRunning(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	task := &Task{QueueID: q.ID, ToolName: "x", TaskClass: TaskClassFastScript, Timeout: 60}
	require.NoError(t, repo.Create(ctx, task))

	err := repo.Complete(ctx, task.ID, json.RawMessage(`{"summary":"ok"}`), "", "")
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))

	_, err = repo.ClaimOldestQueued(ctx, q.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, task.ID, json.RawMessage(`{"summary":"ok"}`), "out", "err"))

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusSucceeded, got.Status)
	assert.Equal(t, "out", got.Stdout)
	require.NotNil(t, got.FinishedAt)
}

func TestTaskRepoFailRequiresNonEmptyMessage(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	task := &Task{QueueID: q.ID, ToolName: "x", TaskClass: TaskClassFastScript, Timeout: 60}
	require.NoError(t, repo.Create(ctx, task))
	_, err := repo.ClaimOldestQueued(ctx, q.ID)
	require.NoError(t, err)

	err = repo.Fail(ctx, task.ID, "  ", "", "")
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))

	require.NoError(t, repo.Fail(ctx, task.ID, "boom", "", "stderr text"))
	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestTaskRepoMarkStaleWarnedIsOnceOnly(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	task := &Task{QueueID: q.ID, ToolName: "x", TaskClass: TaskClassFastScript, Timeout: 60}
	require.NoError(t, repo.Create(ctx, task))
	_, err := repo.ClaimOldestQueued(ctx, q.ID)
	require.NoError(t, err)

	require.NoError(t, repo.MarkStaleWarned(ctx, task.ID))
	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StaleWarnedAt)
	first := *got.StaleWarnedAt

	require.NoError(t, repo.MarkStaleWarned(ctx, task.ID))
	got2, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got2.StaleWarnedAt.Equal(first), "second call must not overwrite the first stamp")
}

func TestTaskRepoListRunningOlderThan(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	task := &Task{QueueID: q.ID, ToolName: "x", TaskClass: TaskClassFastScript, Timeout: 60}
	require.NoError(t, repo.Create(ctx, task))
	_, err := repo.ClaimOldestQueued(ctx, q.ID)
	require.NoError(t, err)

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	stale, err := repo.ListRunningOlderThan(ctx, future)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, task.ID, stale[0].ID)

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	none, err := repo.ListRunningOlderThan(ctx, past)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTaskRepoDeleteFinishedOlderThan(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	task := &Task{QueueID: q.ID, ToolName: "x", TaskClass: TaskClassFastScript, Timeout: 60}
	require.NoError(t, repo.Create(ctx, task))
	_, err := repo.ClaimOldestQueued(ctx, q.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, task.ID, json.RawMessage(`{"summary":"ok"}`), "", ""))

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	n, err := repo.DeleteFinishedOlderThan(ctx, future)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.Get(ctx, task.ID)
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestTaskRepoListPageOffsetAndTotalCount(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, &Task{QueueID: q.ID, ToolName: "x", TaskClass: TaskClassFastScript, Timeout: 60}))
	}

	params, err := ParsePageParams("2", "0", "", "created_at", "asc")
	require.NoError(t, err)

	page, err := repo.ListPage(ctx, TaskFilter{QueueID: q.ID}, params)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	require.NotNil(t, page.TotalCount)
	assert.EqualValues(t, 5, *page.TotalCount)
	assert.True(t, page.Truncated)
}

func TestTaskRepoListPageCursorIsStableAcrossPages(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	// One second apart, so created_at alone fixes the expected order.
	base := time.Now().UTC().Add(-time.Hour)
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		task := &Task{QueueID: q.ID, ToolName: "x", TaskClass: TaskClassFastScript, Timeout: 60, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, repo.Create(ctx, task))
		ids = append(ids, task.ID)
	}

	params, err := ParsePageParams("2", "", "", "created_at", "asc")
	require.NoError(t, err)
	first, err := repo.ListPage(ctx, TaskFilter{QueueID: q.ID}, params)
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	params2, err := ParsePageParams("2", "", first.NextCursor, "created_at", "asc")
	require.NoError(t, err)
	second, err := repo.ListPage(ctx, TaskFilter{QueueID: q.ID}, params2)
	require.NoError(t, err)
	require.Len(t, second.Items, 2)

	seen := map[string]bool{}
	for _, item := range first.Items {
		seen[item.ID] = true
	}
	for _, item := range second.Items {
		assert.False(t, seen[item.ID], "cursor pages must not overlap")
	}
	assert.Equal(t, ids[0], first.Items[0].ID)
	assert.Equal(t, ids[2], second.Items[0].ID)
}

func TestTaskRepoListPageCursorRejectsFingerprintMismatch(t *testing.T) {
	s := openTestStore(t)
	q := seedQueueChain(t, s)
	repo := NewTaskRepo(s.SQL())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &Task{QueueID: q.ID, ToolName: "x", TaskClass: TaskClassFastScript, Timeout: 60}))
	}
	params, err := ParsePageParams("1", "", "", "created_at", "asc")
	require.NoError(t, err)
	first, err := repo.ListPage(ctx, TaskFilter{QueueID: q.ID}, params)
	require.NoError(t, err)
	require.NotEmpty(t, first.NextCursor)

	// Replay the cursor against a different status filter: the fingerprint
	// embedded in the cursor no longer matches, so it must be rejected.
	params2, err := ParsePageParams("1", "", first.NextCursor, "created_at", "asc")
	require.NoError(t, err)
	_, err = repo.ListPage(ctx, TaskFilter{QueueID: q.ID, Status: TaskStatusQueued}, params2)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}
