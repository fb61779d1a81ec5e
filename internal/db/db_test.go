package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sparkq/sparkq/internal/store"
)

// openTestStore gives repo tests a real migrated database. Repos only need
// a store.Queryer, so most tests hand them s.SQL() directly; tests of
// claim/race behavior go through s.WithExclusive like production code does.
func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sparkq.db")
	s, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProject(t *testing.T, s *store.Store) *Project {
	t.Helper()
	p := &Project{Name: "demo"}
	require.NoError(t, NewProjectRepo(s.SQL()).Create(context.Background(), p))
	return p
}

func seedSession(t *testing.T, s *store.Store, projectID string) *Session {
	t.Helper()
	sess := &Session{ProjectID: projectID, Name: "sess-" + projectID}
	require.NoError(t, NewSessionRepo(s.SQL()).Create(context.Background(), sess))
	return sess
}

func seedQueue(t *testing.T, s *store.Store, sessionID string) *Queue {
	t.Helper()
	q := &Queue{SessionID: sessionID, Name: "queue-" + sessionID}
	require.NoError(t, NewQueueRepo(s.SQL()).Create(context.Background(), q))
	return q
}
