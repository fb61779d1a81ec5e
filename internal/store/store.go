// Package store wraps the embedded relational engine: a single modernc.org/sqlite
// connection, goose-managed migrations, and the WithExclusive primitive every
// status-transitioning write must run inside (§4.A).
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"

	"github.com/sparkq/sparkq/internal/errs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the single-process, durable relational store described in §4.A.
// Exactly one *sql.DB connection is kept open, matching the teacher's own
// db.go: SQLite has no use for a connection pool when every writer already
// serializes through WithExclusive.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates the database file (and its directory) if absent, enables
// WAL + a 5s busy timeout + foreign keys, and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.Internalf("STORE_PATH_EMPTY", "database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := applyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Store{conn: conn, path: path}, nil
}

func applyMigrations(conn *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// SQL returns the underlying *sql.DB for read-only queries from repositories.
func (s *Store) SQL() *sql.DB {
	return s.conn
}

// Path returns the on-disk path of the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Queryer is the subset of *sql.DB, *sql.Tx and *sql.Conn that repositories
// need. Repositories are constructed with a Queryer rather than a concrete
// type so the same repo code runs against the pooled handle for reads and
// against the pinned connection WithExclusive hands to writes.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithExclusive runs fn inside a BEGIN IMMEDIATE transaction, the SQLite
// idiom for a writer-exclusive section (grounded on the reference storage
// layer's documented "IMMEDIATE mode serializes concurrent transactions"
// pattern). Every conditional UPDATE that gates a status transition on the
// current state MUST run inside this, and MUST treat zero affected rows as
// a definitive "precondition not met" signal rather than a silent success.
//
// database/sql's BeginTx always opens a deferred transaction, which cannot
// be upgraded to IMMEDIATE after the fact, so this pins a single *sql.Conn
// from the pool and issues BEGIN IMMEDIATE/COMMIT/ROLLBACK as raw
// statements on it instead of going through *sql.Tx.
func (s *Store) WithExclusive(ctx context.Context, fn func(ctx context.Context, q Queryer) error) error {
	conn, err := s.conn.Conn(ctx)
	if err != nil {
		return classifyTxError(err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return classifyTxError(err)
	}

	if err := fn(ctx, conn); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		var tagged *errs.Error
		if errors.As(err, &tagged) {
			return err
		}
		return classifyTxError(err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		return classifyTxError(err)
	}
	return nil
}

func classifyTxError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errs.NotFoundf("NOT_FOUND", "not found")
	case strings.Contains(msg, "busy") || strings.Contains(msg, "locked"):
		return errs.Busyf("STORE_BUSY", "database is busy, retry shortly")
	case strings.Contains(msg, "unique") || strings.Contains(msg, "constraint"):
		return errs.Conflictf("CONSTRAINT_VIOLATION", "%s", err.Error())
	default:
		return errs.Internalf("STORE_ERROR", "%s", err.Error())
	}
}

// ClassifyRowError translates a repository-level sql error the same way
// WithExclusive does, for read paths (Get/List) that run outside a
// transaction.
func ClassifyRowError(err error) error {
	return classifyTxError(err)
}
