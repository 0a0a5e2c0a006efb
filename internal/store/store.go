package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/harmony/internal/merge"
	"github.com/roach88/harmony/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on remote_files.remote_identifier
const currentSchemaVersion = 1

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ChangeObserver is told which records a commit touched. It is called
// synchronously after the SQL transaction has committed and must not block.
type ChangeObserver interface {
	RecordsChanged(ids []record.RecordID)
}

// Store is the engine's own record database.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	policy *merge.Policy
	logger *slog.Logger

	// commitMu serializes commits so race detection sees a stable table.
	commitMu sync.Mutex

	mu        sync.RWMutex
	observers []ChangeObserver
}

// Option configures a Store.
type Option func(*Store)

// WithMergePolicy sets the policy that arbitrates write races.
func WithMergePolicy(p *merge.Policy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy == nil {
		s.policy = merge.NewPolicy(merge.WithLogger(s.logger))
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// AddObserver registers o for commit notifications.
func (s *Store) AddObserver(o ChangeObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Store) notify(ids []record.RecordID) {
	if len(ids) == 0 {
		return
	}
	s.mu.RLock()
	observers := append([]ChangeObserver(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o.RecordsChanged(ids)
	}
}

// IsSeeded reports whether seeding has completed against this store.
func (s *Store) IsSeeded(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_metadata WHERE key = ?`, metadataSeeded).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read seeded flag: %w", err)
	}
	return value == "true", nil
}

// SetSeeded records whether seeding has completed.
func (s *Store) SetSeeded(ctx context.Context, seeded bool) error {
	value := "false"
	if seeded {
		value = "true"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metadataSeeded, value)
	if err != nil {
		return fmt.Errorf("write seeded flag: %w", err)
	}
	return nil
}

// Reset deletes every record, account and metadata row. It is the only
// operation that may clear an account's change token.
func (s *Store) Reset(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	ids, err := s.recordIDs(ctx, s.db)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset: begin tx: %w", err)
	}
	defer tx.Rollback()

	// remote_files and the record tables cascade from managed_records.
	for _, table := range []string{"managed_records", "managed_accounts", "store_metadata"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset: commit: %w", err)
	}

	s.logger.Info("record store reset", "records", len(ids))
	s.notify(ids)
	return nil
}

const metadataSeeded = "is_seeded"

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes remote files by blob identifier.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_remote_files_remote_identifier
		ON remote_files(remote_identifier)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
