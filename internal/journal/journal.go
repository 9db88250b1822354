// Package journal provides SQLite-backed durable storage for the
// engine's operation log and session snapshots.
//
// The journal is an append-only record of every mutation the engine
// applied:
//   - Ops: one row per mutation, content-addressed by op ID
//   - Snapshots: the session state after each applied op
//
// # Critical Patterns
//
// Content-addressed idempotency
//   - op id = SHA-256 over (token, op, args, seq) canonical JSON
//   - ON CONFLICT(id) DO NOTHING: re-appending after a crash is a no-op
//
// Logical identity and time
//   - All ordering uses seq INTEGER (the engine's op clock), NEVER
//     timestamps
//
// Deterministic query results
//   - All list queries include: ORDER BY seq ASC, id COLLATE BINARY ASC
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: snapshots reference their op
//
// Op IDs and snapshot hashes are computed in internal/sale/hash.go using
// RFC 8785 canonical JSON and SHA-256 with domain separation.
package journal

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added sale_id index on ops
const currentSchemaVersion = 1

// OpRecord is one journaled engine mutation.
type OpRecord struct {
	// ID is the content-addressed identity (sale.OpID over token, op,
	// args, seq).
	ID string

	// Token is the per-mutation op token.
	Token string

	// Op names the engine operation ("add_product", "remove_product", ...).
	Op string

	// Args is the canonical JSON of the operation arguments.
	Args json.RawMessage

	// OutputCase tags the result: an outcome name on success, an error
	// kind on failure.
	OutputCase string

	// Outcome is the canonical JSON of the result payload.
	Outcome json.RawMessage

	// Seq is the logical clock value assigned to this op.
	Seq int64

	// SaleID is the affected sale, zero when no sale was involved.
	SaleID int64

	// OperatorID attributes the op, zero when unauthenticated.
	OperatorID int64
}

// SnapshotRecord is the session state captured after an applied op.
type SnapshotRecord struct {
	// Seq is the logical clock value of the op that produced this state.
	Seq int64

	// OpID references the producing op.
	OpID string

	// State is the session state name ("empty", "active", ...).
	State string

	// SaleID is the selected sale, zero when the session is empty.
	SaleID int64

	// Session is the canonical JSON of the session snapshot.
	Session json.RawMessage

	// Hash is the domain-separated content hash of Session, verified on
	// rehydration to detect corruption.
	Hash string
}

// Journal provides durable storage for engine ops and session snapshots.
// Uses SQLite with WAL mode for concurrent read access.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a journal database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY errors.
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

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Journal methods when available.
func (j *Journal) DB() *sql.DB {
	return j.db
}

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
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the sale_id index for databases created before v1.
// New databases get it from schema.sql directly.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_ops_sale
		ON ops(sale_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (j *Journal) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := j.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
