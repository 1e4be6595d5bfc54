package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			workflow_invocation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			from_node_id TEXT NOT NULL,
			to_node_id TEXT NOT NULL,
			origin_invocation_id TEXT NOT NULL DEFAULT '',
			target_invocation_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_run ON messages (workflow_invocation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS node_invocations (
			id TEXT PRIMARY KEY,
			workflow_invocation_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			output TEXT NOT NULL,
			usd_cost REAL NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_run ON node_invocations (workflow_invocation_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS model_outputs (
			id TEXT PRIMARY KEY,
			workflow_invocation_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			text TEXT NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			usd_cost REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outputs_run ON model_outputs (workflow_invocation_id)`,
		`CREATE TABLE IF NOT EXISTS node_memory (
			workflow_invocation_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			memory TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (workflow_invocation_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS evaluations (
			id TEXT PRIMARY KEY,
			workflow_invocation_id TEXT NOT NULL,
			score REAL NOT NULL,
			accuracy REAL NOT NULL,
			novelty REAL NOT NULL,
			total_cost_usd REAL NOT NULL,
			total_time_seconds REAL NOT NULL,
			evaluation_cost_usd REAL NOT NULL,
			feedback TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
	},
	upsertMemory: `
		INSERT INTO node_memory (workflow_invocation_id, node_id, memory, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workflow_invocation_id, node_id) DO UPDATE SET
			memory = excluded.memory,
			updated_at = excluded.updated_at`,
}

// SQLiteStore is a SQLite implementation of Store.
//
// Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments that want records to survive restarts
//
// The store uses WAL mode and creates its tables on first use.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens or creates the database at path. Use ":memory:" for a
// throwaway database.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: s, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}
