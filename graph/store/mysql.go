package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(64) PRIMARY KEY,
			workflow_invocation_id VARCHAR(64) NOT NULL,
			seq INT NOT NULL,
			from_node_id VARCHAR(255) NOT NULL,
			to_node_id VARCHAR(255) NOT NULL,
			origin_invocation_id VARCHAR(64) NOT NULL DEFAULT '',
			target_invocation_id VARCHAR(64) NOT NULL DEFAULT '',
			kind VARCHAR(32) NOT NULL,
			payload LONGTEXT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_messages_run (workflow_invocation_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS node_invocations (
			id VARCHAR(64) PRIMARY KEY,
			workflow_invocation_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			output LONGTEXT NOT NULL,
			usd_cost DOUBLE NOT NULL,
			error TEXT NOT NULL,
			summary TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL,
			INDEX idx_invocations_run (workflow_invocation_id, started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS model_outputs (
			id VARCHAR(64) PRIMARY KEY,
			workflow_invocation_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			provider VARCHAR(64) NOT NULL,
			model VARCHAR(255) NOT NULL,
			attempt INT NOT NULL,
			text LONGTEXT NOT NULL,
			reasoning LONGTEXT NOT NULL,
			input_tokens INT NOT NULL,
			output_tokens INT NOT NULL,
			usd_cost DOUBLE NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_outputs_run (workflow_invocation_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS node_memory (
			workflow_invocation_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			memory JSON NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (workflow_invocation_id, node_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS evaluations (
			id VARCHAR(64) PRIMARY KEY,
			workflow_invocation_id VARCHAR(64) NOT NULL,
			score DOUBLE NOT NULL,
			accuracy DOUBLE NOT NULL,
			novelty DOUBLE NOT NULL,
			total_cost_usd DOUBLE NOT NULL,
			total_time_seconds DOUBLE NOT NULL,
			evaluation_cost_usd DOUBLE NOT NULL,
			feedback LONGTEXT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_evaluations_run (workflow_invocation_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertMemory: `
		INSERT INTO node_memory (workflow_invocation_id, node_id, memory, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			memory = VALUES(memory),
			updated_at = VALUES(updated_at)`,
}

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for:
//   - Production deployments with many workers sharing one database
//   - Audit trails that outlive the process
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Never hardcode credentials; read the DSN from configuration.
type MySQLStore struct {
	*sqlStore
}

// NewMySQLStore connects to MySQL, verifies the connection and creates the
// tables if they do not exist.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	st, err := NewMySQLStoreFromDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// NewMySQLStoreFromDB wraps an open connection pool and creates the tables
// if they do not exist. The store takes ownership of db.
func NewMySQLStoreFromDB(ctx context.Context, db *sql.DB) (*MySQLStore, error) {
	s, err := newSQLStore(ctx, db, mysqlDialect)
	if err != nil {
		return nil, err
	}
	return &MySQLStore{sqlStore: s}, nil
}
