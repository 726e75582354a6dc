// Package database provides the SQLite connection and schema the core
// subsystems persist through: the transaction log, the instrument
// registry, tick history, and provider_config.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// DB wraps a *sql.DB configured for a single long-lived process: WAL
// journaling, a busy timeout instead of SQLITE_BUSY errors, and a small
// connection pool (SQLite serializes writers regardless of pool size).
type DB struct {
	Conn *sql.DB
	path string
}

// Config selects where the database lives.
type Config struct {
	// Path is a filesystem path or a "file:" URI (the latter is used
	// as-is, e.g. "file::memory:?cache=shared" in tests).
	Path string
}

// New opens the database, applies PRAGMAs, and runs the schema.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	sep := "?"
	if strings.Contains(cfg.Path, "?") {
		sep = "&"
	}
	connStr := cfg.Path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer; a small pool avoids pointless
	// connection churn without serializing reads behind it.
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{Conn: conn, path: cfg.Path}
	if err := db.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error { return db.Conn.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id        TEXT PRIMARY KEY,
	type      TEXT NOT NULL CHECK (type IN ('BUY','SELL')),
	symbol    TEXT NOT NULL,
	quantity  REAL NOT NULL,
	price     REAL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_order ON transactions(timestamp, id);
CREATE INDEX IF NOT EXISTS idx_transactions_symbol ON transactions(symbol);

CREATE TABLE IF NOT EXISTS instruments (
	symbol TEXT PRIMARY KEY,
	price  REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	price  REAL NOT NULL,
	ts     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_symbol_ts ON price_history(symbol, ts);

CREATE TABLE IF NOT EXISTS provider_config (
	id                        INTEGER PRIMARY KEY CHECK (id = 1),
	api_url                   TEXT,
	ws_url                    TEXT,
	api_key                   TEXT,
	webhook_secret            TEXT,
	api_key_updated_at        TEXT,
	webhook_secret_updated_at TEXT,
	updated_at                TEXT
);
`

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.Conn.ExecContext(ctx, schema)
	return err
}
