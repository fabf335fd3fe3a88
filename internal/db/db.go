package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Tables lists the dataset tables in dependency order.
var Tables = []string{
	"contacts", "products", "orders", "order_items", "campaigns",
}

// DB is a handle on the dashboard dataset. The dataset is owned
// by an external loader; request paths only ever read through the
// query-only pool. The writer exists only for handles returned by
// Create (fixtures and tests).
type DB struct {
	path   string
	reader *sql.DB
	writer *sql.DB
	mu     sync.Mutex // serializes writes
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	if readOnly {
		params.Set("mode", "ro")
		params.Set("_query_only", "1")
	}
	return "file:" + path + "?" + params.Encode()
}

// Open returns a read-only handle on the database at path. The
// file is not touched until the first query, so a missing file
// surfaces as a query error on the request that needs it.
func Open(path string) (*DB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving db path: %w", err)
	}
	reader, err := sql.Open("sqlite3", makeDSN(abs, true))
	if err != nil {
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	// Connections are not kept idle: each request dials the file
	// the loader last wrote and closes it when done.
	reader.SetMaxIdleConns(0)
	reader.SetMaxOpenConns(4)
	return &DB{path: abs, reader: reader}, nil
}

// Create creates (or opens) a writable database at path and
// applies the dataset schema. It is used to build fixtures.
func Create(path string) (*DB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(abs, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	d, err := Open(abs)
	if err != nil {
		writer.Close()
		return nil, err
	}
	d.writer = writer
	return d, nil
}

// Path returns the absolute path of the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the reader and, when present, the writer.
func (db *DB) Close() error {
	var werr error
	if db.writer != nil {
		werr = db.writer.Close()
	}
	return errors.Join(werr, db.reader.Close())
}

// Update executes fn within a write lock and transaction.
// The transaction is committed if fn returns nil, rolled back
// otherwise.
func (db *DB) Update(fn func(tx *sql.Tx) error) error {
	if db.writer == nil {
		return errors.New("database opened read-only")
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// withConn runs fn on a dedicated read connection that is closed
// on every exit path.
func (db *DB) withConn(
	ctx context.Context, fn func(conn *sql.Conn) error,
) error {
	conn, err := db.reader.Conn(ctx)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", db.path, err)
	}
	defer conn.Close()
	return fn(conn)
}
