// Package sqlite provides the SQLite-backed revision log and the change
// index mirroring the host's changes and patch sets.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)"

// DB holds separate reader and writer pools. The writer is limited to one
// connection, which serializes every compare-and-swap transaction; readers
// run concurrently under WAL.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	dsn    string
}

// NewDB opens the database file at dbPath in WAL mode and applies pending
// migrations.
func NewDB(dbPath string) (*DB, error) {
	return open(fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&%s", dbPath, pragmas))
}

// NewMemoryDB opens a named in-memory database shared by the reader and
// writer pools. Databases with different names are isolated.
func NewMemoryDB(name string) (*DB, error) {
	// WAL does not apply to in-memory databases.
	return open(fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", url.PathEscape(name), pragmas))
}

func open(dsn string) (*DB, error) {
	ctx := context.Background()

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(ctx); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	db := &DB{Writer: writer, Reader: reader, dsn: dsn}
	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Ping checks both pools.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.Writer.PingContext(ctx); err != nil {
		return fmt.Errorf("ping writer: %w", err)
	}
	if err := db.Reader.PingContext(ctx); err != nil {
		return fmt.Errorf("ping reader: %w", err)
	}
	return nil
}

// Close closes both pools and returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error
	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}
	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}
	return firstErr
}
