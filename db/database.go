package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Database owns the ledger connection.
//
//	ledger, err := db.Open(ctx, "data/ledger.db")
//	if err != nil {
//	    return err
//	}
//	defer ledger.Close()
type Database struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open creates parent directories, connects, and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Database, error) {
	return OpenWithConfig(ctx, DefaultConnectionConfig(path))
}

// OpenWithConfig is Open with a custom connection config.
func OpenWithConfig(ctx context.Context, config ConnectionConfig) (*Database, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	conn, err := NewSQLiteConnection(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	d := &Database{db: conn, path: config.Path}
	if err := d.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Migrate applies pending migrations on a dedicated connection, since the
// migrator closes the connection it is given.
func (d *Database) Migrate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := NewSQLiteConnection(ctx, DefaultConnectionConfig(d.path))
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if err := MigrateUp(conn); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Version reports the applied migration version.
func (d *Database) Version(ctx context.Context) (uint, bool, error) {
	conn, err := NewSQLiteConnection(ctx, DefaultConnectionConfig(d.path))
	if err != nil {
		return 0, false, err
	}
	return MigrationVersion(conn)
}

// DB returns the underlying connection. Close the Database, not this.
func (d *Database) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Close closes the connection. Later calls return nil.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return ErrClosed
	}
	return d.db.PingContext(ctx)
}

// Stats returns connection pool statistics.
func (d *Database) Stats() sql.DBStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return sql.DBStats{}
	}
	return d.db.Stats()
}

// ExecContext executes a statement without returning rows.
func (d *Database) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, ErrClosed
	}
	return d.db.ExecContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
func (d *Database) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, ErrClosed
	}
	return d.db.QueryContext(ctx, query, args...)
}

// Row is the Scan half of *sql.Row.
type Row interface {
	Scan(dest ...any) error
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// QueryRowContext executes a query that returns at most one row. On a closed
// database the returned row's Scan returns ErrClosed.
func (d *Database) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return errRow{ErrClosed}
	}
	return d.db.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (d *Database) BeginTx(ctx context.Context) (*sql.Tx, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, ErrClosed
	}
	return d.db.BeginTx(ctx, nil)
}
