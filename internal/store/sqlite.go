// Package store is the gateway's SQLite persistence layer: caller
// accounts, the operator-managed upstream credential pool, and the
// append-only usage ledger.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// DB wraps the SQL database connection.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath, creating it and applying the schema
// if needed.
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// The pragma rides in the DSN so every pooled connection gets it,
	// not just the one that happens to run the Exec.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer. SQLite allows one write transaction at a time;
	// funneling all statements through one connection keeps the balance
	// decrement well-defined and spares every caller the SQLITE_BUSY
	// dance with the async credential write-throughs.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	if _, err := db.conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("schema failed: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}
