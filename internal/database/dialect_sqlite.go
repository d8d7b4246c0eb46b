package database

import (
	"strings"
)

// SQLiteDialect is the single-file backend used for development and small
// shards.
type SQLiteDialect struct{}

// DriverName returns "sqlite" for the modernc.org/sqlite driver.
func (d *SQLiteDialect) DriverName() string {
	return "sqlite"
}

// Placeholder returns "?" for all positions.
func (d *SQLiteDialect) Placeholder(position int) string {
	return "?"
}

// InitStatements returns the connection PRAGMAs. WAL lets session loads
// read while the progress writer commits.
func (d *SQLiteDialect) InitStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
}

// IsDuplicateKeyError matches the driver's constraint messages, which carry
// no error code.
func (d *SQLiteDialect) IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func (d *SQLiteDialect) BinaryType() string {
	return "BLOB"
}

// LockRowClause is empty: the database runs on one connection and the
// grant transaction takes the write lock in its first statement, so grants
// are already serialized.
func (d *SQLiteDialect) LockRowClause() string {
	return ""
}
