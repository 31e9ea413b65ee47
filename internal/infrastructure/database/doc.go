// Package database manages the SQLite traffic log database.
//
// It wraps database/sql with WAL-mode pragmas suited to a single-writer
// recorder, and applies embedded schema migrations on startup.
package database
