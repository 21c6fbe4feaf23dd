// Package sqlite provides SQLite-backed implementations of the store.Index
// and store.Fragments ports for persisting posts and their fragment runs.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/haukened/scribe/internal/app"
)

const schema = `CREATE TABLE IF NOT EXISTS posts (
id TEXT PRIMARY KEY,
title TEXT NOT NULL,
content TEXT NOT NULL,
tags TEXT NOT NULL DEFAULT '[]',
attachment_name TEXT,
attachment_status TEXT NOT NULL DEFAULT 'none',
generation INTEGER NOT NULL DEFAULT 0,
created_at INTEGER NOT NULL,
updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_created_at ON posts(created_at);
CREATE TABLE IF NOT EXISTS fragments (
post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
idx INTEGER NOT NULL,
payload BLOB NOT NULL,
size INTEGER NOT NULL,
PRIMARY KEY (post_id, idx)
);`

// InitSchema creates the posts and fragments tables if absent. Both the Index
// and the Fragments adapter call it, so either may be constructed first.
func InitSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("sqlite: nil db")
	}
	_, err := db.Exec(schema)
	return classify(err)
}

// classify maps driver errors onto application errors. Connectivity and
// locking failures become app.ErrStorageUnavailable; a foreign key violation
// means the owning post is gone.
func classify(err error) error {
	if err == nil {
		return nil
	}
	// database/sql reports a closed pool with an unexported error value.
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %w", app.ErrStorageUnavailable, err)
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrReadonly, sqlite3.ErrFull:
			return fmt.Errorf("%w: %w", app.ErrStorageUnavailable, err)
		case sqlite3.ErrConstraint:
			if se.ExtendedCode == sqlite3.ErrConstraintForeignKey {
				return fmt.Errorf("%w: %w", app.ErrNotFound, err)
			}
		}
	}
	return err
}
