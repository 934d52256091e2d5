package persistence

import (
	"database/sql"
)

var sqliteDialect = sqlDialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	autoID:      "INTEGER PRIMARY KEY AUTOINCREMENT",
}

// NewSQLiteRunStore initializes the workflow_runs schema in the given
// database and returns a RunStore backed by it.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// An in-memory database (":memory:") is private to one connection, so
// callers using one should also call db.SetMaxOpenConns(1).
func NewSQLiteRunStore(db *sql.DB) (*SQLRunStore, error) {
	return newSQLRunStore(db, sqliteDialect)
}
