package persistence

import (
	"database/sql"
	"strconv"
)

var postgresDialect = sqlDialect{
	name:        "postgres",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	autoID:      "BIGSERIAL PRIMARY KEY",
}

// NewPostgresRunStore initializes the workflow_runs schema in the given
// database and returns a RunStore backed by it.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib"). The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
func NewPostgresRunStore(db *sql.DB) (*SQLRunStore, error) {
	return newSQLRunStore(db, postgresDialect)
}
