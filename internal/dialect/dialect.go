// Package dialect abstracts the three SQL dialects named in spec.md §4.4:
// PostgreSQL, MySQL, Oracle. SQL handlers call through this interface for
// every engine-specific fragment (placeholder style, identifier quoting,
// LIMIT/OFFSET form, RETURNING-equivalent) so the handler logic itself
// stays dialect-agnostic.
package dialect

import "fmt"

// Engine names one of the three built-in dialects (spec.md §6 DB_ENGINE).
type Engine string

const (
	Postgres Engine = "postgresql"
	MySQL    Engine = "mysql"
	Oracle   Engine = "oracle"

	// SQLite is not one of spec.md §6's three DB_ENGINE values; it backs
	// local/dev and the test suite only (SPEC_FULL.md §6), sharing
	// mysqlDialect's fragment generation except where last-insert-id
	// syntax differs (internal/sqlhandler/create.go).
	SQLite Engine = "sqlite"
)

// Dialect is the engine-specific fragment generator SQL handlers use. No
// user-defined dialect plugins are supported beyond these three (spec.md
// §1 Non-goals).
type Dialect interface {
	Engine() Engine

	// Placeholder returns the parameter placeholder for the nth (1-based)
	// bound argument in a statement.
	Placeholder(n int) string

	// Quote quotes an identifier (table or column name).
	Quote(identifier string) string

	// LimitOffset renders the LIMIT/OFFSET clause fragment. offset may be 0.
	LimitOffset(limit, offset int) string

	// ReturningClause renders a RETURNING-equivalent clause for an INSERT
	// that needs the generated primary key back; empty string if the
	// dialect has no such clause (the caller then falls back to
	// last-insert-id + SELECT, see internal/sqlhandler/create.go).
	ReturningClause(pkColumn string) string

	// SupportsReturning reports whether ReturningClause produces usable SQL.
	SupportsReturning() bool
}

// For resolves the Dialect implementation for an engine name.
func For(engine Engine) (Dialect, error) {
	switch engine {
	case Postgres:
		return postgresDialect{}, nil
	case MySQL:
		return mysqlDialect{}, nil
	case SQLite:
		return sqliteDialect{mysqlDialect{}}, nil
	case Oracle:
		return oracleDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect engine %q", engine)
	}
}
