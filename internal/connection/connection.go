// Package connection wraps gorm.io/gorm behind the opaque Connection
// capability spec.md §1 requires of the database layer: begin, cursor,
// commit, rollback, close — nothing more. SQL handlers (internal/sqlhandler)
// generate the SQL text themselves; this package never builds a query, it
// only executes the text it is given and shapes the result into
// column-name-keyed maps for the DAO to re-key by property name.
package connection

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"github.com/forbearing/querygate/types/gatewayerr"
)

// Connection is the opaque capability SQL handlers and the batch
// orchestrator are given; it never exposes the underlying *gorm.DB so a
// handler cannot accidentally reach for GORM's query builder instead of
// generating its own parameterized SQL (spec.md §4.4's explicit
// requirement for bespoke permission-projection-interleaved SQL
// generation).
type Connection interface {
	// Query executes sql with args and returns each row as a map keyed by
	// column name (not yet re-keyed to property name; that is the DAO's job).
	Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error)

	// Exec executes a non-SELECT statement, returning the affected row
	// count. Dialects without a RETURNING-equivalent fetch a generated
	// primary key via a dialect-specific follow-up Query call instead of
	// through this method (see internal/sqlhandler/create.go).
	Exec(ctx context.Context, sqlText string, args ...any) (rowsAffected int64, err error)

	// Begin starts a transaction, returning a Connection scoped to it.
	Begin(ctx context.Context) (Connection, error)
	Commit() error
	Rollback() error
	Close() error
}

type gormConnection struct {
	db *gorm.DB
}

// New wraps an already-opened *gorm.DB as a Connection.
func New(db *gorm.DB) Connection {
	return &gormConnection{db: db}
}

func (c *gormConnection) Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	rows, err := c.db.WithContext(ctx).Raw(sqlText, args...).Rows()
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "executing query")
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "reading result columns")
	}

	var out []map[string]any
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "scanning row")
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, err, "iterating rows")
	}
	return out, nil
}

func scanRow(rows *sql.Rows, cols []string) (map[string]any, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = normalizeScanValue(values[i])
	}
	return row, nil
}

// normalizeScanValue converts driver-returned []byte (common for TEXT/NUMERIC
// columns across sqlite/mysql drivers) into string so downstream handlers
// don't have to special-case byte slices.
func normalizeScanValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func (c *gormConnection) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	tx := c.db.WithContext(ctx).Exec(sqlText, args...)
	if tx.Error != nil {
		return 0, gatewayerr.Wrap(gatewayerr.InternalError, tx.Error, "executing statement")
	}
	return tx.RowsAffected, nil
}

func (c *gormConnection) Begin(ctx context.Context) (Connection, error) {
	tx := c.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, tx.Error, "beginning transaction")
	}
	return &gormConnection{db: tx}, nil
}

func (c *gormConnection) Commit() error {
	if err := c.db.Commit().Error; err != nil {
		return gatewayerr.Wrap(gatewayerr.InternalError, err, "committing transaction")
	}
	return nil
}

func (c *gormConnection) Rollback() error {
	if err := c.db.Rollback().Error; err != nil && !errors.Is(err, gorm.ErrInvalidTransaction) {
		return gatewayerr.Wrap(gatewayerr.InternalError, err, "rolling back transaction")
	}
	return nil
}

func (c *gormConnection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return nil
	}
	return sqlDB.Close()
}
