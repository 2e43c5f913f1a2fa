package dialect

import "fmt"

// mysqlDialect backs DB_ENGINE=mysql, paired with gorm.io/driver/mysql.
// sqliteDialect (DB_ENGINE unset / local dev and tests) embeds it: sqlite
// accepts the same `?` placeholders and backtick-quoted identifiers, so
// sqlite reuses every fragment below and only reports its own Engine.
type mysqlDialect struct{}

func (mysqlDialect) Engine() Engine { return MySQL }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) Quote(identifier string) string { return "`" + identifier + "`" }

func (mysqlDialect) LimitOffset(limit, offset int) string {
	if offset > 0 {
		return fmt.Sprintf("LIMIT %d, %d", offset, limit)
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

func (mysqlDialect) ReturningClause(string) string { return "" }

func (mysqlDialect) SupportsReturning() bool { return false }

// sqliteDialect reuses every mysqlDialect fragment and only overrides
// Engine, so sqlhandler code that needs to tell the two apart (generated
// primary-key retrieval, see internal/sqlhandler/create.go) has a way to.
type sqliteDialect struct{ mysqlDialect }

func (sqliteDialect) Engine() Engine { return SQLite }
