package dialect

import "fmt"

// postgresDialect backs DB_ENGINE=postgresql, paired with gorm.io/driver/postgres.
type postgresDialect struct{}

func (postgresDialect) Engine() Engine { return Postgres }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) Quote(identifier string) string { return `"` + identifier + `"` }

func (postgresDialect) LimitOffset(limit, offset int) string {
	if offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf("LIMIT %d", limit)
}

func (postgresDialect) ReturningClause(pkColumn string) string {
	return "RETURNING " + `"` + pkColumn + `"`
}

func (postgresDialect) SupportsReturning() bool { return true }
