package dialect

import "fmt"

// oracleDialect is placeholder/quoting/limit-offset/RETURNING-equivalent
// logic only: no live Oracle driver ships in this module (see
// SPEC_FULL.md §4.4, DESIGN.md) because nothing in this specification
// requires an actual Oracle connection — the dialect abstraction's job is
// fragment generation, independent of whether a real driver is wired.
type oracleDialect struct{}

func (oracleDialect) Engine() Engine { return Oracle }

func (oracleDialect) Placeholder(n int) string { return fmt.Sprintf(":%d", n) }

func (oracleDialect) Quote(identifier string) string { return `"` + identifier + `"` }

func (oracleDialect) LimitOffset(limit, offset int) string {
	if offset > 0 {
		return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
	}
	return fmt.Sprintf("FETCH FIRST %d ROWS ONLY", limit)
}

func (oracleDialect) ReturningClause(pkColumn string) string {
	return `RETURNING "` + pkColumn + `" INTO :out_pk`
}

func (oracleDialect) SupportsReturning() bool { return true }
