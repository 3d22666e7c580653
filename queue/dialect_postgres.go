package queue

import "fmt"

////////////////////////////////////////////////////////////////////////////////
// TYPES

// PostgresDialect drives the lock column on a real PostgreSQL server,
// using SELECT ... FOR UPDATE SKIP LOCKED to make reservation contend
// only with other reservers, never with readers or writers of the
// business columns.
type PostgresDialect struct {
	baseDialect
}

var _ Dialect = PostgresDialect{}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPostgresDialect returns the PostgreSQL SQL dialect.
func NewPostgresDialect() Dialect {
	return PostgresDialect{}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (PostgresDialect) Name() string {
	return "postgres"
}

// ReserveSQL implements R1 as a single atomic UPDATE over a FOR UPDATE
// SKIP LOCKED subquery: the subquery picks one candidate row and takes
// its row lock, skipping rows other sessions already hold, so two
// concurrent reservers never pick the same row.
func (d PostgresDialect) ReserveSQL(table, lockCol, privateCol string, pkCols []string) string {
	lc := quoteIdent(lockCol)
	pc := quoteIdent(privateCol)
	pks := pkList(pkCols)
	return fmt.Sprintf(`UPDATE %[1]s AS t SET %[2]s = (%[5]s + @stale_timeout_ms)
WHERE (%[3]s) IN (
  SELECT %[3]s FROM %[1]s
  WHERE %[2]s >= 0 AND %[2]s <= %[6]s
  ORDER BY %[2]s ASC, %[7]s
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
RETURNING %[3]s, t.%[4]s AS private`,
		table, lc, pks, pc, d.NowExpr(), d.ReadyExpr(), pkOrderBy(pkCols))
}
