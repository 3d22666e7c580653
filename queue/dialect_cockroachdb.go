package queue

import "fmt"

////////////////////////////////////////////////////////////////////////////////
// TYPES

// CockroachDBDialect drives the lock column on CockroachDB. CockroachDB
// has no FOR UPDATE ... SKIP LOCKED; instead two concurrent reservers
// racing for the same row conflict under serializable isolation and one
// of them is forced to retry the transaction, which keeps R1 atomic
// without a row-lock primitive.
type CockroachDBDialect struct {
	baseDialect
}

var _ Dialect = CockroachDBDialect{}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewCockroachDBDialect returns the CockroachDB SQL dialect.
func NewCockroachDBDialect() Dialect {
	return CockroachDBDialect{}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (CockroachDBDialect) Name() string {
	return "cockroachdb"
}

// ReserveSQL implements R1 without FOR UPDATE: the candidate CTE picks
// one ready row and the UPDATE claims it by primary key. Run this inside
// a serializable transaction (CockroachDB's default) so that a
// concurrent reserver racing for the same row gets a serialization
// failure rather than a second, silently-wrong reservation. Source.Reserve
// treats that failure (SQLSTATE 40001) as an empty poll, so the statement
// simply runs again on a later poll.
func (d CockroachDBDialect) ReserveSQL(table, lockCol, privateCol string, pkCols []string) string {
	lc := quoteIdent(lockCol)
	pc := quoteIdent(privateCol)
	pks := pkList(pkCols)
	return fmt.Sprintf(`WITH candidate AS (
  SELECT %[3]s FROM %[1]s
  WHERE %[2]s >= 0 AND %[2]s <= %[6]s
  ORDER BY %[2]s ASC, %[7]s
  LIMIT 1
)
UPDATE %[1]s AS t SET %[2]s = (%[5]s + @stale_timeout_ms)
WHERE (%[3]s) IN (SELECT %[3]s FROM candidate)
RETURNING %[3]s, t.%[4]s AS private`,
		table, lc, pks, pc, d.NowExpr(), d.ReadyExpr(), pkOrderBy(pkCols))
}
