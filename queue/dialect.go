package queue

import (
	"fmt"
	"strings"

	// Packages
	pq "github.com/lib/pq"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Dialect emits the SQL strings the Source needs to drive the lock column
// for one database engine. Every method returns a template that uses
// named parameters (@name) for values and has already spliced in
// identifiers (table/column names), since those cannot be bound as query
// parameters.
type Dialect interface {
	// Name identifies the dialect, e.g. "postgres" or "cockroachdb".
	Name() string

	// IntegerType is the column type used for the lock column.
	IntegerType() string

	// TableName returns the qualified table name, honoring an optional
	// schema prefix.
	TableName(schemaName, table string) string

	// NowExpr is a scalar SQL expression evaluating to "now" as integer
	// milliseconds since the epoch, evaluated by the database so that
	// nodes with clock drift still agree on a single value per statement.
	NowExpr() string

	// ReadyExpr is a scalar SQL expression evaluating to the ready
	// watermark at query time.
	ReadyExpr() string

	// ReserveSQL implements algorithm R1: atomically claim one ready row,
	// set its lock to the in-progress deadline, and return its primary
	// key columns and private column. Named parameters: @stale_timeout_ms.
	ReserveSQL(table, lockCol, privateCol string, pkCols []string) string

	// DelayReadySQL sets lock to ready_watermark + delay_seconds*1000 and
	// overwrites the private column. Named parameters: @delay_seconds,
	// @private, and one @pk_<field> per primary-key column.
	DelayReadySQL(table, lockCol, privateCol string, pkCols []string) string

	// CancelSQL conditionally nulls the lock column if it is in a
	// cancellable (ready or delayed) state, and always returns the
	// pre-statement lock value, so the caller classifies that value to
	// tell cancelled (ready/delayed) from left untouched (anything else);
	// zero rows means the row does not exist.
	// Named parameters: one @pk_<field> per primary-key column.
	CancelSQL(table, lockCol string, pkCols []string) string

	// StatusSQL returns one row of per-state counts.
	StatusSQL(table, lockCol string) string

	// ResetStaleSQL resets stale rows' lock and private columns back to
	// their column DEFAULTs. Idempotent.
	ResetStaleSQL(table, lockCol, privateCol string) string

	// FilterAbandonedSQL returns the primary-key columns of every
	// abandoned row.
	FilterAbandonedSQL(table, lockCol string, pkCols []string) string
}

////////////////////////////////////////////////////////////////////////////////
// SHARED IMPLEMENTATION
//
// Every operation except ReserveSQL is identical across engines per
// spec §4.1 ("The only constraint on new dialects is that R1 remain
// atomic"); baseDialect implements all of them and concrete dialects
// embed it, supplying only ReserveSQL and Name themselves.

type baseDialect struct{}

func (baseDialect) IntegerType() string {
	return "bigint"
}

func (baseDialect) TableName(schemaName, table string) string {
	if schemaName == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schemaName) + "." + pq.QuoteIdentifier(table)
}

func (baseDialect) NowExpr() string {
	return "(extract(epoch from clock_timestamp()) * 1000)::bigint"
}

func (d baseDialect) ReadyExpr() string {
	return fmt.Sprintf("(%s - %d)", d.NowExpr(), FarInThePast)
}

func (d baseDialect) DelayReadySQL(table, lockCol, privateCol string, pkCols []string) string {
	return fmt.Sprintf(
		`UPDATE %s SET %s = %s, %s = @private WHERE %s`,
		table, quoteIdent(lockCol), delayExpr(d), quoteIdent(privateCol), pkEq(pkCols),
	)
}

// CancelSQL reads the pre-statement lock value through a CTE (so the
// RETURNING clause always reflects the row's state before this
// statement ran, never the post-update NULL) and nulls the lock only if
// that value was cancellable (ready or delayed). The caller classifies
// the returned previous_lock with ClassifyLock to tell "cancelled" from
// "already in progress" from "not found".
func (d baseDialect) CancelSQL(table, lockCol string, pkCols []string) string {
	lc := quoteIdent(lockCol)
	return fmt.Sprintf(`WITH prev AS (
  SELECT %[3]s, %[2]s AS prev_lock FROM %[1]s WHERE %[4]s
)
UPDATE %[1]s AS t SET %[2]s = CASE
  WHEN prev.prev_lock IS NOT NULL AND prev.prev_lock >= 0 AND prev.prev_lock < (%[5]s - %[6]d)
  THEN NULL ELSE t.%[2]s END
FROM prev
WHERE %[7]s
RETURNING prev.prev_lock AS previous_lock`,
		table, lc, pkList(pkCols), pkEq(pkCols), d.NowExpr(), StaleWindow, pkEqT(pkCols))
}

// StatusSQL binds "now" once in a CTE rather than splicing d.NowExpr()'s
// text into the query three times: NowExpr uses clock_timestamp(),
// which is volatile and re-evaluates on every textual occurrence, so
// repeating it would let the ready/delayed/stale/in_progress buckets
// drift apart from each other instead of partitioning every row against
// a single consistent instant.
func (d baseDialect) StatusSQL(table, lockCol string) string {
	lc := quoteIdent(lockCol)
	return fmt.Sprintf(`WITH bounds AS (SELECT %[1]s AS now_ms)
SELECT
  count(*) FILTER (WHERE %[2]s IS NOT NULL) AS total,
  count(*) FILTER (WHERE %[2]s = -1) AS abandoned,
  count(*) FILTER (WHERE %[2]s >= 0 AND %[2]s <= bounds.now_ms - %[3]d) AS ready,
  count(*) FILTER (WHERE %[2]s > bounds.now_ms - %[3]d AND %[2]s < bounds.now_ms - %[4]d) AS delayed,
  count(*) FILTER (WHERE %[2]s >= bounds.now_ms - %[4]d AND %[2]s < bounds.now_ms) AS stale,
  count(*) FILTER (WHERE %[2]s >= bounds.now_ms) AS in_progress
FROM %[5]s, bounds`, d.NowExpr(), lc, FarInThePast, StaleWindow, table)
}

// ResetStaleSQL binds "now" once for the same reason StatusSQL does:
// the stale window's lower and upper bounds must come from the same
// instant or a row could be skipped by the sweep entirely.
func (d baseDialect) ResetStaleSQL(table, lockCol, privateCol string) string {
	lc := quoteIdent(lockCol)
	return fmt.Sprintf(
		`WITH bounds AS (SELECT %[1]s AS now_ms)
UPDATE %[2]s AS t SET %[3]s = DEFAULT, %[4]s = DEFAULT
FROM bounds
WHERE t.%[3]s >= bounds.now_ms - %[5]d AND t.%[3]s < bounds.now_ms`,
		d.NowExpr(), table, lc, quoteIdent(privateCol), StaleWindow,
	)
}

func (baseDialect) FilterAbandonedSQL(table, lockCol string, pkCols []string) string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s = -1`, pkList(pkCols), table, quoteIdent(lockCol))
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE HELPERS

func quoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

func pkList(pkCols []string) string {
	quoted := make([]string, len(pkCols))
	for i, c := range pkCols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// pkOrderBy builds "col1 ASC, col2 ASC, ..." for tie-breaking reserve
// order by primary key (spec §3: "ordering is by lock ascending, then
// primary key").
func pkOrderBy(pkCols []string) string {
	parts := make([]string, len(pkCols))
	for i, c := range pkCols {
		parts[i] = quoteIdent(c) + " ASC"
	}
	return strings.Join(parts, ", ")
}

// pkEq builds "col1 = @pk_col1 AND col2 = @pk_col2 ...".
func pkEq(pkCols []string) string {
	parts := make([]string, len(pkCols))
	for i, c := range pkCols {
		parts[i] = fmt.Sprintf("%s = @pk_%s", quoteIdent(c), c)
	}
	return strings.Join(parts, " AND ")
}

// pkEqT is pkEq qualified with the "t" alias used by UPDATE ... AS t.
func pkEqT(pkCols []string) string {
	parts := make([]string, len(pkCols))
	for i, c := range pkCols {
		parts[i] = fmt.Sprintf("t.%s = @pk_%s", quoteIdent(c), c)
	}
	return strings.Join(parts, " AND ")
}

func delayExpr(d interface{ ReadyExpr() string }) string {
	return fmt.Sprintf("(%s + (@delay_seconds * 1000))", d.ReadyExpr())
}
