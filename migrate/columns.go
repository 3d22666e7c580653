package migrate

import (
	"context"
	"fmt"

	// Packages
	pg "github.com/koudelka/honeydew/pg"
	queue "github.com/koudelka/honeydew/queue"
	pq "github.com/lib/pq"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC FUNCTIONS
//
// AddQueueColumns lays down the lock/private column pair spec §6's
// schema contract requires for one queue on an existing table. Queue
// names are chosen by the caller at runtime, so this is a plain
// parameterized Exec rather than a versioned golang-migrate migration
// (golang-migrate migrations are for the fixed, build-time-known schema
// in sql/; this is for the dynamic, queue-name-keyed part of it).
//
// ready selects the column's DEFAULT. Pass true for a row's primary
// queue, where a freshly inserted row should be immediately eligible
// for reservation. Pass false for a queue that is only ever reached by
// an explicit transition — a Move target or a downstream pipeline
// stage — so existing rows do not auto-claim onto it the instant the
// column exists; such a queue's rows start abandoned and only become
// ready once something nacks or otherwise readies them (see
// Manager.moveFn's use of Source.Nack with a zero delay).
func AddQueueColumns(ctx context.Context, conn pg.PoolConn, dialect queue.Dialect, table, queueName string, ready bool) error {
	lockCol := fmt.Sprintf("honeydew_%s_lock", queueName)
	privateCol := fmt.Sprintf("honeydew_%s_private", queueName)

	lockDefault := fmt.Sprint(queue.LockAbandoned)
	if ready {
		lockDefault = fmt.Sprintf("(%s)", dialect.ReadyExpr())
	}

	stmts := []string{
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s DEFAULT %s`,
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(lockCol), dialect.IntegerType(), lockDefault),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s bytea`,
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(privateCol)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
			pq.QuoteIdentifier(table+"_"+lockCol+"_idx"), pq.QuoteIdentifier(table), pq.QuoteIdentifier(lockCol)),
	}

	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DropQueueColumns reverses AddQueueColumns, for test teardown.
func DropQueueColumns(ctx context.Context, conn pg.PoolConn, table, queueName string) error {
	lockCol := fmt.Sprintf("honeydew_%s_lock", queueName)
	privateCol := fmt.Sprintf("honeydew_%s_private", queueName)

	stmts := []string{
		fmt.Sprintf(`DROP INDEX IF EXISTS %s`, pq.QuoteIdentifier(table+"_"+lockCol+"_idx")),
		fmt.Sprintf(`ALTER TABLE %s DROP COLUMN IF EXISTS %s`, pq.QuoteIdentifier(table), pq.QuoteIdentifier(lockCol)),
		fmt.Sprintf(`ALTER TABLE %s DROP COLUMN IF EXISTS %s`, pq.QuoteIdentifier(table), pq.QuoteIdentifier(privateCol)),
	}

	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
