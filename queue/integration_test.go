package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	// Packages
	migrate "github.com/koudelka/honeydew/migrate"
	pg "github.com/koudelka/honeydew/pg"
	queue "github.com/koudelka/honeydew/queue"
	require "github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

////////////////////////////////////////////////////////////////////////////////
// SETUP
//
// setupIntegrationDB starts a disposable Postgres container, applies the
// honeydew_registry migration, and creates a demo "jobs" table. It skips
// the calling test (not fails it) when no container runtime is available,
// since these tests are meant to run wherever Docker happens to be, not
// to gate CI on it.

func setupIntegrationDB(t *testing.T) pg.PoolConn {
	t.Helper()
	ctx := context.Background()

	// testcontainers panics rather than returning an error when it finds
	// no container runtime at all, so that case is recovered into err.
	pgCtr, err := func() (c *tcpostgres.PostgresContainer, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%v", r)
			}
		}()
		return tcpostgres.Run(ctx,
			"postgres:18-alpine",
			tcpostgres.WithDatabase("honeydew_test"),
			tcpostgres.WithUsername("honeydew_test"),
			tcpostgres.WithPassword("honeydew_test"),
			tcpostgres.BasicWaitStrategies(),
		)
	}()
	if err != nil {
		t.Skipf("postgres container not available: %v", err)
	}
	t.Cleanup(func() {
		_ = pgCtr.Terminate(ctx)
	})

	dsn, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, migrate.Up(dsn))

	conn, err := pg.NewPool(ctx, pg.WithURL(dsn))
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = conn.Exec(ctx, `CREATE TABLE jobs (id bigserial PRIMARY KEY)`)
	require.NoError(t, err)

	return conn
}

// seedQueue lays down the lock/private column pair for queueName on the
// jobs table and inserts n fresh rows, returning their primary keys.
// ready is forwarded to migrate.AddQueueColumns: pass true for a queue
// rows are inserted directly against, false for a queue only reachable
// via an explicit transition (a Move target).
func seedQueue(t *testing.T, conn pg.PoolConn, dialect queue.Dialect, queueName string, n int, ready bool) []queue.PrimaryKey {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, migrate.AddQueueColumns(ctx, conn, dialect, "jobs", queueName, ready))

	pks := make([]queue.PrimaryKey, 0, n)
	for i := 0; i < n; i++ {
		row := conn.QueryRow(ctx, `INSERT INTO jobs DEFAULT VALUES RETURNING id`)
		var id int64
		require.NoError(t, row.Scan(&id))
		pks = append(pks, queue.PrimaryKey{{Field: "id", Value: id}})
	}
	return pks
}

func jobsSchema() *queue.SimpleSchema {
	return queue.NewSimpleSchema("", "jobs", "id", func() any { return new(int64) })
}

////////////////////////////////////////////////////////////////////////////////
// PROPERTY TESTS (spec §8)

// Test_Integration_ReserveUniqueness_P1 reserves a fixed number of ready
// rows from many goroutines at once; every row must be claimed exactly
// once, never zero and never twice.
func Test_Integration_ReserveUniqueness_P1(t *testing.T) {
	conn := setupIntegrationDB(t)
	dialect := queue.NewPostgresDialect()
	pks := seedQueue(t, conn, dialect, "p1", 20, true)

	source, err := queue.NewSource(conn, "p1", jobsSchema(), dialect)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := source.Reserve(context.Background())
				require.NoError(t, err)
				if job == nil {
					return
				}
				id := job.Private[0].Value.(int64)
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, len(pks))
	for id, count := range seen {
		require.Equalf(t, 1, count, "row %d reserved %d times", id, count)
	}
}

// Test_Integration_NackDelay_P3 nacks a reserved row with a delay and
// confirms it moves to the delayed bucket rather than back to ready.
func Test_Integration_NackDelay_P3(t *testing.T) {
	conn := setupIntegrationDB(t)
	dialect := queue.NewPostgresDialect()
	seedQueue(t, conn, dialect, "p3", 1, true)

	source, err := queue.NewSource(conn, "p3", jobsSchema(), dialect)
	require.NoError(t, err)

	job, err := source.Reserve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, source.Nack(context.Background(), job, time.Hour))

	st, err := source.Status(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, st.Ready)
	require.EqualValues(t, 1, st.Delayed)

	again, err := source.Reserve(context.Background())
	require.NoError(t, err)
	require.Nil(t, again)
}

// Test_Integration_CancelSemantics_P5 covers all three of Cancel's
// outcomes: cancelling a ready row, a reserved (in-progress) row, and a
// row that does not exist.
func Test_Integration_CancelSemantics_P5(t *testing.T) {
	conn := setupIntegrationDB(t)
	dialect := queue.NewPostgresDialect()
	pks := seedQueue(t, conn, dialect, "p5", 2, true)

	source, err := queue.NewSource(conn, "p5", jobsSchema(), dialect)
	require.NoError(t, err)

	t.Run("ReadyRowCancels", func(t *testing.T) {
		require.NoError(t, source.Cancel(context.Background(), pks[0]))
	})

	t.Run("InProgressRowRaises", func(t *testing.T) {
		job, err := source.Reserve(context.Background())
		require.NoError(t, err)
		require.NotNil(t, job)
		require.ErrorIs(t, source.Cancel(context.Background(), job.Private), queue.ErrInProgress)
	})

	t.Run("MissingRowRaises", func(t *testing.T) {
		missing := queue.PrimaryKey{{Field: "id", Value: int64(-99)}}
		require.ErrorIs(t, source.Cancel(context.Background(), missing), queue.ErrNotFound)
	})
}

// Test_Integration_StatusSums_P6 checks that Status's per-state counts
// always sum to the total row count, across a mixed set of states.
func Test_Integration_StatusSums_P6(t *testing.T) {
	conn := setupIntegrationDB(t)
	dialect := queue.NewPostgresDialect()
	pks := seedQueue(t, conn, dialect, "p6", 4, true)

	source, err := queue.NewSource(conn, "p6", jobsSchema(), dialect)
	require.NoError(t, err)

	// Reserve follows insert order (lock, then id), so: reserve and
	// abandon pks[0], reserve and delay pks[1], reserve and leave pks[2]
	// in progress, and leave pks[3] ready.
	for i := 1; i <= 3; i++ {
		job, err := source.Reserve(context.Background())
		require.NoError(t, err)
		require.NotNil(t, job)
		switch i {
		case 1:
			require.NoError(t, source.Ack(context.Background(), job))
		case 2:
			require.NoError(t, source.Nack(context.Background(), job, time.Hour))
		case 3:
			// left in progress deliberately
		}
	}

	st, err := source.Status(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, len(pks), st.Total)
	require.Equal(t, st.Total, st.Abandoned+st.Ready+st.Delayed+st.Stale+st.InProgress)
	require.EqualValues(t, 1, st.Abandoned)
	require.EqualValues(t, 1, st.Ready)
	require.EqualValues(t, 1, st.Delayed)
	require.EqualValues(t, 1, st.InProgress)
}

// Test_Integration_AbandonIdempotent_P7 checks that acking an already
// abandoned row a second time is a safe no-op from the caller's point of
// view: both calls succeed and FilterAbandoned still reports exactly one
// row.
func Test_Integration_AbandonIdempotent_P7(t *testing.T) {
	conn := setupIntegrationDB(t)
	dialect := queue.NewPostgresDialect()
	seedQueue(t, conn, dialect, "p7", 1, true)

	source, err := queue.NewSource(conn, "p7", jobsSchema(), dialect)
	require.NoError(t, err)

	job, err := source.Reserve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, source.Ack(context.Background(), job))
	require.NoError(t, source.Ack(context.Background(), job))

	abandoned, err := source.FilterAbandoned(context.Background())
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
}

////////////////////////////////////////////////////////////////////////////////
// SCENARIO TESTS (spec §8)

// Test_Integration_EnqueueAndDrain_Scenario1 starts a full Manager-backed
// queue with five workers against real rows and checks every row reaches
// the finished state.
func Test_Integration_EnqueueAndDrain_Scenario1(t *testing.T) {
	conn := setupIntegrationDB(t)
	dialect := queue.NewPostgresDialect()
	seedQueue(t, conn, dialect, "drain", 10, true)

	m, err := queue.New(conn, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = m.StartQueue(ctx, queue.QueueConfig{
		Name:         "drain",
		Schema:       jobsSchema(),
		Dialect:      dialect,
		PollInterval: 20 * time.Millisecond,
		Handlers: map[string]queue.Handler{
			"run": func(context.Context, queue.Task) (any, error) { return "ok", nil },
		},
		Workers: 5,
	})
	require.NoError(t, err)

	source, err := queue.NewSource(conn, "drain", jobsSchema(), dialect)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := source.Status(context.Background())
		return err == nil && st.Total == 0
	}, 5*time.Second, 20*time.Millisecond)
}

// Test_Integration_SuspendBlocksProcessing_Scenario2 confirms a suspended
// queue does not drain rows, and resuming it lets the same rows drain.
func Test_Integration_SuspendBlocksProcessing_Scenario2(t *testing.T) {
	conn := setupIntegrationDB(t)
	dialect := queue.NewPostgresDialect()
	seedQueue(t, conn, dialect, "suspend", 3, true)

	m, err := queue.New(conn, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = m.StartQueue(ctx, queue.QueueConfig{
		Name:         "suspend",
		Schema:       jobsSchema(),
		Dialect:      dialect,
		PollInterval: 20 * time.Millisecond,
		Handlers: map[string]queue.Handler{
			"run": func(context.Context, queue.Task) (any, error) { return "ok", nil },
		},
		Workers:   2,
		Suspended: true,
	})
	require.NoError(t, err)

	source, err := queue.NewSource(conn, "suspend", jobsSchema(), dialect)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	st, err := source.Status(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, st.Ready, "suspended queue must not drain")

	require.NoError(t, m.Resume(ctx, "suspend"))

	require.Eventually(t, func() bool {
		st, err := source.Status(context.Background())
		return err == nil && st.Total == 0
	}, 5*time.Second, 20*time.Millisecond)
}

// Test_Integration_RetryThenAbandon_Scenario4 runs a handler that always
// fails against a RetryMode with a small budget, and checks the row ends
// up abandoned once the budget is exhausted.
func Test_Integration_RetryThenAbandon_Scenario4(t *testing.T) {
	conn := setupIntegrationDB(t)
	dialect := queue.NewPostgresDialect()
	seedQueue(t, conn, dialect, "retry", 1, true)

	m, err := queue.New(conn, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = m.StartQueue(ctx, queue.QueueConfig{
		Name:         "retry",
		Schema:       jobsSchema(),
		Dialect:      dialect,
		PollInterval: 10 * time.Millisecond,
		FailureMode:  queue.NewRetryMode(2, 10*time.Millisecond),
		Handlers: map[string]queue.Handler{
			"run": func(context.Context, queue.Task) (any, error) { return nil, errors.New("always fails") },
		},
		Workers: 1,
	})
	require.NoError(t, err)

	source, err := queue.NewSource(conn, "retry", jobsSchema(), dialect)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		abandoned, err := source.FilterAbandoned(context.Background())
		return err == nil && len(abandoned) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

// Test_Integration_MoveOnFailure_Scenario6 runs a handler that always
// fails against a MoveMode, and checks the row lands ready on the target
// queue rather than abandoned on the source queue.
func Test_Integration_MoveOnFailure_Scenario6(t *testing.T) {
	conn := setupIntegrationDB(t)
	dialect := queue.NewPostgresDialect()

	// The failing row is seeded first, and "quarantine" is seeded
	// non-ready (it is only ever reached via MoveMode's explicit
	// transition) and after, so the row is never ready on "quarantine"
	// at insert time; it must only become ready once Move's Nack fires.
	seedQueue(t, conn, dialect, "failing", 1, true)
	seedQueue(t, conn, dialect, "quarantine", 0, false)

	quarantineSource, err := queue.NewSource(conn, "quarantine", jobsSchema(), dialect)
	require.NoError(t, err)
	preMoveStatus, err := quarantineSource.Status(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, preMoveStatus.Abandoned, "quarantine's column must start abandoned, not ready")
	require.EqualValues(t, 0, preMoveStatus.Ready)

	m, err := queue.New(conn, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = m.StartQueue(ctx, queue.QueueConfig{
		Name:         "quarantine",
		Schema:       jobsSchema(),
		Dialect:      dialect,
		PollInterval: 10 * time.Millisecond,
		Handlers: map[string]queue.Handler{
			"run": func(context.Context, queue.Task) (any, error) { return "ok", nil },
		},
		Workers: 1,
	})
	require.NoError(t, err)

	_, err = m.StartQueue(ctx, queue.QueueConfig{
		Name:         "failing",
		Schema:       jobsSchema(),
		Dialect:      dialect,
		PollInterval: 10 * time.Millisecond,
		FailureMode:  queue.MoveMode{ToQueue: "quarantine"},
		Handlers: map[string]queue.Handler{
			"run": func(context.Context, queue.Task) (any, error) { return nil, errors.New("boom") },
		},
		Workers: 1,
	})
	require.NoError(t, err)

	failingSource, err := queue.NewSource(conn, "failing", jobsSchema(), dialect)
	require.NoError(t, err)

	// MoveMode abandons the row on its source queue (lock = LockAbandoned)
	// rather than finishing it, so Total never drops to 0 here.
	require.Eventually(t, func() bool {
		st, err := failingSource.Status(context.Background())
		return err == nil && st.Abandoned == 1
	}, 5*time.Second, 20*time.Millisecond)

	// The row only reaches "quarantine" once MoveMode nacks it there, so
	// this would still be abandoned (never ready) if Move had not run.
	require.Eventually(t, func() bool {
		st, err := quarantineSource.Status(context.Background())
		return err == nil && st.Total == 0
	}, 5*time.Second, 20*time.Millisecond)
}

////////////////////////////////////////////////////////////////////////////////
// DIALECT SHAPE (Scenario 5)
//
// Scenario 5's CockroachDB dialect swap does not need a live Cockroach
// instance to demonstrate R1's atomicity contract still holds: the
// generated SQL has no FOR UPDATE (CockroachDB has no row-lock
// primitive) and instead relies on the engine's serializable isolation
// to make the UPDATE's candidate selection atomic.

func Test_CockroachDBDialect_ReserveSQL_Scenario5(t *testing.T) {
	d := queue.NewCockroachDBDialect()
	sql := d.ReserveSQL("jobs", "honeydew_move_lock", "honeydew_move_private", []string{"id"})
	require.NotContains(t, sql, "FOR UPDATE SKIP LOCKED")
	require.Contains(t, sql, "RETURNING")
	require.Contains(t, sql, "honeydew_move_lock")
}
