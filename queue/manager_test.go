package queue_test

import (
	"context"
	"testing"
	"time"

	// Packages
	pg "github.com/koudelka/honeydew/pg"
	queue "github.com/koudelka/honeydew/queue"
	require "github.com/stretchr/testify/require"
)

func Test_Manager_New_001(t *testing.T) {
	require := require.New(t)

	_, err := queue.New(nil, nil)
	require.Error(err)

	m, err := queue.New(fakePoolConn{}, nil)
	require.NoError(err)
	require.NotNil(m)
}

func Test_Manager_Enqueue_002(t *testing.T) {
	require := require.New(t)

	registry := queue.NewLocalRegistry()
	m, err := queue.New(fakePoolConn{}, registry)
	require.NoError(err)

	t.Run("NoQueueRunningErrors", func(t *testing.T) {
		_, err := m.Enqueue("resize", queue.PrimaryKey{{Field: "id", Value: int64(1)}})
		require.Error(err)
	})

	t.Run("RegisteredQueueSucceeds", func(t *testing.T) {
		schema := queue.NewSimpleSchema("", "photos", "id", nil)
		source, err := queue.NewSource(fakePoolConn{}, "resize", schema, queue.NewPostgresDialect())
		require.NoError(err)
		require.NoError(registry.Register(context.Background(), "resize", &queue.QueueHandle{Queue: "resize", Source: source}))

		job, err := m.Enqueue("resize", queue.PrimaryKey{{Field: "id", Value: int64(1)}})
		require.NoError(err)
		require.Equal("resize", job.Queue)
		require.Equal("run", job.Task.Handler)
	})
}

func Test_Manager_AsyncYield_003(t *testing.T) {
	require := require.New(t)

	registry := queue.NewLocalRegistry()
	m, err := queue.New(fakePoolConn{}, registry)
	require.NoError(err)

	schema := queue.NewSimpleSchema("", "photos", "id", nil)
	source, err := queue.NewSource(fakePoolConn{}, "resize", schema, queue.NewPostgresDialect())
	require.NoError(err)
	require.NoError(registry.Register(context.Background(), "resize", &queue.QueueHandle{Queue: "resize", Source: source}))

	t.Run("NoQueueRunningErrors", func(t *testing.T) {
		_, err := m.Async("missing", queue.DefaultTask(nil), nil, queue.AsyncOpt{})
		require.Error(err)
	})

	t.Run("YieldWithoutReplyRaises", func(t *testing.T) {
		job, err := m.Async("resize", queue.DefaultTask(nil), nil, queue.AsyncOpt{})
		require.NoError(err)
		_, err = m.Yield(context.Background(), job, "caller-a", time.Second)
		require.ErrorIs(err, queue.ErrNoReply)
	})

	t.Run("YieldFromWrongCallerRaises", func(t *testing.T) {
		job, err := m.Async("resize", queue.DefaultTask(nil), nil, queue.AsyncOpt{Reply: true, CallerID: "caller-a"})
		require.NoError(err)
		_, err = m.Yield(context.Background(), job, "caller-b", time.Second)
		require.ErrorIs(err, queue.ErrWrongCaller)
	})

	t.Run("YieldTimesOutWithNilResult", func(t *testing.T) {
		job, err := m.Async("resize", queue.DefaultTask(nil), nil, queue.AsyncOpt{Reply: true, CallerID: "caller-a"})
		require.NoError(err)
		result, err := m.Yield(context.Background(), job, "caller-a", 20*time.Millisecond)
		require.NoError(err)
		require.Nil(result)
	})
}

func Test_Manager_SuspendResume_004(t *testing.T) {
	require := require.New(t)

	registry := queue.NewLocalRegistry()
	m, err := queue.New(fakePoolConn{}, registry)
	require.NoError(err)

	pq := queue.NewPollQueue(newFakePollSource(0), 10*time.Millisecond, false)
	require.NoError(registry.Register(context.Background(), "resize", &queue.QueueHandle{Queue: "resize", PollQueue: pq}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pq.Run(ctx)

	require.NoError(m.Suspend(ctx, "resize"))
	snap, err := pq.Snapshot(ctx)
	require.NoError(err)
	require.True(snap.Suspended)

	require.NoError(m.Resume(ctx, "resize"))
	snap, err = pq.Snapshot(ctx)
	require.NoError(err)
	require.False(snap.Suspended)

	require.Error(m.Suspend(ctx, "missing"))
}

func Test_Manager_Move_005(t *testing.T) {
	require := require.New(t)

	registry := queue.NewLocalRegistry()
	m, err := queue.New(okConn{}, registry)
	require.NoError(err)

	schema := queue.NewSimpleSchema("", "photos", "id", nil)
	fromSource, err := queue.NewSource(okConn{}, "resize", schema, queue.NewPostgresDialect())
	require.NoError(err)
	toSource, err := queue.NewSource(okConn{}, "quarantine", schema, queue.NewPostgresDialect())
	require.NoError(err)

	require.NoError(registry.Register(context.Background(), "resize", &queue.QueueHandle{Queue: "resize", Source: fromSource}))
	require.NoError(registry.Register(context.Background(), "quarantine", &queue.QueueHandle{Queue: "quarantine", Source: toSource}))

	job, err := m.Move(context.Background(), "resize", queue.PrimaryKey{{Field: "id", Value: int64(1)}}, "quarantine")
	require.NoError(err)
	require.Equal("quarantine", job.Queue)

	_, err = m.Move(context.Background(), "missing", queue.PrimaryKey{{Field: "id", Value: int64(1)}}, "quarantine")
	require.Error(err)
}

////////////////////////////////////////////////////////////////////////////////
// okConn is a fakePoolConn variant whose Exec always reports one row
// affected, so Ack/Nack's affected-row invariant check passes without a
// live database.

type okConn struct {
	fakePoolConn
}

func (okConn) With(...any) pg.Conn                          { return okConn{} }
func (okConn) Exec(context.Context, string) (int64, error) { return 1, nil }

var _ pg.PoolConn = okConn{}
