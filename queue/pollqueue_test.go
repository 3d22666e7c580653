package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	// Packages
	queue "github.com/koudelka/honeydew/queue"
	require "github.com/stretchr/testify/require"
)

func Test_PollQueue_001(t *testing.T) {
	require := require.New(t)

	t.Run("SubscribeReceivesBufferedJob", func(t *testing.T) {
		src := newFakePollSource(1)
		pq := queue.NewPollQueue(src, 20*time.Millisecond, false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go pq.Run(ctx)

		h, err := pq.Subscribe(ctx)
		require.NoError(err)

		select {
		case job := <-h.Jobs():
			require.NotNil(job)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for buffered job")
		}
	})

	t.Run("SuspendStopsDelivery", func(t *testing.T) {
		src := newFakePollSource(1)
		pq := queue.NewPollQueue(src, 10*time.Millisecond, false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go pq.Run(ctx)

		require.NoError(pq.Suspend(ctx))

		h, err := pq.Subscribe(ctx)
		require.NoError(err)

		select {
		case <-h.Jobs():
			t.Fatal("job delivered while suspended")
		case <-time.After(100 * time.Millisecond):
		}

		snap, err := pq.Snapshot(ctx)
		require.NoError(err)
		require.True(snap.Suspended)
	})

	t.Run("ResumeReversesSuspend", func(t *testing.T) {
		src := newFakePollSource(1)
		pq := queue.NewPollQueue(src, 10*time.Millisecond, true)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go pq.Run(ctx)

		h, err := pq.Subscribe(ctx)
		require.NoError(err)

		select {
		case <-h.Jobs():
			t.Fatal("job delivered while suspended")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(pq.Resume(ctx))

		select {
		case job := <-h.Jobs():
			require.NotNil(job)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for job after resume")
		}
	})

	t.Run("CompleteDecrementsOutstanding", func(t *testing.T) {
		src := newFakePollSource(1)
		pq := queue.NewPollQueue(src, 10*time.Millisecond, false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go pq.Run(ctx)

		h, err := pq.Subscribe(ctx)
		require.NoError(err)

		var job *queue.Job
		select {
		case job = <-h.Jobs():
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for job")
		}

		snap, err := pq.Snapshot(ctx)
		require.NoError(err)
		require.Equal(1, snap.Outstanding)

		require.NoError(pq.Complete(ctx, job, true, 0))

		snap, err = pq.Snapshot(ctx)
		require.NoError(err)
		require.Equal(0, snap.Outstanding)
		require.Equal(1, src.acked())
	})
}

////////////////////////////////////////////////////////////////////////////////
// fakePollSource hands out n jobs, then reserves nothing, so tests can
// observe the loop's suspend/resume/buffer behavior without a database.

type fakePollSource struct {
	mu      sync.Mutex
	remaining int
	ackCount  int
	nackCount int
}

func newFakePollSource(n int) *fakePollSource {
	return &fakePollSource{remaining: n}
}

func (s *fakePollSource) Reserve(context.Context) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining <= 0 {
		return nil, nil
	}
	s.remaining--
	pk := queue.PrimaryKey{{Field: "id", Value: s.remaining}}
	return &queue.Job{Queue: "test", Task: queue.DefaultTask(pk), Private: pk}, nil
}

func (s *fakePollSource) Ack(context.Context, *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackCount++
	return nil
}

func (s *fakePollSource) Nack(context.Context, *queue.Job, time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nackCount++
	return nil
}

func (s *fakePollSource) acked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackCount
}
