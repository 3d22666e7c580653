package queue

import (
	"context"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES
//
// PollQueue is the Poll Queue Loop (C3): a single-owner event loop driven
// by a command channel (design note §9: "typed actor or single-owner
// loop"). All mutable state below lives inside the goroutine started by
// Run and is touched nowhere else; every external call enqueues a
// closure onto cmdCh and the loop applies it between polls.

// PollSource is the subset of Source the loop depends on, so a fake can
// stand in for it in tests without a database (spec §8 scenario 5's
// dialect double works one layer down, at SQL-generation time; this
// interface is what makes the loop itself independently testable).
type PollSource interface {
	Reserve(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	Nack(ctx context.Context, job *Job, delay time.Duration) error
}

// WorkerHandle is how a worker advertises readiness to PollQueue and
// receives its next job.
type WorkerHandle struct {
	jobs chan *Job
}

// Jobs returns the channel a subscribed worker receives its next job on.
func (h *WorkerHandle) Jobs() <-chan *Job {
	return h.jobs
}

// PollQueue drives reservation attempts for one queue and hands reserved
// jobs to free workers, honoring suspend/resume and tracking outstanding
// reservations, per spec §4.3.
type PollQueue struct {
	source       PollSource
	pollInterval time.Duration
	startSuspended bool

	cmdCh  chan func(*pollState)
	doneCh chan struct{}
}

type pollState struct {
	suspended   bool
	outstanding int
	buffered    *Job
	free        []*WorkerHandle
	timer       *time.Timer
}

// pollSoon arms the timer to fire on the next loop iteration, the
// single-owner-loop equivalent of "attempt to poll" in spec §4.3.
func (st *pollState) pollSoon() {
	if st.suspended {
		return
	}
	stopTimer(st.timer)
	st.timer.Reset(0)
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPollQueue constructs a PollQueue over source. It does not start
// polling until Run is called.
func NewPollQueue(source PollSource, pollInterval time.Duration, startSuspended bool) *PollQueue {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &PollQueue{
		source:         source,
		pollInterval:   pollInterval,
		startSuspended: startSuspended,
		cmdCh:          make(chan func(*pollState), 16),
		doneCh:         make(chan struct{}),
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Run is the loop itself. It blocks until ctx is cancelled. Only one
// caller may run it at a time; calling Run again after it returns is not
// supported.
func (q *PollQueue) Run(ctx context.Context) error {
	defer close(q.doneCh)

	timer := time.NewTimer(0)
	st := &pollState{suspended: q.startSuspended, timer: timer}
	if st.suspended {
		stopTimer(timer)
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-q.cmdCh:
			fn(st)
		case <-timer.C:
			q.poll(ctx, st, timer)
		}
	}
}

// Subscribe registers a worker as free. If a buffered job is waiting, the
// handle receives it immediately on its channel; otherwise the handle
// joins the free list in FIFO order (spec §5: "the queue process treats
// the free-worker list as a private FIFO").
func (q *PollQueue) Subscribe(ctx context.Context) (*WorkerHandle, error) {
	h := &WorkerHandle{jobs: make(chan *Job, 1)}
	if err := q.dispatchCmd(ctx, func(st *pollState) {
		if st.buffered != nil && !st.suspended {
			h.jobs <- st.buffered
			st.buffered = nil
			return
		}
		st.free = append(st.free, h)
		st.pollSoon()
	}); err != nil {
		return nil, err
	}
	return h, nil
}

// Complete reports the outcome of a job the loop previously dispatched:
// it forwards to the source (Ack on success/abandon, Nack with delay on
// retry), decrements outstanding, and attempts another poll, per spec
// §4.3 step 5. ack=true acks the job (finished or abandoned according to
// job.CompletedAt) and ignores delay; ack=false nacks it with delay.
func (q *PollQueue) Complete(ctx context.Context, job *Job, ack bool, delay time.Duration) error {
	var err error
	if ack {
		err = q.source.Ack(ctx, job)
	} else {
		err = q.source.Nack(ctx, job, delay)
	}

	cmdErr := q.dispatchCmd(ctx, func(st *pollState) {
		if st.outstanding > 0 {
			st.outstanding--
		}
		st.pollSoon()
	})
	if err != nil {
		return err
	}
	return cmdErr
}

// Suspend stops scheduling polls and refuses to hand out buffered jobs.
func (q *PollQueue) Suspend(ctx context.Context) error {
	return q.dispatchCmd(ctx, func(st *pollState) {
		st.suspended = true
	})
}

// Resume reverses Suspend; a poll is scheduled on the next loop cycle.
func (q *PollQueue) Resume(ctx context.Context) error {
	return q.dispatchCmd(ctx, func(st *pollState) {
		st.suspended = false
		st.pollSoon()
	})
}

// PollQueueSnapshot is a read-only view of a PollQueue's in-memory state,
// distinct from Source.Status (which counts database rows).
type PollQueueSnapshot struct {
	Suspended   bool
	Outstanding int
	Buffered    bool
	FreeWorkers int
}

// Snapshot returns the loop's current in-memory state.
func (q *PollQueue) Snapshot(ctx context.Context) (PollQueueSnapshot, error) {
	var snap PollQueueSnapshot
	err := q.dispatchCmd(ctx, func(st *pollState) {
		snap = PollQueueSnapshot{
			Suspended:   st.suspended,
			Outstanding: st.outstanding,
			Buffered:    st.buffered != nil,
			FreeWorkers: len(st.free),
		}
	})
	return snap, err
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// poll implements spec §4.3 step 2: reserve, then either hand the job to
// a free worker or buffer it, and decide whether to poll again
// immediately or wait for poll_interval.
func (q *PollQueue) poll(ctx context.Context, st *pollState, timer *time.Timer) {
	if st.suspended {
		return
	}

	job, err := q.source.Reserve(ctx)
	if err != nil || job == nil {
		// Reserve already folds transient storage errors into "empty";
		// anything else is a configuration-class fault the caller's
		// supervisor should see via logs, not a reason to stop polling.
		timer.Reset(q.pollInterval)
		return
	}

	st.outstanding++
	if len(st.free) > 0 {
		h := st.free[0]
		st.free = st.free[1:]
		h.jobs <- job
		if len(st.free) > 0 {
			st.pollSoon()
		}
		// Else: no free workers left; wait for one to subscribe again
		// rather than reserving more work it has nowhere to put.
	} else {
		st.buffered = job
	}
}

// dispatchCmd enqueues fn onto the loop and blocks until it has run (or
// ctx is cancelled, or the loop has already stopped).
func (q *PollQueue) dispatchCmd(ctx context.Context, fn func(*pollState)) error {
	done := make(chan struct{})
	wrapped := func(st *pollState) {
		defer close(done)
		fn(st)
	}
	select {
	case q.cmdCh <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.doneCh:
		return ErrNotFound.With("poll queue is no longer running")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.doneCh:
		return nil
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
