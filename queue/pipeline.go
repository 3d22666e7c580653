package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES
//
// Pipeline is the Job Pipeline (C4): it pulls jobs a PollQueue has
// dispatched, runs them through a monitor that supervises execution and
// recovers panics, and routes the outcome through the configured
// success/failure modes before reporting back to the source.

// Handler runs one task's work and returns its result value, or an
// error to fail the job. This is the registered-callable side of the
// tagged task-dispatch design note (§9): the wire task carries only a
// handler name and an args blob; Handler is what the name resolves to.
type Handler func(ctx context.Context, task Task) (any, error)

// SuccessMode is the capability object invoked when a job's handler
// returns without error, mirroring FailureMode's shape for the failure
// path (spec §6: "success_mode | {module, args} | nil").
type SuccessMode interface {
	ValidateArgs() error
	HandleSuccess(ctx context.Context, job *Job, result any, fx FailureContext) error
}

// Pipeline drives a pool of worker goroutines against one PollQueue.
type Pipeline struct {
	pq          *PollQueue
	source      *Source
	handlers    map[string]Handler
	failureMode FailureMode
	successMode SuccessMode
	replySink   func(job *Job, result Result)
	moveFn      func(ctx context.Context, toQueue string, task Task, pk PrimaryKey) (*Job, error)
	workers     int
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPipeline constructs a Pipeline. moveFn is the generic cross-queue
// enqueue hook a Move failure mode uses (spec §4.5: "reusing the generic
// enqueue API — i.e. whatever backend Q uses"); replySink delivers
// results to a job's caller.
func NewPipeline(pq *PollQueue, source *Source, handlers map[string]Handler, failureMode FailureMode, successMode SuccessMode, moveFn func(context.Context, string, Task, PrimaryKey) (*Job, error), replySink func(*Job, Result), workers int) (*Pipeline, error) {
	if pq == nil || source == nil {
		return nil, ErrBadParameter.With("poll queue and source are required")
	}
	if failureMode == nil {
		failureMode = AbandonMode{}
	}
	if err := failureMode.ValidateArgs(); err != nil {
		return nil, err
	}
	if successMode != nil {
		if err := successMode.ValidateArgs(); err != nil {
			return nil, err
		}
	}
	if workers <= 0 {
		workers = 1
	}
	if handlers == nil {
		handlers = make(map[string]Handler)
	}
	if replySink == nil {
		replySink = func(*Job, Result) {}
	}
	return &Pipeline{
		pq:          pq,
		source:      source,
		handlers:    handlers,
		failureMode: failureMode,
		successMode: successMode,
		replySink:   replySink,
		moveFn:      moveFn,
		workers:     workers,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Run starts the worker pool, blocking until every worker goroutine has
// exited (on ctx cancellation or a subscribe error) and returning their
// errors joined. A worker that exits early does not stop the others. Each worker
// independently subscribes, waits for a job, dispatches it through the
// monitor, and subscribes again, mirroring the teacher's free-worker
// FIFO model (spec §4.3/§5: "the free-worker list as a private FIFO").
func (p *Pipeline) Run(ctx context.Context) error {
	errCh := make(chan error, p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			errCh <- p.runWorker(ctx)
		}()
	}

	var result error
	for i := 0; i < p.workers; i++ {
		if err := <-errCh; err != nil {
			result = errors.Join(result, err)
		}
	}
	return result
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (p *Pipeline) runWorker(ctx context.Context) error {
	for {
		h, err := p.pq.Subscribe(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case job := <-h.jobs:
			p.dispatch(ctx, job)
		}
	}
}

// dispatch runs one job's handler under a monitor and routes the
// outcome, per spec §4.4: success calls the success mode then acks;
// failure invokes the configured failure mode; a panic is treated as a
// failure with a synthesized reason (the Elixir original's "crash" case
// has no Go equivalent inside the same goroutine, since a true process
// crash here would take the whole pipeline down with it).
func (p *Pipeline) dispatch(ctx context.Context, job *Job) {
	outcome, result, err := p.monitor(ctx, job)

	fx := &failureContext{pipeline: p}

	switch outcome {
	case ResultOK:
		var modeErr error
		if p.successMode != nil {
			modeErr = p.successMode.HandleSuccess(ctx, job, result, fx)
		} else {
			modeErr = fx.Finish(ctx, job)
		}
		if modeErr == nil {
			fx.Reply(job, Result{Kind: ResultOK, Value: result})
		}
	default:
		if handleErr := p.failureMode.HandleFailure(ctx, job, err, fx); handleErr != nil {
			// The failure mode itself faulted; fall back to Abandon so
			// the row is never left permanently in-progress.
			AbandonMode{}.HandleFailure(ctx, job, errors.Join(err, handleErr), fx)
		}
	}
}

// monitor runs handler directly and recovers panics, matching the
// teacher's runWork idiom (workerpool.go): a worker crash never reaches
// the caller as a Go panic, it reaches it as a failure outcome instead.
// There is no hard deadline here — a handler that never returns blocks
// its worker forever; the only timeout in the system is the stale
// window, which is enforced separately by ResetStaleSQL reclaiming the
// row's lock column for another worker to pick up, not by cancelling
// ctx or the handler call below.
func (p *Pipeline) monitor(ctx context.Context, job *Job) (kind ResultKind, value any, err error) {
	handler, ok := p.handlers[job.Task.Handler]
	if !ok {
		return ResultExit, nil, fmt.Errorf("no handler registered for %q", job.Task.Handler)
	}

	defer func() {
		if r := recover(); r != nil {
			kind, value, err = ResultExit, nil, fmt.Errorf("panic: %v", r)
		}
	}()

	value, err = handler(ctx, job.Task)
	if err != nil {
		return ResultExit, nil, err
	}
	return ResultOK, value, nil
}

////////////////////////////////////////////////////////////////////////////////
// FAILURE CONTEXT

// failureContext is the Pipeline-backed implementation of FailureContext
// handed to failure/success modes.
type failureContext struct {
	pipeline *Pipeline
}

var _ FailureContext = (*failureContext)(nil)

func (fx *failureContext) Finish(ctx context.Context, job *Job) error {
	now := time.Now()
	job.CompletedAt = &now
	return fx.pipeline.pq.Complete(ctx, job, true, 0)
}

func (fx *failureContext) Abandon(ctx context.Context, job *Job) error {
	job.CompletedAt = nil
	return fx.pipeline.pq.Complete(ctx, job, true, 0)
}

func (fx *failureContext) Reschedule(ctx context.Context, job *Job, delay time.Duration) error {
	return fx.pipeline.pq.Complete(ctx, job, false, delay)
}

func (fx *failureContext) Move(ctx context.Context, job *Job, toQueue string) (*Job, error) {
	if fx.pipeline.moveFn == nil {
		return nil, ErrNotImplemented.With("no move target configured")
	}
	if err := fx.Abandon(ctx, job); err != nil {
		return nil, err
	}
	return fx.pipeline.moveFn(ctx, toQueue, job.Task, job.Private)
}

func (fx *failureContext) Reply(job *Job, result Result) {
	job.Result = &result
	fx.pipeline.replySink(job, result)
}

func (fx *failureContext) Codec() PrivateCodec {
	return fx.pipeline.source.codec
}
