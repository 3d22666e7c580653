package queue

import (
	"context"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES
//
// FailureMode is the C5 capability object (spec §4.5): validated once at
// queue construction, then invoked by the monitor whenever a worker's
// execution throws. All built-ins must be safe to call repeatedly, since
// monitors may be redelivered (spec: "must be safe to call repeatedly").

// FailureMode decides what happens to a job whose execution failed.
type FailureMode interface {
	// ValidateArgs is called once at queue construction and should
	// return an error if the mode's configuration is malformed.
	ValidateArgs() error

	// HandleFailure reacts to job's execution having failed with reason.
	// fx is the narrow set of operations a failure mode is allowed to
	// perform, so the mode never reaches into queue internals directly.
	HandleFailure(ctx context.Context, job *Job, reason error, fx FailureContext) error
}

// FailureContext is the capability surface a FailureMode uses to finalize
// a job: acknowledge it (finished or abandoned), reschedule it, reroute
// it to another queue, or reply to the caller that issued it.
type FailureContext interface {
	// Finish acks the job as successfully completed.
	Finish(ctx context.Context, job *Job) error

	// Abandon acks the job with completed_at absent, writing lock=-1
	// (spec §4.1/§4.5: "ack the job with completed_at absent").
	Abandon(ctx context.Context, job *Job) error

	// Reschedule nacks the job for another attempt after delay.
	Reschedule(ctx context.Context, job *Job, delay time.Duration) error

	// Move abandons the original job and enqueues a copy of its task
	// against another queue, returning the new Job.
	Move(ctx context.Context, job *Job, toQueue string) (*Job, error)

	// Reply delivers result to job.From, if set. A no-op otherwise.
	Reply(job *Job, result Result)

	// Codec returns the private-blob codec the owning queue was
	// configured with, so a failure mode can round-trip its own state
	// (e.g. an attempt counter) through FailurePrivate.
	Codec() PrivateCodec
}

////////////////////////////////////////////////////////////////////////////////
// ABANDON

// AbandonMode is the default failure mode: it finalizes the job as
// abandoned (lock=-1) and, if the job carries a reply address, notifies
// the caller of the failure.
type AbandonMode struct{}

var _ FailureMode = AbandonMode{}

func (AbandonMode) ValidateArgs() error { return nil }

func (AbandonMode) HandleFailure(ctx context.Context, job *Job, reason error, fx FailureContext) error {
	if err := fx.Abandon(ctx, job); err != nil {
		return err
	}
	fx.Reply(job, Result{Kind: ResultExit, Err: reason})
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// RETRY

// retryState is the attempt counter RetryMode round-trips through a
// job's FailurePrivate blob between attempts.
type retryState struct {
	Attempts int `json:"attempts"`
}

// RetryMode retries a failing job up to Times additional attempts before
// delegating to Abandon. Backoff defaults to DefaultRetryBackoff; supply
// BackoffFn to compute a caller-specific delay from the attempt number.
type RetryMode struct {
	Times     int
	Backoff   time.Duration
	BackoffFn func(attempt int) time.Duration
	next      FailureMode
}

var _ FailureMode = (*RetryMode)(nil)

// DefaultRetryBackoff is used when RetryMode.Backoff and BackoffFn are
// both zero.
const DefaultRetryBackoff = 30 * time.Second

// NewRetryMode constructs a RetryMode that delegates to AbandonMode once
// its attempt budget is exhausted.
func NewRetryMode(times int, backoff time.Duration) *RetryMode {
	return &RetryMode{Times: times, Backoff: backoff, next: AbandonMode{}}
}

func (m *RetryMode) ValidateArgs() error {
	if m.Times < 0 {
		return ErrBadParameter.With("retry times must be >= 0")
	}
	return nil
}

func (m *RetryMode) HandleFailure(ctx context.Context, job *Job, reason error, fx FailureContext) error {
	var st retryState
	if err := fx.Codec().Load(job.FailurePrivate, &st); err != nil {
		// A corrupt or foreign blob is treated as attempt zero rather
		// than surfaced; retry state is advisory, not authoritative.
		st = retryState{}
	}
	st.Attempts++

	if st.Attempts > m.Times {
		return m.next.HandleFailure(ctx, job, reason, fx)
	}

	blob, err := fx.Codec().Dump(st)
	if err != nil {
		return err
	}
	job.FailurePrivate = blob

	return fx.Reschedule(ctx, job, m.backoff(st.Attempts))
}

func (m *RetryMode) backoff(attempt int) time.Duration {
	if m.BackoffFn != nil {
		return m.BackoffFn(attempt)
	}
	if m.Backoff > 0 {
		return m.Backoff
	}
	return DefaultRetryBackoff
}

////////////////////////////////////////////////////////////////////////////////
// MOVE

// MoveMode abandons the failing job and enqueues a copy of its task
// against ToQueue, notifying the original caller that the job moved.
type MoveMode struct {
	ToQueue string
}

var _ FailureMode = MoveMode{}

func (m MoveMode) ValidateArgs() error {
	if m.ToQueue == "" {
		return ErrBadParameter.With("move requires a target queue")
	}
	return nil
}

func (m MoveMode) HandleFailure(ctx context.Context, job *Job, reason error, fx FailureContext) error {
	moved, err := fx.Move(ctx, job, m.ToQueue)
	if err != nil {
		return err
	}
	fx.Reply(job, Result{Kind: ResultMoved, Value: moved, Err: reason})
	return nil
}

