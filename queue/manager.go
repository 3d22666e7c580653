package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	// Packages
	pg "github.com/koudelka/honeydew/pg"
	uuid "github.com/google/uuid"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES
//
// Manager is the top-level external interface (spec §6): it owns a
// Registry of running queue processes and exposes enqueue/async/yield/
// suspend/resume/status/filter/cancel/move over queue names rather than
// over the Source/PollQueue/Pipeline trio directly.

type Manager struct {
	conn     pg.PoolConn
	registry Registry

	mu sync.Mutex
	wg sync.WaitGroup

	mailboxMu sync.Mutex
	mailboxes map[ReplyAddr]chan Result
}

// QueueConfig is everything StartQueue needs to start one named queue, the Go
// shape of spec §6's "Queue configuration options (enumerated)" table.
type QueueConfig struct {
	// Name is the queue name; the lock/private columns are derived from
	// it as honeydew_<name>_lock / honeydew_<name>_private.
	Name string

	// Schema is the user's ORM schema module (required).
	Schema Schema

	// Dialect selects the SQL dialect; defaults to PostgresDialect.
	Dialect Dialect

	// PollInterval is the idle poll cadence; default 10s.
	PollInterval time.Duration

	// StaleTimeout is the max expected job duration; default 300s.
	StaleTimeout time.Duration

	// ResetStaleInterval is how often the stale sweep runs; default 5m.
	ResetStaleInterval time.Duration

	// FailureMode defaults to AbandonMode{} when nil.
	FailureMode FailureMode

	// SuccessMode defaults to nil (acks directly on success).
	SuccessMode SuccessMode

	// Handlers maps task handler names to implementations.
	Handlers map[string]Handler

	// Workers is the worker pool size for this queue; default 1.
	Workers int

	// PrivateCodec overrides the JSON default for the private blob.
	PrivateCodec PrivateCodec

	// Suspended starts the queue's poll loop suspended.
	Suspended bool
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New constructs a Manager backed by conn, using registry for queue
// membership (a *LocalRegistry if nil).
func New(conn pg.PoolConn, registry Registry) (*Manager, error) {
	if conn == nil {
		return nil, ErrBadParameter.With("connection is nil")
	}
	if registry == nil {
		registry = NewLocalRegistry()
	}
	return &Manager{
		conn:      conn,
		registry:  registry,
		mailboxes: make(map[ReplyAddr]chan Result),
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - QUEUE LIFECYCLE

// StartQueue builds the Source/PollQueue/Pipeline trio for cfg,
// registers it under cfg.Name, and spawns its background loops (poll
// loop, worker pool, stale sweep) scoped to ctx. Supplying a queue module
// already registered under cfg.Name is an error, mirroring spec §6's
// "Supplying a queue module ... is an error (the backend is implicit)"
// applied to re-registration rather than backend selection.
func (m *Manager) StartQueue(ctx context.Context, cfg QueueConfig) (*QueueHandle, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, ErrBadParameter.With("queue name is required")
	}
	dialect := cfg.Dialect
	if dialect == nil {
		dialect = NewPostgresDialect()
	}

	var sourceOpts []SourceOpt
	if cfg.StaleTimeout > 0 {
		sourceOpts = append(sourceOpts, WithStaleTimeout(cfg.StaleTimeout))
	}
	if cfg.ResetStaleInterval > 0 {
		sourceOpts = append(sourceOpts, WithResetStaleInterval(cfg.ResetStaleInterval))
	}
	if cfg.PrivateCodec != nil {
		sourceOpts = append(sourceOpts, WithPrivateCodec(cfg.PrivateCodec))
	}

	source, err := NewSource(m.conn, cfg.Name, cfg.Schema, dialect, sourceOpts...)
	if err != nil {
		return nil, err
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	pq := NewPollQueue(source, pollInterval, cfg.Suspended)

	pipeline, err := NewPipeline(pq, source, cfg.Handlers, cfg.FailureMode, cfg.SuccessMode, m.moveFn, m.reply, cfg.Workers)
	if err != nil {
		return nil, err
	}

	h := &QueueHandle{Queue: cfg.Name, Source: source, PollQueue: pq, Pipeline: pipeline}
	if err := m.registry.Register(ctx, cfg.Name, h); err != nil {
		return nil, err
	}

	m.wg.Add(3)
	go func() { defer m.wg.Done(); pq.Run(ctx) }()
	go func() { defer m.wg.Done(); pipeline.Run(ctx) }()
	go func() { defer m.wg.Done(); source.RunResetStaleLoop(ctx) }()

	go func() {
		<-ctx.Done()
		m.registry.Unregister(context.Background(), cfg.Name)
	}()

	return h, nil
}

// Wait blocks until every queue's background loops have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - QUEUE API (spec §6)

// Enqueue validates a queue process is running for name and returns a
// Job describing pk's row on it. For the Ecto Poll Queue backend the row
// itself is created by the caller's own ORM insert (the lock column's
// DEFAULT already leaves it ready); Enqueue's role is the existence
// check spec.md assigns it ("raises when no queue process is running for
// the target name"), not row creation.
func (m *Manager) Enqueue(name string, pk PrimaryKey) (*Job, error) {
	h, ok := m.registry.Lookup(name)
	if !ok {
		return nil, ErrNoQueue.Withf("no queue process running for %q", name)
	}
	return &Job{Queue: name, Task: h.Source.schema.TaskFn(pk, name), Private: pk}, nil
}

// AsyncOpt configures Async.
type AsyncOpt struct {
	// Reply requests a reply address; CallerID identifies the caller
	// that will later call Yield (Go has no process identity to infer
	// this from automatically).
	Reply   bool
	CallerID string
}

// Async builds a Job for task against the named queue's row pk and, if
// opt.Reply is set, attaches a reply address whose result Yield can
// later retrieve.
func (m *Manager) Async(name string, task Task, pk PrimaryKey, opt AsyncOpt) (*Job, error) {
	if _, ok := m.registry.Lookup(name); !ok {
		return nil, ErrNoQueue.Withf("no queue process running for %q", name)
	}
	job := &Job{Queue: name, Task: task, Private: pk}
	if opt.Reply {
		addr := ReplyAddr{CallerID: opt.CallerID, RequestID: uuid.New().String()}
		*job = job.WithReply(addr)
		m.mailboxMu.Lock()
		m.mailboxes[addr] = make(chan Result, 2)
		m.mailboxMu.Unlock()
	}
	return job, nil
}

// Yield blocks up to timeout for job's result. It raises (returns an
// error) if job was not created with a reply address or if callerID
// does not match the one that issued it (spec §6/§7: "yield from the
// wrong caller or without reply:true raises synchronously").
func (m *Manager) Yield(ctx context.Context, job *Job, callerID string, timeout time.Duration) (*Result, error) {
	if job.From == nil {
		return nil, ErrNoReply.With("job was not created with a reply address")
	}
	if job.From.CallerID != callerID {
		return nil, ErrWrongCaller.With("yield called from a different caller than issued the job")
	}

	m.mailboxMu.Lock()
	ch, ok := m.mailboxes[*job.From]
	m.mailboxMu.Unlock()
	if !ok {
		return nil, ErrNoReply.With("no mailbox for this reply address")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-ch:
		return &result, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Suspend stops a running queue's poll loop from scheduling polls.
func (m *Manager) Suspend(ctx context.Context, name string) error {
	h, ok := m.registry.Lookup(name)
	if !ok {
		return ErrNoQueue.Withf("no queue process running for %q", name)
	}
	return h.PollQueue.Suspend(ctx)
}

// Resume reverses Suspend.
func (m *Manager) Resume(ctx context.Context, name string) error {
	h, ok := m.registry.Lookup(name)
	if !ok {
		return ErrNoQueue.Withf("no queue process running for %q", name)
	}
	return h.PollQueue.Resume(ctx)
}

// Status returns the named queue's row-count breakdown.
func (m *Manager) Status(ctx context.Context, name string) (Status, error) {
	h, ok := m.registry.Lookup(name)
	if !ok {
		return Status{}, ErrNoQueue.Withf("no queue process running for %q", name)
	}
	return h.Source.Status(ctx)
}

// Filter returns placeholder Jobs identifying every abandoned row on the
// named queue (spec §4.2: "the only currently supported selector").
func (m *Manager) Filter(ctx context.Context, name string) ([]Job, error) {
	h, ok := m.registry.Lookup(name)
	if !ok {
		return nil, ErrNoQueue.Withf("no queue process running for %q", name)
	}
	pks, err := h.Source.FilterAbandoned(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Job, len(pks))
	for i, pk := range pks {
		out[i] = Job{Queue: name, Task: h.Source.schema.TaskFn(pk, name), Private: pk}
	}
	return out, nil
}

// Cancel cancels a ready or delayed row on the named queue. Returns
// immediately with nil, ErrInProgress, or ErrNotFound; it never waits
// (spec §5: "Honeydew.cancel returns immediately ... it never waits").
func (m *Manager) Cancel(ctx context.Context, name string, pk PrimaryKey) error {
	h, ok := m.registry.Lookup(name)
	if !ok {
		return ErrNoQueue.Withf("no queue process running for %q", name)
	}
	return h.Source.Cancel(ctx, pk)
}

// Move abandons the row on fromQueue and readies the same primary key on
// toQueue (spec §4.5: Move "acks the original job ... enqueues a copy
// against Q"). Both queue names must back the same table/row, since the
// Ecto Poll Queue backend addresses work by row rather than by an
// independent per-queue mailbox; see DESIGN.md for this reading of the
// generic enqueue API.
func (m *Manager) Move(ctx context.Context, fromQueue string, pk PrimaryKey, toQueue string) (*Job, error) {
	from, ok := m.registry.Lookup(fromQueue)
	if !ok {
		return nil, ErrNoQueue.Withf("no queue process running for %q", fromQueue)
	}
	if err := from.Source.Ack(ctx, &Job{Queue: fromQueue, Private: pk}); err != nil {
		return nil, err
	}
	return m.moveFn(ctx, toQueue, from.Source.schema.TaskFn(pk, fromQueue), pk)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// moveFn is the generic cross-queue enqueue hook handed to every
// Pipeline's MoveMode (spec §4.5). It readies pk's row on toQueue by
// nacking it with zero delay against toQueue's own Source, reusing R1's
// sibling operation rather than inventing a second insert path.
func (m *Manager) moveFn(ctx context.Context, toQueue string, task Task, pk PrimaryKey) (*Job, error) {
	to, ok := m.registry.Lookup(toQueue)
	if !ok {
		return nil, ErrNoQueue.Withf("no queue process running for %q", toQueue)
	}

	job := &Job{Queue: toQueue, Task: task, Private: pk}
	if err := to.Source.Nack(ctx, job, 0); err != nil {
		return nil, err
	}
	return job, nil
}

// reply delivers result to job's mailbox, if any, tolerating a second
// at-least-once delivery by dropping it if the buffer is full rather
// than blocking the pipeline (spec §4.4: "a second arrival is possible
// and intentional").
func (m *Manager) reply(job *Job, result Result) {
	if job.From == nil {
		return
	}
	m.mailboxMu.Lock()
	ch, ok := m.mailboxes[*job.From]
	m.mailboxMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}

