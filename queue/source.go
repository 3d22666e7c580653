package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	// Packages
	pg "github.com/koudelka/honeydew/pg"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	ref "github.com/mutablelogic/go-server/pkg/ref"
	pgx "github.com/jackc/pgx/v5"
	pgconn "github.com/jackc/pgx/v5/pgconn"
	attribute "go.opentelemetry.io/otel/attribute"
	codes "go.opentelemetry.io/otel/codes"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Source is the Ecto Source (C2): it owns the lock-field semantics for
// one queue and translates queue operations into the configured
// Dialect's SQL, loading and dumping primary keys and the private blob
// through the Schema capability interface.
type Source struct {
	conn         pg.PoolConn
	dialect      Dialect
	schema       Schema
	codec        PrivateCodec
	queue        string
	table        string
	lockCol      string
	privateCol   string
	staleTimeout time.Duration
	resetStaleInterval time.Duration
	runIf        func(PrimaryKey) bool
	tracer       trace.Tracer
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewSource constructs a Source for queue over conn, using dialect's SQL
// and schema's column/type knowledge. The lock and private column names
// are derived from the queue name per spec §3: honeydew_<queue>_lock and
// honeydew_<queue>_private.
func NewSource(conn pg.PoolConn, queueName string, schema Schema, dialect Dialect, opts ...SourceOpt) (*Source, error) {
	if conn == nil {
		return nil, ErrBadParameter.With("connection is nil")
	}
	if schema == nil {
		return nil, ErrBadParameter.With("schema is required")
	}
	if dialect == nil {
		return nil, ErrBadParameter.With("dialect is required")
	}
	if strings.TrimSpace(queueName) == "" {
		return nil, ErrBadParameter.With("queue name is required")
	}

	o := defaultSourceOpts()
	for _, fn := range opts {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}

	return &Source{
		conn:               conn,
		dialect:            dialect,
		schema:              schema,
		codec:               o.codec,
		queue:               queueName,
		table:               dialect.TableName(schema.SchemaName(), schema.Table()),
		lockCol:             fmt.Sprintf("honeydew_%s_lock", queueName),
		privateCol:          fmt.Sprintf("honeydew_%s_private", queueName),
		staleTimeout:        o.staleTimeout,
		resetStaleInterval:  o.resetStaleInterval,
		runIf:               o.runIf,
		tracer:              o.tracer,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Reserve runs R1: it atomically claims one ready row and returns the Job
// it represents, or (nil, nil) if no row qualified or a transient storage
// error occurred (the poll loop treats both as "empty" and backs off).
func (s *Source) Reserve(ctx context.Context) (job *Job, err error) {
	ctx, span := s.startSpan(ctx, "reserve")
	defer func() { endSpan(span, err) }()

	pkCols := s.schema.PrimaryKey()
	targets := make([]any, 0, len(pkCols)+1)
	for _, col := range pkCols {
		targets = append(targets, s.schema.NewPKScanTarget(col))
	}
	var private []byte
	targets = append(targets, &private)

	sql := s.dialect.ReserveSQL(s.table, s.lockCol, s.privateCol, pkCols)
	row := s.conn.With("stale_timeout_ms", s.staleTimeout.Milliseconds()).QueryRow(ctx, sql)
	if err := row.Scan(targets...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if isTransient(err) {
			s.logf(ctx, "reserve: transient storage error: %v", err)
			return nil, nil
		}
		return nil, err
	}

	pk := make(PrimaryKey, len(pkCols))
	for i, col := range pkCols {
		pk[i] = PKValue{Field: col, Value: derefScanTarget(targets[i])}
	}
	if s.runIf != nil && !s.runIf(pk) {
		// Caller's predicate vetoes this row; leave it reserved but
		// immediately nack it back to ready so another poll can pick a
		// different one.
		if err := s.Nack(ctx, &Job{Queue: s.queue, Private: pk}, 0); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &Job{
		Queue:          s.queue,
		Task:           s.schema.TaskFn(pk, s.queue),
		Private:        pk,
		FailurePrivate: private,
	}, nil
}

// Ack declares a reserved job done. If job.CompletedAt is nil the row is
// abandoned (lock=-1); otherwise it is finished (lock=NULL). The private
// column is cleared either way.
func (s *Source) Ack(ctx context.Context, job *Job) (err error) {
	ctx, span := s.startSpan(ctx, "ack")
	defer func() { endSpan(span, err) }()

	lock := "NULL"
	if job.CompletedAt == nil {
		lock = fmt.Sprint(LockAbandoned)
	}
	sql := fmt.Sprintf(`UPDATE %s SET %s = %s, %s = NULL WHERE %s`,
		s.table, quoteIdent(s.lockCol), lock, quoteIdent(s.privateCol), pkEq(s.schema.PrimaryKey()))

	affected, err := s.conn.With(pkBinds(job.Private)...).Exec(ctx, sql)
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrInternalError.Withf("ack: expected to affect 1 row, affected %d", affected)
	}
	return nil
}

// Nack reschedules a reserved job for a future attempt after delay. It
// must affect exactly 1 row; any other count is an internal fault the
// Source propagates rather than swallows, per spec §4.2.
func (s *Source) Nack(ctx context.Context, job *Job, delay time.Duration) (err error) {
	ctx, span := s.startSpan(ctx, "nack")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Float64("delay_seconds", delay.Seconds()))

	// FailurePrivate is already the encoded blob (failure modes encode it
	// with the codec), so it is written as-is and Reserve reads it back
	// byte for byte.
	sql := s.dialect.DelayReadySQL(s.table, s.lockCol, s.privateCol, s.schema.PrimaryKey())
	binds := append([]any{"delay_seconds", delay.Seconds(), "private", job.FailurePrivate}, pkBinds(job.Private)...)
	affected, err := s.conn.With(binds...).Exec(ctx, sql)
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrInternalError.Withf("nack: expected to affect 1 row, affected %d", affected)
	}
	return nil
}

// Cancel cancels a ready or delayed row. Returns nil on success,
// ErrInProgress if the row is currently reserved (or stale but not yet
// swept), or ErrNotFound if the row does not exist or is already
// finished/abandoned.
func (s *Source) Cancel(ctx context.Context, pk PrimaryKey) (err error) {
	ctx, span := s.startSpan(ctx, "cancel")
	defer func() { endSpan(span, err) }()

	sql := s.dialect.CancelSQL(s.table, s.lockCol, s.schema.PrimaryKey())
	row := s.conn.With(pkBinds(pk)...).QueryRow(ctx, sql)

	var prevLock *int64
	if err := row.Scan(&prevLock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	switch ClassifyLock(prevLock, NowMillis(time.Now())) {
	case StateReady, StateDelayed:
		return nil
	case StateInProgress, StateStale:
		return ErrInProgress
	default:
		return ErrNotFound
	}
}

// Status returns the one-row count breakdown produced by the dialect's
// status SQL.
func (s *Source) Status(ctx context.Context) (Status, error) {
	var st Status
	sql := s.dialect.StatusSQL(s.table, s.lockCol)
	row := s.conn.QueryRow(ctx, sql)
	if err := row.Scan(&st.Total, &st.Abandoned, &st.Ready, &st.Delayed, &st.Stale, &st.InProgress); err != nil {
		return Status{}, err
	}
	return st, nil
}

// FilterAbandoned returns the primary keys of every abandoned row. It is
// the only selector spec §4.2 currently defines.
func (s *Source) FilterAbandoned(ctx context.Context) ([]PrimaryKey, error) {
	pkCols := s.schema.PrimaryKey()
	sql := s.dialect.FilterAbandonedSQL(s.table, s.lockCol, pkCols)
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PrimaryKey
	for rows.Next() {
		targets := make([]any, len(pkCols))
		for i, col := range pkCols {
			targets[i] = s.schema.NewPKScanTarget(col)
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		pk := make(PrimaryKey, len(pkCols))
		for i, col := range pkCols {
			pk[i] = PKValue{Field: col, Value: derefScanTarget(targets[i])}
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}

// ResetStale runs the reset-stale sweep once: any row whose lock has
// drifted into the stale range is restored to its column DEFAULT (ready).
// Idempotent; safe to call on a fixed interval regardless of outcome.
func (s *Source) ResetStale(ctx context.Context) error {
	sql := s.dialect.ResetStaleSQL(s.table, s.lockCol, s.privateCol)
	_, err := s.conn.Exec(ctx, sql)
	return err
}

// RunResetStaleLoop runs ResetStale on a fixed interval until ctx is
// cancelled. This is the sole recovery mechanism for crashed workers.
func (s *Source) RunResetStaleLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.resetStaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.ResetStale(ctx); err != nil {
				s.logf(ctx, "reset_stale: %v", err)
			}
		}
	}
}

////////////////////////////////////////////////////////////////////////////////
// TYPES - STATUS

// Status is the per-state row-count breakdown returned by Status.
type Status struct {
	Total      int64
	Abandoned  int64
	Ready      int64
	Delayed    int64
	Stale      int64
	InProgress int64
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// startSpan opens a span named "honeydew.queue.<op>" tagged with this
// source's queue name, mirroring pg.tracer's per-query span convention.
func (s *Source) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "honeydew.queue."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("queue", s.queue)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Source) logf(ctx context.Context, format string, args ...any) {
	log := ref.Log(ctx)
	if log == nil {
		log = logger.New(os.Stdout, logger.Text, false)
	}
	log.With("queue", s.queue).Print(ctx, fmt.Sprintf(format, args...))
}

// pkBinds flattens a PrimaryKey into ("pk_field", value, "pk_field2",
// value2, ...) pairs for Conn.With, matching the @pk_<field> placeholders
// the dialect's SQL uses.
func pkBinds(pk PrimaryKey) []any {
	out := make([]any, 0, len(pk)*2)
	for _, v := range pk {
		out = append(out, "pk_"+v.Field, v.Value)
	}
	return out
}

// derefScanTarget unwraps the pointer a Schema.NewPKScanTarget returned,
// so the Job's PrimaryKey carries plain values rather than pointers.
func derefScanTarget(target any) any {
	switch v := target.(type) {
	case *any:
		return *v
	case *int64:
		return *v
	case *int32:
		return *v
	case *string:
		return *v
	default:
		return target
	}
}

// isTransient reports whether err is a connection-level failure the Source
// should treat as "empty" rather than propagate, per spec §4.1's error
// policy. Context cancellation is never transient: it means the caller is
// shutting down, not that the database is temporarily unreachable.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 40001 is a serialization
		// failure under CockroachDB's retryable-transaction model.
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001"
	}
	// Unrecognised driver/network error: fail open toward availability,
	// matching spec's "connection errors are transient" policy.
	return true
}
