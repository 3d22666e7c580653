package pg

import (
	"context"
	"strings"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	attribute "go.opentelemetry.io/otel/attribute"
	codes "go.opentelemetry.io/otel/codes"
	trace "go.opentelemetry.io/otel/trace"
)

//////////////////////////////////////////////////////////////////////////////
// TYPES

// TraceFn is called after each query with its execution context, the SQL,
// the bound arguments, and the error (if any).
type TraceFn func(ctx context.Context, sql string, args any, err error)

// tracer implements pgx.QueryTracer, optionally emitting an OpenTelemetry
// span per query and/or calling a TraceFn callback.
type tracer struct {
	fn   TraceFn
	otel trace.Tracer
}

type queryData struct {
	span trace.Span
	sql  string
	args []any
}

type ctxKey struct{}

//////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewTracer creates a tracer that invokes fn after each query.
func NewTracer(fn TraceFn) *tracer {
	return &tracer{fn: fn}
}

// NewOTELTracer creates a tracer that emits one OpenTelemetry span per
// query using t.
func NewOTELTracer(t trace.Tracer) *tracer {
	return &tracer{otel: t}
}

//////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (t *tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qd := &queryData{sql: data.SQL, args: data.Args}

	if t.otel != nil {
		ctx, qd.span = t.otel.Start(ctx, "honeydew.query",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("db.statement", data.SQL)),
		)
	}

	return context.WithValue(ctx, ctxKey{}, qd)
}

func (t *tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qd, ok := ctx.Value(ctxKey{}).(*queryData)
	if !ok {
		return
	}

	if qd.span != nil {
		if data.Err != nil {
			qd.span.RecordError(data.Err)
			qd.span.SetStatus(codes.Error, data.Err.Error())
		}
		qd.span.End()
	}

	if t.fn != nil {
		t.fn(ctx, strings.TrimSpace(qd.sql), args(qd.args), data.Err)
	}
}

//////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func args(a []any) any {
	switch len(a) {
	case 0:
		return nil
	case 1:
		return a[0]
	default:
		return a
	}
}
