package queue

import (
	"time"

	// Packages
	otel "go.opentelemetry.io/otel"
	trace "go.opentelemetry.io/otel/trace"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// SourceOpt configures a Source at construction.
type SourceOpt func(*sourceOpts) error

type sourceOpts struct {
	codec              PrivateCodec
	staleTimeout       time.Duration
	resetStaleInterval time.Duration
	runIf              func(PrimaryKey) bool
	tracer             trace.Tracer
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// DefaultPollInterval is the idle poll cadence (spec §6: default 10s).
	DefaultPollInterval = 10 * time.Second

	// DefaultStaleTimeout is the max expected job duration (spec §6:
	// default 300s).
	DefaultStaleTimeout = 300 * time.Second

	// DefaultResetStaleInterval is how often the stale sweep runs (spec
	// §4.2: default 5 minutes).
	DefaultResetStaleInterval = 5 * time.Minute
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func defaultSourceOpts() sourceOpts {
	return sourceOpts{
		codec:              JSONCodec{},
		staleTimeout:       DefaultStaleTimeout,
		resetStaleInterval: DefaultResetStaleInterval,
		tracer:             otel.Tracer("github.com/koudelka/honeydew/queue"),
	}
}

////////////////////////////////////////////////////////////////////////////////
// OPTIONS

// WithStaleTimeout sets the max expected job duration: the window a
// reservation holds the in-progress lock before it is eligible for the
// stale sweep.
func WithStaleTimeout(d time.Duration) SourceOpt {
	return func(o *sourceOpts) error {
		if d <= 0 {
			return ErrBadParameter.With("stale timeout must be > 0")
		}
		o.staleTimeout = d
		return nil
	}
}

// WithResetStaleInterval sets how often the stale-recovery sweep runs.
func WithResetStaleInterval(d time.Duration) SourceOpt {
	return func(o *sourceOpts) error {
		if d <= 0 {
			return ErrBadParameter.With("reset stale interval must be > 0")
		}
		o.resetStaleInterval = d
		return nil
	}
}

// WithPrivateCodec overrides the JSON default used to marshal the
// failure-private blob.
func WithPrivateCodec(codec PrivateCodec) SourceOpt {
	return func(o *sourceOpts) error {
		if codec == nil {
			return ErrBadParameter.With("codec is nil")
		}
		o.codec = codec
		return nil
	}
}

// WithRunIf installs a predicate consulted after a successful reserve;
// returning false releases the row back to ready without dispatching it.
func WithRunIf(fn func(PrimaryKey) bool) SourceOpt {
	return func(o *sourceOpts) error {
		o.runIf = fn
		return nil
	}
}

// WithTracer overrides the OpenTelemetry tracer used for per-operation
// spans. Defaults to the global tracer provider's
// "github.com/koudelka/honeydew/queue" tracer.
func WithTracer(t trace.Tracer) SourceOpt {
	return func(o *sourceOpts) error {
		if t == nil {
			return ErrBadParameter.With("tracer is nil")
		}
		o.tracer = t
		return nil
	}
}
