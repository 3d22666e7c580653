package pg

import (
	"context"
	"errors"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	pgconn "github.com/jackc/pgx/v5/pgconn"
	pgxpool "github.com/jackc/pgx/v5/pgxpool"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// PoolConn is a Conn backed by a connection pool, with pool lifecycle
// operations and a LISTEN/NOTIFY listener factory.
type PoolConn interface {
	Conn

	// Ping acquires a connection and pings it.
	Ping(context.Context) error

	// Close releases pool resources.
	Close()

	// Listener returns a new LISTEN/NOTIFY listener over a dedicated
	// connection from the pool.
	Listener(context.Context) (Listener, error)
}

type pool struct {
	*pgxpool.Pool
}

type poolconn struct {
	pool *pool
	bind *Bind
}

var _ pgx.Tx = (*pool)(nil)
var _ PoolConn = (*poolconn)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewPool creates a new connection pool to a PostgreSQL (or
// PostgreSQL-wire-compatible, e.g. CockroachDB) server.
func NewPool(ctx context.Context, opts ...Opt) (PoolConn, error) {
	o, err := apply(opts...)
	if err != nil {
		return nil, err
	}

	poolconfig, err := pgxpool.ParseConfig(o.Encode())
	if err != nil {
		return nil, err
	}

	if o.TraceFn != nil {
		poolconfig.ConnConfig.Tracer = NewTracer(o.TraceFn)
	}

	p, err := pgxpool.NewWithConfig(ctx, poolconfig)
	if err != nil {
		return nil, err
	}

	return &poolconn{&pool{p}, o.bind}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - POOL (satisfies pgx.Tx so Bind's Tx-shaped helpers work)

func (p *pool) Commit(context.Context) error {
	return errors.New("cannot commit a connection pool")
}

func (p *pool) Rollback(context.Context) error {
	return errors.New("cannot rollback a connection pool")
}

func (p *pool) Conn() *pgx.Conn {
	return nil
}

func (p *pool) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (p *pool) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("cannot prepare a connection pool")
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - POOLCONN

func (p *poolconn) Ping(ctx context.Context) error {
	return p.pool.Pool.Ping(ctx)
}

func (p *poolconn) Close() {
	p.pool.Pool.Close()
}

func (p *poolconn) With(params ...any) Conn {
	return &poolconn{p.pool, p.bind.Copy(params...)}
}

func (p *poolconn) Bind() *Bind {
	return p.bind
}

func (p *poolconn) Tx(ctx context.Context, fn func(Conn) error) error {
	return runTx(ctx, p.pool, p.bind, fn)
}

func (p *poolconn) Exec(ctx context.Context, query string) (int64, error) {
	return p.bind.Exec(ctx, p.pool, query)
}

func (p *poolconn) QueryRow(ctx context.Context, query string) pgx.Row {
	return p.bind.QueryRow(ctx, p.pool, query)
}

func (p *poolconn) Query(ctx context.Context, query string) (pgx.Rows, error) {
	return p.bind.Query(ctx, p.pool, query)
}

func (p *poolconn) Listener(ctx context.Context) (Listener, error) {
	return newListener(ctx, p.pool.Pool)
}
