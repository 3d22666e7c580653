package pg

import (
	"context"
	"errors"

	// Packages
	pgx "github.com/jackc/pgx/v5"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Conn is a bound database connection: a transaction, a pool, or a single
// acquired connection, together with the named parameters that will be
// substituted into any query run through it.
type Conn interface {
	// With returns a copy of this connection with additional bind vars.
	With(...any) Conn

	// Tx runs fn inside a transaction, committing on success and rolling
	// back on error.
	Tx(context.Context, func(Conn) error) error

	// Exec runs a statement and returns the number of rows affected.
	Exec(context.Context, string) (int64, error)

	// QueryRow runs a query expected to return at most one row.
	QueryRow(context.Context, string) pgx.Row

	// Query runs a query and returns the resulting rows.
	Query(context.Context, string) (pgx.Rows, error)

	// Bind returns the connection's current bind vars.
	Bind() *Bind
}

// Row is an alias for pgx.Row so callers need not import pgx directly.
type Row = pgx.Row

// Rows is an alias for pgx.Rows.
type Rows = pgx.Rows

type conn struct {
	tx   pgx.Tx
	bind *Bind
}

var _ Conn = (*conn)(nil)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (c *conn) With(params ...any) Conn {
	return &conn{c.tx, c.bind.Copy(params...)}
}

func (c *conn) Bind() *Bind {
	return c.bind
}

func (c *conn) Tx(ctx context.Context, fn func(Conn) error) error {
	return runTx(ctx, c.tx, c.bind, fn)
}

func (c *conn) Exec(ctx context.Context, query string) (int64, error) {
	return c.bind.Exec(ctx, c.tx, query)
}

func (c *conn) QueryRow(ctx context.Context, query string) pgx.Row {
	return c.bind.QueryRow(ctx, c.tx, query)
}

func (c *conn) Query(ctx context.Context, query string) (pgx.Rows, error) {
	return c.bind.Query(ctx, c.tx, query)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func runTx(ctx context.Context, tx pgx.Tx, bind *Bind, fn func(Conn) error) error {
	child, err := tx.Begin(ctx)
	if err != nil {
		return pgerror(err)
	}
	if err := fn(&conn{child, bind.Copy()}); err != nil {
		return errors.Join(pgerror(err), child.Rollback(ctx))
	}
	return pgerror(child.Commit(ctx))
}
