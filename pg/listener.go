package pg

import (
	"context"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	pgxpool "github.com/jackc/pgx/v5/pgxpool"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Notification is a PostgreSQL asynchronous notification delivered via
// LISTEN/NOTIFY.
type Notification struct {
	Channel string
	Payload string
}

// Listener subscribes to PostgreSQL NOTIFY channels over a dedicated
// connection. The queue package's poll loop does not use it; the loop
// relies on its poll interval alone.
type Listener interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (*Notification, error)
	Close(ctx context.Context) error
}

type listener struct {
	pool *pgxpool.Pool
	conn *pgxpool.Conn
}

var _ Listener = (*listener)(nil)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newListener(ctx context.Context, pool *pgxpool.Pool) (Listener, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, pgerror(err)
	}
	return &listener{pool: pool, conn: conn}, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (l *listener) Listen(ctx context.Context, channel string) error {
	_, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return pgerror(err)
}

func (l *listener) WaitForNotification(ctx context.Context) (*Notification, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return nil, pgerror(err)
	}
	return &Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

func (l *listener) Close(context.Context) error {
	l.conn.Release()
	return nil
}
