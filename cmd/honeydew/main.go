package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	// Packages
	kong "github.com/alecthomas/kong"
	pg "github.com/koudelka/honeydew/pg"
	queue "github.com/koudelka/honeydew/queue"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type Globals struct {
	// Debug option
	Debug bool `name:"debug" help:"Enable verbose query tracing"`

	// Database connection options
	DSN string `name:"dsn" env:"HONEYDEW_DSN" help:"PostgreSQL connection URL" default:"postgres://localhost/postgres"`

	// Queue options, shared by every subcommand
	Table   string `name:"table" env:"HONEYDEW_TABLE" help:"Table the queue is layered onto" default:"jobs"`
	Queue   string `name:"queue" env:"HONEYDEW_QUEUE" help:"Queue name" default:"default"`
	Dialect string `name:"dialect" env:"HONEYDEW_DIALECT" help:"SQL dialect: postgres or cockroachdb" default:"postgres" enum:"postgres,cockroachdb"`

	// Private fields
	ctx    context.Context
	cancel context.CancelFunc
	conn   pg.PoolConn
}

type CLI struct {
	Globals
	EnqueueCommands
	WorkCommands
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func main() {
	cli := new(CLI)
	ctx := kong.Parse(cli,
		kong.Name("honeydew"),
		kong.Description("honeydew command line interface"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	cli.Globals.ctx, cli.Globals.cancel = signal.NotifyContext(context.Background(), os.Interrupt)
	defer cli.Globals.cancel()

	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// Conn lazily opens (and caches) a connection pool against g.DSN.
func (g *Globals) Conn() (pg.PoolConn, error) {
	if g.conn != nil {
		return g.conn, nil
	}

	opts := []pg.Opt{pg.WithURL(g.DSN)}
	if g.Debug {
		opts = append(opts, pg.WithTrace(func(ctx context.Context, query string, args any, err error) {
			fmt.Fprintln(os.Stderr, "SQL:", query, args, err)
		}))
	}

	conn, err := pg.NewPool(g.ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(g.ctx); err != nil {
		conn.Close()
		return nil, err
	}
	g.conn = conn
	return conn, nil
}

// dialect resolves the --dialect flag into a queue.Dialect.
func (g *Globals) dialect() queue.Dialect {
	if g.Dialect == "cockroachdb" {
		return queue.NewCockroachDBDialect()
	}
	return queue.NewPostgresDialect()
}

// schema returns the single-column SimpleSchema every demo subcommand
// operates against: an integer primary key named "id" on g.Table.
func (g *Globals) schema() queue.Schema {
	return queue.NewSimpleSchema("", g.Table, "id", func() any { return new(int64) })
}

// pk builds a PrimaryKey from the positional <id> argument shared by most commands.
func pk(id int64) queue.PrimaryKey {
	return queue.PrimaryKey{{Field: "id", Value: id}}
}
