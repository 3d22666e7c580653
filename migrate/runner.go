package migrate

import (
	"errors"

	// Packages
	migrate "github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	iofs "github.com/golang-migrate/migrate/v4/source/iofs"
	pgx "github.com/jackc/pgx/v5"
	stdlib "github.com/jackc/pgx/v5/stdlib"
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC FUNCTIONS

// Up applies every embedded migration that has not yet run against dsn.
// It is idempotent: running it again when there is nothing new to apply
// returns nil rather than an error.
func Up(dsn string) error {
	return run(dsn, func(m *migrate.Migrate) error { return m.Up() })
}

// Down reverts every applied migration, for test teardown.
func Down(dsn string) error {
	return run(dsn, func(m *migrate.Migrate) error { return m.Down() })
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE FUNCTIONS

func run(dsn string, fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(FS, "sql")
	if err != nil {
		return err
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return err
	}
	// Simple query protocol lets the server execute the multi-statement
	// migration files natively; the extended protocol would wrap each
	// file in an implicit transaction and reject CREATE INDEX
	// CONCURRENTLY if a later migration ever needs one.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*cfg)
	defer db.Close()

	if err := db.Ping(); err != nil {
		return err
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
