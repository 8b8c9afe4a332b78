package db

import (
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrateUp applies every pending schema migration. A database that is
// already current is left alone.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// closing m would close the shared connection pool
	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.New(errors.KindSchema, "migrate up", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.New(errors.KindSchema, "migrate down", err)
	}
	return nil
}

// MigrateVersion returns the schema version and whether the last migration
// stopped half way. An unmigrated database is version 0.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	switch {
	case stderrors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, errors.New(errors.KindSchema, "migrate version", err)
	}
	return version, dirty, nil
}

// MigrateForce records version as current without running anything. It is
// the way out of a dirty state after the schema was repaired by hand.
func (db *DB) MigrateForce(version int) error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return errors.New(errors.KindSchema, "migrate force", err).With("version", version)
	}
	return nil
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	const op = "open migrations"
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.New(errors.KindSchema, op, err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, errors.New(errors.KindSchema, op, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, errors.New(errors.KindSchema, op, err)
	}
	m.Log = migrateLogger{logf: monitoring.Component("migrate")}
	return m, nil
}

// migrateLogger adapts the component logger to migrate.Logger.
type migrateLogger struct {
	logf func(format string, v ...interface{})
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logf(format, v...)
}

func (migrateLogger) Verbose() bool {
	return monitoring.Verbose()
}
