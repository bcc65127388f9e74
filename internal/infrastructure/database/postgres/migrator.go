package postgres

import (
	"embed"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// newMigrate assembles a migrate instance over the embedded migrations.
// The pgx5 URL scheme selects golang-migrate's pgx/v5 database driver.
func newMigrate(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreMigrationFailed, "postgres: load embedded migrations")
	}
	dbURL := strings.Replace(DSN(cfg), "postgres://", "pgx5://", 1)
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreMigrationFailed, "postgres: build migrate instance")
	}
	return m, nil
}

// Migrate applies every pending schema migration. Called on startup; a
// schema already at the latest version is not an error.
func Migrate(cfg config.DatabaseConfig, log logging.Logger) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Debug("database schema already up to date")
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeStoreMigrationFailed, "postgres: apply migrations")
	}

	version, dirty, verr := m.Version()
	if verr != nil && verr != migrate.ErrNilVersion {
		log.Warn("could not read migration version", logging.Err(verr))
	}
	log.Info("database migrations applied",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// MigrationStatus reports the applied schema version and whether a failed
// migration left the schema dirty.
func MigrationStatus(cfg config.DatabaseConfig) (version uint, dirty bool, err error) {
	m, err := newMigrate(cfg)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, errors.ErrCodeStoreMigrationFailed, "postgres: read migration version")
	}
	return version, dirty, nil
}

// Rollback undoes the given number of migration steps. Development and
// test use only.
func Rollback(cfg config.DatabaseConfig, steps int) error {
	if steps <= 0 {
		return errors.Newf(errors.ErrCodeStoreMigrationFailed, "postgres: rollback steps must be positive, got %d", steps)
	}
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil {
		if err == migrate.ErrNoChange {
			return errors.New(errors.ErrCodeStoreMigrationFailed, "postgres: no migrations to roll back")
		}
		return errors.Wrapf(err, errors.ErrCodeStoreMigrationFailed, "postgres: roll back %d step(s)", steps)
	}
	return nil
}

// ForceVersion pins the schema version without running migrations, to
// recover from a dirty state after a partially applied migration.
func ForceVersion(cfg config.DatabaseConfig, version int) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Force(version); err != nil {
		return errors.Wrapf(err, errors.ErrCodeStoreMigrationFailed, "postgres: force version %d", version)
	}
	return nil
}
