// Package migrate applies the schema migrations shipped in migrations/.
package migrate

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file source for migrations
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var ErrDirty = errors.New("database is in dirty state")

type Config struct {
	DatabaseURL    string
	MigrationsPath string
}

type Runner struct {
	config Config
	logger *zap.Logger
}

func NewRunner(config Config, logger *zap.Logger) *Runner {
	return &Runner{
		config: config,
		logger: logger,
	}
}

// Up applies every pending migration and returns the resulting version.
func (r *Runner) Up() (uint, error) {
	return r.apply(func(m *migrate.Migrate) error { return m.Up() })
}

// Steps moves n migrations forward, or backward when n is negative.
func (r *Runner) Steps(n int) (uint, error) {
	if n == 0 {
		return 0, fmt.Errorf("steps must not be zero")
	}
	return r.apply(func(m *migrate.Migrate) error { return m.Steps(n) })
}

// Version reports the current schema version. A database without any
// migration applied is version 0.
func (r *Runner) Version() (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := r.withMigrate(func(m *migrate.Migrate) error {
		var err error
		version, dirty, err = current(m)
		return err
	})
	return version, dirty, err
}

func (r *Runner) apply(step func(*migrate.Migrate) error) (uint, error) {
	var version uint
	err := r.withMigrate(func(m *migrate.Migrate) error {
		if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		v, dirty, err := current(m)
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("%w at version %d", ErrDirty, v)
		}
		version = v
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("Database schema migrated", zap.Uint("version", version))
	return version, nil
}

func (r *Runner) withMigrate(fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("postgres", r.config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			r.logger.Warn("Failed to close migration connection", zap.Error(closeErr))
		}
	}()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", r.config.MigrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return fn(m)
}

func current(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}
