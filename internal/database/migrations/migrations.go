package migrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"
)

// Options configures the migration runner.
type Options struct {
	// Dir is the directory containing the .sql migration files.
	Dir string
	// SeedTickets controls whether the ticket seed migration runs. The
	// schema migrations always run; a fresh deployment wants the seed
	// too, a restore from backup does not.
	SeedTickets bool
}

func DefaultOptions() Options {
	return Options{
		Dir:         "./migrations",
		SeedTickets: true,
	}
}

// Runner applies the versioned SQL migrations for the raffle schema:
// tickets, orders and order_items, plus the ticket grid seed.
type Runner struct {
	bunDB    *bun.DB
	options  Options
	migrator *migrate.Migrate
}

func NewRunner(bunDB *bun.DB, opts Options) *Runner {
	return &Runner{
		bunDB:   bunDB,
		options: opts,
	}
}

// schemaVersion is the last migration that only touches schema; the seed
// migrations come after it.
const schemaVersion = 1

func (r *Runner) initialize() error {
	if r.migrator != nil {
		return nil
	}

	driver, err := postgres.WithInstance(r.bunDB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	if _, err := os.Stat(r.options.Dir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.Dir)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", r.options.Dir),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	r.migrator = migrator
	return nil
}

// Run applies pending migrations. With SeedTickets it migrates all the
// way up; without it stops after the schema migrations.
func (r *Runner) Run() error {
	if err := r.initialize(); err != nil {
		return err
	}

	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return errors.New("database is in a dirty migration state, resolve it manually")
	}

	if r.options.SeedTickets {
		err = r.migrator.Up()
	} else if version < schemaVersion {
		// Never migrate down here; skipping the seed must not undo one
		// that already ran.
		err = r.migrator.Migrate(schemaVersion)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Down rolls back every migration. Destroys all order history.
func (r *Runner) Down() error {
	if err := r.initialize(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version reports the current schema version, 0 when none applied yet.
func (r *Runner) Version() (uint, error) {
	if err := r.initialize(); err != nil {
		return 0, err
	}
	version, _, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

// Close frees the migrator without closing the shared database handle.
func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("error closing migrator database: %w", databaseErr)
	}
	return nil
}
