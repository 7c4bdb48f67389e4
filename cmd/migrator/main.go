// Command migrator applies the schema (and, in DEV, the seed users) to the
// database named by PG_DSN.
package main

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/fastprodman/gameledger/internal/infra/logging"
	"github.com/fastprodman/gameledger/pkg/envconf"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

//go:embed test_data/*.sql
var seedFS embed.FS

type migratorConfig struct {
	DSN      string     `env:"PG_DSN"`
	LogLevel slog.Level `env:"APP_LOG_LEVEL" default:"INFO"`
	AppEnv   string     `env:"APP_ENV" default:"PROD"`
	// Action is up, down or version. down rolls back Steps schema versions.
	Action string `env:"MIGRATE_ACTION" default:"up"`
	Steps  int    `env:"MIGRATE_STEPS" default:"1"`
}

// set is one independently versioned group of migrations.
type set struct {
	name  string
	fsys  fs.FS
	dir   string
	table string
}

var (
	schema = set{name: "schema", fsys: schemaFS, dir: "migrations", table: "schema_migrations"}
	// Seeds keep their own version table so they never collide with schema
	// versions.
	seed = set{name: "seed", fsys: seedFS, dir: "test_data", table: "seed_migrations"}
)

func main() {
	err := run()
	if err != nil {
		slog.Error("migration run failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := new(migratorConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.SetupJSON(cfg.LogLevel, "migrator")

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	//nolint:errcheck
	defer db.Close()

	err = db.Ping()
	if err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	sets := []set{schema}
	if cfg.AppEnv == "DEV" {
		sets = append(sets, seed)
	}

	switch strings.ToLower(cfg.Action) {
	case "up":
		for _, s := range sets {
			err = apply(db, s, logger, func(m *migrate.Migrate) error { return m.Up() })
			if err != nil {
				return err
			}
		}
	case "down":
		if cfg.Steps < 1 {
			return fmt.Errorf("MIGRATE_STEPS must be positive, got %d", cfg.Steps)
		}

		// Seeds depend on the schema, so they roll back first.
		for i := len(sets) - 1; i >= 0; i-- {
			err = apply(db, sets[i], logger, func(m *migrate.Migrate) error { return m.Steps(-cfg.Steps) })
			if err != nil {
				return err
			}
		}
	case "version":
		for _, s := range sets {
			err = apply(db, s, logger, func(*migrate.Migrate) error { return nil })
			if err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown MIGRATE_ACTION %q", cfg.Action)
	}

	return nil
}

// apply runs op on set s and logs the resulting version. ErrNoChange is not
// an error.
func apply(db *sql.DB, s set, logger *slog.Logger, op func(*migrate.Migrate) error) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: s.table})
	if err != nil {
		return fmt.Errorf("%s: init postgres driver: %w", s.name, err)
	}

	src, err := iofs.New(s.fsys, s.dir)
	if err != nil {
		return fmt.Errorf("%s: iofs source: %w", s.name, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("%s: migrate instance: %w", s.name, err)
	}

	m.Log = migrateLogger{logger: logger.With("set", s.name)}

	err = op(m)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", s.name, err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("no migrations applied", "set", s.name)
	case err != nil:
		return fmt.Errorf("%s: read version: %w", s.name, err)
	default:
		logger.Info("migrations at version", "set", s.name, "version", version, "dirty", dirty)
	}

	return nil
}

// migrateLogger adapts slog to migrate.Logger.
type migrateLogger struct{ logger *slog.Logger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }
