package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/config"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/database"
	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/telemetry"
)

// migrator is the subset of *migrate.Migrate the actions use.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
}

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath, "Path to configuration file")
		action     = flag.String("action", "up", "Migration action: up, down, status, force")
		steps      = flag.Int("steps", 0, "Number of migrations to apply or roll back (0 = all)")
		version    = flag.Int("version", -1, "Version to force (force action only)")
	)
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(telemetry.LoggerConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Environment: cfg.Environment,
		Service:     "cfe-migrate",
		Version:     cfg.Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required")
	}

	m, err := database.NewMigrator(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to open migrator", zap.Error(err))
	}
	defer m.Close()

	if err := run(m, *action, *steps, *version, os.Stdout); err != nil {
		logger.Fatal("migration failed", zap.String("action", *action), zap.Error(err))
	}
	logger.Info("migration complete", zap.String("action", *action))
}

func run(m migrator, action string, steps, version int, out io.Writer) error {
	var err error
	switch action {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "force":
		if version < 0 {
			return errors.New("force requires -version")
		}
		err = m.Force(version)
	case "status":
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Fprintln(out, "version: none")
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		fmt.Fprintf(out, "version: %d dirty: %t\n", v, dirty)
	}
	return nil
}
