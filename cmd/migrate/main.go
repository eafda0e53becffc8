package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/config"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/database"
)

const usage = "up, down, status, pending, force"

// errPending makes -action=pending exit with 3 so deploy scripts can gate on it
var errPending = errors.New("pending migrations")

func main() {
	err := run()
	switch {
	case errors.Is(err, errPending):
		os.Exit(3)
	case err != nil:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	action := flag.String("action", "up", "Migration action: "+usage)
	version := flag.Int("version", 0, "Target version (force only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := cfg.NewLogger()

	migrator, err := database.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() { _ = migrator.Close() }()

	logger = logger.With("action", *action)

	switch *action {
	case "up":
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		return logStatus(logger, migrator, "migrations applied")

	case "down":
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		return logStatus(logger, migrator, "last migration rolled back")

	case "status", "version":
		return logStatus(logger, migrator, "migration status")

	case "pending":
		st, err := migrator.Status()
		if err != nil {
			return fmt.Errorf("failed to check pending migrations: %w", err)
		}
		logger.Info("pending migrations", "pending", st.Pending(), "version", st.Current, "latest", st.Latest)
		if st.Pending() {
			return errPending
		}
		return nil

	case "force":
		if *version <= 0 {
			return errors.New("-version is required for force")
		}
		if err := migrator.Force(*version); err != nil {
			return fmt.Errorf("force migration failed: %w", err)
		}
		return logStatus(logger, migrator, "migration version forced")

	default:
		return fmt.Errorf("invalid action %q (use: %s)", *action, usage)
	}
}

func logStatus(logger *slog.Logger, migrator *database.Migrator, msg string) error {
	st, err := migrator.Status()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	logger.Info(msg, "version", st.Current, "latest", st.Latest, "dirty", st.Dirty)
	if st.Dirty {
		logger.Warn("database is dirty, fix the failed migration and run -action=force")
	}
	return nil
}
