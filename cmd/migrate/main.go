// Package main implements the database migration utility for wa-relay.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/config"
	"github.com/popeskul/wa-relay/internal/infrastructure/migrate"
)

const (
	defaultConfigPath     = "config.yaml"
	defaultMigrationsPath = "./migrations"
)

func main() {
	var (
		configPath     string
		migrationsPath string
		steps          int
	)

	flag.StringVar(&configPath, "config", defaultConfigPath, "Path to the service configuration")
	flag.StringVar(&migrationsPath, "path", "", "Path to migrations directory")
	flag.IntVar(&steps, "steps", 0, "Number of migrations to apply; 0 applies all (up) or one (down)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = logger.Sync() }()

	args := flag.Args()
	if len(args) == 0 {
		logger.Fatal("Please specify a command: up, down, or version")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" || migrationsPath == "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			logger.Fatal("DATABASE_URL is unset and configuration could not be loaded", zap.Error(err))
		}
		if databaseURL == "" {
			databaseURL = cfg.Database.GetURL()
		}
		if migrationsPath == "" {
			migrationsPath = cfg.Database.MigrationsPath
		}
	}
	if migrationsPath == "" {
		migrationsPath = defaultMigrationsPath
	}

	runner := migrate.NewRunner(migrate.Config{
		DatabaseURL:    databaseURL,
		MigrationsPath: migrationsPath,
	}, logger)

	switch command := args[0]; command {
	case "up":
		var version uint
		if steps > 0 {
			version, err = runner.Steps(steps)
		} else {
			version, err = runner.Up()
		}
		if err != nil {
			logger.Fatal("Failed to run migrations up", zap.Error(err))
		}
		logger.Info("Migrated", zap.Uint("version", version))

	case "down":
		if steps <= 0 {
			steps = 1
		}
		version, err := runner.Steps(-steps)
		if err != nil {
			logger.Fatal("Failed to run migrations down", zap.Error(err))
		}
		logger.Info("Rolled back", zap.Uint("version", version))

	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			logger.Fatal("Failed to get version", zap.Error(err))
		}
		if dirty {
			fmt.Printf("Current version: %d (dirty)\n", version)
		} else {
			fmt.Printf("Current version: %d\n", version)
		}

	default:
		logger.Fatal("Unknown command, use 'up', 'down', or 'version'", zap.String("command", command))
	}
}
