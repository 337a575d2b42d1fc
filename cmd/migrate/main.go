package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"drought-tracker/internal/config"
	"drought-tracker/pkg/database"
	"drought-tracker/pkg/logging"
	"drought-tracker/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("drought-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	metricsCollector := metrics.NewCollector("drought_migrate")

	ctx := context.Background()

	db, err := database.NewPostgresDB(&database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	var migrationFile string
	if *direction == "up" {
		migrationFile = "migrations/001_create_schema.up.sql"
	} else {
		migrationFile = "migrations/001_create_schema.down.sql"
	}

	content, err := os.ReadFile(filepath.Join(".", migrationFile))
	if err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Failed to read migration file", logging.Fields{
			"file": migrationFile,
		}, err)
	}

	logger.Info(ctx, "[MIGRATE_START] Running migration", logging.Fields{
		"file":      migrationFile,
		"direction": *direction,
	})

	if _, err := db.ExecContext(ctx, "migration", string(content)); err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Failed to execute migration", logging.Fields{
			"file": migrationFile,
		}, err)
	}

	logger.Info(ctx, "[MIGRATE_COMPLETE] Migration completed", logging.Fields{
		"file": migrationFile,
	})
}
