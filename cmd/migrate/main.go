package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scoreroom/internal/config"
	"scoreroom/internal/logging"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const migrationsDir = "db/migrations"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	name := flag.String("name", "", "migration name for create")
	steps := flag.Int("steps", 1, "migrations to roll back for down")
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	switch command {
	case "create":
		up, down, err := createMigration(*name, time.Now().UTC())
		if err != nil {
			logger.Error("create migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("created migration", "up", up, "down", down)
	case "up", "down":
		if cfg.DatabaseURL == "" {
			logger.Error("DATABASE_URL is not set")
			os.Exit(1)
		}
		m, err := migrate.New("file://"+migrationsDir, cfg.DatabaseURL)
		if err != nil {
			logger.Error("migration setup failed", "error", err)
			os.Exit(1)
		}
		if command == "up" {
			err = m.Up()
		} else {
			err = m.Steps(-*steps)
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Error("database migration failed", "command", command, "error", err)
			os.Exit(1)
		}
		version, dirty, _ := m.Version()
		logger.Info("database migrations applied", "command", command, "version", version, "dirty", dirty)
	default:
		logger.Error("unknown command", "command", command)
		os.Exit(2)
	}
}

func createMigration(name string, now time.Time) (string, string, error) {
	if name == "" {
		return "", "", errors.New("migration name is required")
	}
	if strings.ContainsAny(name, " ") {
		return "", "", errors.New("migration name must not contain spaces")
	}
	base := fmt.Sprintf("%s_%s", now.Format("20060102150405"), name)
	upPath := filepath.Join(migrationsDir, base+".up.sql")
	downPath := filepath.Join(migrationsDir, base+".down.sql")
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create migrations dir: %w", err)
	}
	if err := writeFile(upPath, "-- up migration\n"); err != nil {
		return "", "", err
	}
	if err := writeFile(downPath, "-- down migration\n"); err != nil {
		return "", "", err
	}
	return upPath, downPath, nil
}

func writeFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
