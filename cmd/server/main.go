package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scoreroom/internal/backend"
	"scoreroom/internal/config"
	"scoreroom/internal/db"
	"scoreroom/internal/logging"
	"scoreroom/internal/realtime"
	"scoreroom/internal/server"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

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
	slog.SetDefault(logger)
	if logging.ParseLevel(cfg.LogLevel) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := realtime.NewHub(logger)
	data, conn, err := openBackend(cfg, hub, logger)
	if err != nil {
		logger.Error("backend setup failed", "driver", cfg.Driver(), "error", err)
		os.Exit(1)
	}

	if cfg.NATSURL != "" {
		nc, err := realtime.Connect(cfg.NATSURL, "scoreroom")
		if err != nil {
			logger.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		bridge := realtime.NewBridge(nc, hub, cfg.NATSSubjectPrefix, logger)
		if err := bridge.Start(); err != nil {
			logger.Error("realtime bridge failed", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()
	}

	srv := server.New(data, hub, conn, cfg, logger)
	defer srv.Close()
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", "error", err)
		}
	}()

	logger.Info("scoreroom server listening", "addr", cfg.Addr(), "driver", cfg.Driver())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}
}

func openBackend(cfg config.Config, hub *realtime.Hub, logger *slog.Logger) (backend.Data, *gorm.DB, error) {
	switch cfg.Driver() {
	case config.DriverPostgres:
		conn, err := db.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		return db.NewBackend(conn, hub, logger), conn, nil
	case config.DriverSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(conn); err != nil {
			return nil, nil, err
		}
		return db.NewBackend(conn, hub, logger), conn, nil
	default:
		logger.Warn("no database configured; using in-memory backend")
		return backend.NewMemory(hub), nil, nil
	}
}
