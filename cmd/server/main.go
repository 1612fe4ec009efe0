package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pinshare/internal/server/api"
	"pinshare/internal/server/auth"
	"pinshare/internal/server/config"
	"pinshare/internal/server/database"
	"pinshare/internal/server/service"
	"pinshare/internal/server/storage"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"database_driver", cfg.DatabaseDriver,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"max_files_per_user", cfg.MaxFilesPerUser,
	)

	ctx := context.Background()

	// Record store
	repo, closeDB, err := openRepository(ctx, cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	// Blob store
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Services
	accounts, err := service.NewAccountService(repo, store, cfg)
	if err != nil {
		slog.Error("failed to create account service", "error", err)
		os.Exit(1)
	}
	files := service.NewFileService(repo, store, cfg)
	gate := service.NewDownloadGate(repo, store)

	if _, err := accounts.EnsureAdmin(ctx, cfg.AdminPassword); err != nil {
		slog.Error("failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	// Sweep blobs left behind by crashes before accepting uploads
	if _, err := storage.NewReconciler(repo, store).Run(ctx); err != nil {
		slog.Warn("storage reconcile failed", "error", err)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		slog.Error("failed to create token issuer", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set; sessions will not survive a restart")
	}

	// Setup HTTP router
	handler := api.NewHandler(accounts, files, gate, issuer, repo)
	e := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exited cleanly")
}

func openRepository(ctx context.Context, cfg *config.Config) (service.Repository, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("database migrations complete")
		return database.NewRepository(db), db.Close, nil
	default:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return database.NewSQLiteRepository(db), func() { db.Close() }, nil
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var store storage.Store
	switch cfg.StorageBackend {
	case config.BackendMinio:
		ms, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
		store = ms
	default:
		store = storage.NewFileSystemStore(cfg.StoragePath)
	}

	if err := store.EnsureDir(ctx); err != nil {
		return nil, err
	}
	slog.Info("blob storage initialized", "backend", cfg.StorageBackend)
	return store, nil
}
