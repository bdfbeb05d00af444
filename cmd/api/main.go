package main

import (
	"context"
	"fmt"
	"os"

	"github.com/01moynul/kidwallet-golang/internal/auth"
	"github.com/01moynul/kidwallet-golang/internal/config"
	"github.com/01moynul/kidwallet-golang/internal/handlers"
	"github.com/01moynul/kidwallet-golang/internal/ledger"
	"github.com/01moynul/kidwallet-golang/internal/routes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// 0. --- Load Environment Variables (.env) ---
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 1. --- Logger ---
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.DotEnvLoaded {
		logger.Warn("Could not find or load .env file. Relying on system environment variables.")
	}

	ctx := context.Background()

	// 2. --- Blob Store ---
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	defer closeStore()

	// 3. --- Ledger ---
	engine := ledger.New(store, logger.Named("ledger"), ledger.Config{
		MaxRetries:       cfg.LedgerMaxRetries,
		RetryBackoff:     cfg.LedgerRetryBackoff,
		OperationTimeout: cfg.LedgerOpTimeout,
	})
	if err := engine.Bootstrap(ctx, ledger.AdminSeed{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		FullName: "Administrator",
	}); err != nil {
		return fmt.Errorf("failed to bootstrap store: %w", err)
	}

	// --- Application Setup ---
	app := &handlers.Handlers{
		Ledger: engine,
		Tokens: auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL),
		Log:    logger.Named("http"),
	}

	// --- Router Setup ---
	router := routes.SetupRouter(app, routes.Options{
		CORSOrigin:  cfg.CORSOrigin,
		Maintenance: cfg.MaintenanceMode,
	})

	// --- Start Server ---
	logger.Info("Starting KidWallet API server",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("maintenance", cfg.MaintenanceMode))
	if err := router.Run(":" + cfg.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
