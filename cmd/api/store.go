package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/01moynul/kidwallet-golang/internal/blobstore"
	"github.com/01moynul/kidwallet-golang/internal/config"
	"github.com/01moynul/kidwallet-golang/internal/database"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// openStore builds the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (blobstore.Store, func(), error) {
	noop := func() {}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("Using the in-memory store; data is lost on restart")
		return blobstore.NewMemoryStore(), noop, nil

	case config.BackendGitHub:
		store, err := blobstore.NewGitHubStore(blobstore.GitHubConfig{
			Token:  cfg.GitHubToken,
			Repo:   cfg.GitHubRepo,
			Branch: cfg.GitHubBranch,
			APIURL: cfg.GitHubAPIURL,
		}, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using GitHub store", zap.String("repo", cfg.GitHubRepo), zap.String("branch", cfg.GitHubBranch))
		return store, noop, nil

	case config.BackendMySQL, config.BackendSQLite:
		var (
			db  *sql.DB
			err error
		)
		if cfg.StoreBackend == config.BackendMySQL {
			db, err = database.OpenDB(ctx, cfg.DBDSN, logger)
		} else {
			db, err = database.OpenSQLite(ctx, cfg.SQLitePath, logger)
		}
		if err != nil {
			return nil, nil, err
		}
		store := blobstore.NewSQLStore(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate blobs table: %w", err)
		}
		return store, func() { db.Close() }, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("Using Redis store", zap.String("addr", cfg.RedisAddr), zap.String("prefix", cfg.RedisPrefix))
		return blobstore.NewRedisStore(client, cfg.RedisPrefix), func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
