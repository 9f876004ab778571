package main

import (
	"context"
	"database/sql"
	"errors"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/yourusername/ace-job-agency/internal/audit"
	"github.com/yourusername/ace-job-agency/internal/config"
	"github.com/yourusername/ace-job-agency/internal/jobs"
	"github.com/yourusername/ace-job-agency/internal/session"
	"github.com/yourusername/ace-job-agency/internal/storage/postgres"
)

// newRedisClient は REDIS_URL があれば接続します。未設定なら nil を返します。
func newRedisClient(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newSessionDirectory(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) session.Directory {
	if rdb == nil {
		logger.Warn("REDIS_URL is not set, using in-memory session directory")
		return session.NewMemoryDirectory(cfg.SessionIdleTimeout)
	}
	return session.NewRedisDirectory(rdb, cfg.SessionIdleTimeout)
}

// newAuditSink は AUDIT_MODE に応じて監査の書き込み先を選びます。
// queue の場合はリクエストではキューに積むだけにし、同じプロセスのワーカーが DB に書き込みます。
func newAuditSink(lc fx.Lifecycle, cfg *config.Config, db *sql.DB, logger *zap.Logger) (audit.Sink, error) {
	if db == nil {
		return &audit.MemorySink{}, nil
	}
	repo := postgres.NewAuditRepository(db)
	if cfg.AuditMode != "queue" {
		return repo, nil
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required when AUDIT_MODE=queue")
	}

	manager, err := jobs.NewManager(cfg.RedisURL, repo, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			manager.StartWorkers()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return manager.Shutdown(ctx)
		},
	})
	return manager, nil
}
