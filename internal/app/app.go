// Package app wires configuration into a ready-to-use core.Service.
package app

import (
	"context"
	"errors"
	"fmt"
	"samplecore/internal/blob"
	"samplecore/internal/config"
	"samplecore/internal/core"
	"samplecore/internal/infra/persistence/postgres"
	progressredis "samplecore/internal/infra/progress/redis"
	"samplecore/internal/lock"
	"samplecore/internal/logging"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

// App owns the service and the backends opened for it.
type App struct {
	Config   config.Config
	Service  *core.Service
	Logger   *zap.Logger
	Progress *progressredis.Sink
	// Gatherer is set when metrics.driver is prometheus.
	Gatherer prometheus.Gatherer

	closers []func() error
}

// New opens every backend named in cfg and builds the service. On error,
// anything already opened is closed.
func New(ctx context.Context, cfg config.Config) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	zl, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: zl}
	defer func() {
		if retErr != nil {
			_ = a.Close()
		}
	}()
	a.closers = append(a.closers, func() error {
		_ = zl.Sync()
		return nil
	})
	coreLogger := logging.NewCoreLogger(zl)

	store, err := core.OpenPersistentStore(ctx, core.StorageConfig{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" && (cfg.Lock.Driver == "redis" || cfg.Progress.Driver == "redis") {
		rdb, err = openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
	}

	locker, err := openLocker(cfg.Lock, store, rdb)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.Blob.Driver),
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          cfg.Blob.Region,
			Bucket:          cfg.Blob.Bucket,
			Endpoint:        cfg.Blob.Endpoint,
			AccessKeyID:     cfg.Blob.AccessKeyID,
			SecretAccessKey: cfg.Blob.SecretAccessKey,
			PathStyle:       cfg.Blob.PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	var progress core.ProgressSink
	switch cfg.Progress.Driver {
	case "log":
		progress = core.LoggingProgressSink{Logger: coreLogger}
	case "redis":
		a.Progress = progressredis.New(rdb, progressredis.Options{
			Prefix: cfg.Progress.Prefix,
			TTL:    cfg.Progress.TTL,
			OnError: func(err error) {
				zl.Warn("progress publish failed", zap.Error(err))
			},
		})
		progress = a.Progress
	}

	var metrics core.MetricsRecorder
	switch cfg.Metrics.Driver {
	case "prometheus":
		reg := prometheus.NewRegistry()
		metrics = core.NewPrometheusMetricsRecorder(cfg.Metrics.Namespace, reg)
		a.Gatherer = reg
	default:
		metrics = core.NewExpvarMetricsRecorder("")
	}

	a.Service = core.NewService(store,
		core.WithLogger(coreLogger),
		core.WithMetricsRecorder(metrics),
		core.WithProgressSink(progress),
		core.WithLocker(locker),
		core.WithBlobStore(blobs),
	)
	return a, nil
}

// Close releases backends in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func openLocker(cfg config.LockConfig, store core.PersistentStore, rdb *redis.Client) (lock.Locker, error) {
	switch cfg.Driver {
	case "redis":
		return lock.NewRedis(rdb, lock.RedisOptions{
			TTL:           cfg.TTL,
			RetryInterval: cfg.RetryInterval,
			Wait:          cfg.WaitTimeout,
		}), nil
	case "postgres":
		pg, ok := store.(*postgres.Store)
		if !ok {
			return nil, fmt.Errorf("postgres lock needs a postgres store, got %T", store)
		}
		return pg.Locker(cfg.WaitTimeout), nil
	default:
		return lock.NewLocal(cfg.WaitTimeout), nil
	}
}
