// Package config loads samplecore settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the top-level configuration tree.
type Config struct {
	Storage  StorageConfig  `koanf:"storage"`
	Blob     BlobConfig     `koanf:"blob"`
	Lock     LockConfig     `koanf:"lock"`
	Progress ProgressConfig `koanf:"progress"`
	Redis    RedisConfig    `koanf:"redis"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// StorageConfig selects the sample store backend.
type StorageConfig struct {
	Driver      string `koanf:"driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`
}

// BlobConfig selects the attachment blob backend.
type BlobConfig struct {
	Driver          string `koanf:"driver"`
	FSRoot          string `koanf:"fs_root"`
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	PathStyle       bool   `koanf:"path_style"`
}

// LockConfig selects the destination lock primitive.
type LockConfig struct {
	Driver        string        `koanf:"driver"`
	TTL           time.Duration `koanf:"ttl"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	WaitTimeout   time.Duration `koanf:"wait_timeout"`
}

// ProgressConfig selects where bulk-operation checkpoints are published.
type ProgressConfig struct {
	Driver string        `koanf:"driver"`
	Prefix string        `koanf:"prefix"`
	TTL    time.Duration `koanf:"ttl"`
}

// RedisConfig is shared by the redis lock and the redis progress sink.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `koanf:"level"`
	Format      string `koanf:"format"`
	Development bool   `koanf:"development"`
}

// MetricsConfig selects the operation metrics exporter.
type MetricsConfig struct {
	Driver    string `koanf:"driver"`
	Namespace string `koanf:"namespace"`
	Listen    string `koanf:"listen"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage:  StorageConfig{Driver: "sqlite", SQLitePath: "samplecore.db"},
		Blob:     BlobConfig{Driver: "memory"},
		Lock:     LockConfig{Driver: "memory", TTL: 30 * time.Second, RetryInterval: 50 * time.Millisecond, WaitTimeout: 10 * time.Second},
		Progress: ProgressConfig{Driver: "noop", Prefix: "samplecore:progress:", TTL: 10 * time.Minute},
		Log:      LogConfig{Level: "info", Format: "json"},
		Metrics:  MetricsConfig{Driver: "expvar", Namespace: "samplecore", Listen: ":9090"},
	}
}

var (
	storageDrivers  = []string{"memory", "sqlite", "postgres"}
	blobDrivers     = []string{"memory", "fs", "s3"}
	lockDrivers     = []string{"memory", "redis", "postgres"}
	progressDrivers = []string{"noop", "log", "redis"}
	metricsDrivers  = []string{"expvar", "prometheus"}
	logFormats      = []string{"json", "console"}
)

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed []string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown value %q (want one of %s)", field, value, strings.Join(allowed, ", ")))
	}
	check("storage.driver", c.Storage.Driver, storageDrivers)
	check("blob.driver", c.Blob.Driver, blobDrivers)
	check("lock.driver", c.Lock.Driver, lockDrivers)
	check("progress.driver", c.Progress.Driver, progressDrivers)
	check("metrics.driver", c.Metrics.Driver, metricsDrivers)
	check("log.format", c.Log.Format, logFormats)

	if c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
	}
	if c.Blob.Driver == "fs" && c.Blob.FSRoot == "" {
		errs = append(errs, errors.New("blob.fs_root is required for the fs driver"))
	}
	if c.Blob.Driver == "s3" && c.Blob.Bucket == "" {
		errs = append(errs, errors.New("blob.bucket is required for the s3 driver"))
	}
	if c.Lock.Driver == "redis" && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required for the redis lock"))
	}
	if c.Lock.Driver == "postgres" && c.Storage.Driver != "postgres" {
		errs = append(errs, errors.New("lock.driver postgres requires storage.driver postgres"))
	}
	if c.Progress.Driver == "redis" && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required for the redis progress sink"))
	}
	if c.Lock.WaitTimeout <= 0 {
		errs = append(errs, errors.New("lock.wait_timeout must be positive"))
	}
	return errors.Join(errs...)
}
