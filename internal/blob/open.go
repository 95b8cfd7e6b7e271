package blob

import (
	"context"
	"fmt"
	fsstore "samplecore/internal/infra/blob/fs"
	memorystore "samplecore/internal/infra/blob/memory"
	s3store "samplecore/internal/infra/blob/s3"
)

// S3Config re-exports the S3 driver configuration.
type S3Config = s3store.Config

// Config selects and configures a blob backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the backend named by cfg.Driver. An empty driver selects
// the in-memory store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverFilesystem:
		return fsstore.New(cfg.FSRoot)
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewFakeS3 returns an S3 Store backed by an in-process fake endpoint, for
// tests that need the S3 code path without network access.
func NewFakeS3(ctx context.Context) (Store, error) {
	store, _, err := s3store.NewFake(ctx, "samplecore-test")
	if err != nil {
		return nil, err
	}
	return store, nil
}
