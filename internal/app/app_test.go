package app

import (
	"context"
	"path/filepath"
	"samplecore/internal/config"
	"samplecore/internal/core"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Log.Level = "error"
	return cfg
}

func seed(t *testing.T, svc *core.Service) (src, dst core.Project, sample core.Sample) {
	t.Helper()
	ctx := context.Background()
	root, err := svc.CreateGroup(ctx, "owner", "root", "")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if src, err = svc.CreateProject(ctx, "owner", "src", root.ID); err != nil {
		t.Fatalf("src: %v", err)
	}
	if dst, err = svc.CreateProject(ctx, "owner", "dst", root.ID); err != nil {
		t.Fatalf("dst: %v", err)
	}
	if sample, err = svc.CreateSample(ctx, "owner", src.ID, core.SampleInput{Name: "S1"}); err != nil {
		t.Fatalf("sample: %v", err)
	}
	return src, dst, sample
}

func TestNewWithMemoryBackends(t *testing.T) {
	a, err := New(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if a.Gatherer != nil || a.Progress != nil {
		t.Fatalf("expected no prometheus registry or redis sink")
	}
	src, dst, s := seed(t, a.Service)
	res, err := a.Service.Transfer(context.Background(), core.TransferRequest{
		ActorID: "owner", ScopeID: src.NamespaceID, DestinationProjectID: dst.ID, SampleIDs: []string{s.ID},
	})
	if err != nil || res.Status != core.StatusApplied {
		t.Fatalf("transfer: %+v %v", res, err)
	}
}

func TestNewWithRedisLockAndProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Lock.Driver = "redis"
	cfg.Progress.Driver = "redis"
	cfg.Metrics.Driver = "prometheus"

	ctx := context.Background()
	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	src, dst, s := seed(t, a.Service)
	if _, err := a.Service.Clone(ctx, core.CloneRequest{
		ActorID: "owner", ScopeID: src.NamespaceID, DestinationProjectID: dst.ID,
		SampleIDs: []string{s.ID}, BroadcastTarget: "job-42",
	}); err != nil {
		t.Fatalf("clone: %v", err)
	}
	latest, err := a.Progress.Latest(ctx, "job-42")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Percent() != core.ProgressDone {
		t.Fatalf("expected final checkpoint, got %+v", latest)
	}
	n, err := testutil.GatherAndCount(a.Gatherer, "samplecore_operations_total")
	if err != nil || n == 0 {
		t.Fatalf("expected operation counters, got %d %v", n, err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Blob.Driver = "s3"
	if _, err := New(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "blob.bucket") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewFailsWhenRedisIsUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Lock.Driver = "redis"
	mr.Close()
	if _, err := New(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "connect to redis") {
		t.Fatalf("expected redis connection error, got %v", err)
	}
}

func TestNewOpensSQLiteAndFilesystemBlobs(t *testing.T) {
	dir := t.TempDir()
	cfg := memoryConfig()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(dir, "samples.db")
	cfg.Blob.Driver = "fs"
	cfg.Blob.FSRoot = filepath.Join(dir, "blobs")
	cfg.Progress.Driver = "log"

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, _, s := seed(t, a.Service)
	att, err := a.Service.AttachFile(context.Background(), "owner", s.ID, "reads.fastq", "text/plain", strings.NewReader("ACGT"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := a.Service.Blobs().Head(context.Background(), att.BlobKey); err != nil {
		t.Fatalf("expected blob on disk: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
