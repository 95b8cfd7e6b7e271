package redis

import (
	"context"
	"errors"
	"samplecore/pkg/domain"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupSink(t *testing.T, opts Options) (*Sink, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts), s
}

func TestSinkStoresLatestCheckpoint(t *testing.T) {
	sink, _ := setupSink(t, Options{})
	ctx := context.Background()
	if _, err := sink.Latest(ctx, "transfer-1"); !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
	sink.Report(ctx, domain.ProgressUpdate{Operation: "transfer", Current: 5, Total: 100, Target: "transfer-1"})
	sink.Report(ctx, domain.ProgressUpdate{Operation: "transfer", Current: 95, Total: 100, Target: "transfer-1"})
	got, err := sink.Latest(ctx, "transfer-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Current != 95 || got.Percent() != 95 {
		t.Fatalf("unexpected checkpoint %+v", got)
	}
}

func TestSinkFallsBackToOperationTarget(t *testing.T) {
	sink, _ := setupSink(t, Options{Prefix: "test:"})
	ctx := context.Background()
	sink.Report(ctx, domain.ProgressUpdate{Operation: "clone", Current: 1, Total: 2})
	if _, err := sink.Latest(ctx, "clone"); err != nil {
		t.Fatalf("expected checkpoint keyed by operation: %v", err)
	}
	if sink.Channel("x") != "test:events:x" {
		t.Fatalf("unexpected channel %s", sink.Channel("x"))
	}
}

func TestSinkCheckpointExpires(t *testing.T) {
	sink, s := setupSink(t, Options{TTL: time.Second})
	ctx := context.Background()
	sink.Report(ctx, domain.ProgressUpdate{Operation: "destroy", Current: 100, Total: 100, Target: "d"})
	s.FastForward(2 * time.Second)
	if _, err := sink.Latest(ctx, "d"); !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected expired checkpoint, got %v", err)
	}
}

func TestSinkSubscribeReceivesUpdates(t *testing.T) {
	sink, _ := setupSink(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	updates, err := sink.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sink.Report(ctx, domain.ProgressUpdate{Operation: "transfer", Current: 100, Total: 100, Target: "t1"})
	select {
	case got := <-updates:
		if got.Current != 100 || got.Operation != "transfer" {
			t.Fatalf("unexpected update %+v", got)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for update")
	}
	cancel()
	for range updates {
	}
}

func TestSinkReportsErrors(t *testing.T) {
	var seen error
	sink, s := setupSink(t, Options{OnError: func(err error) { seen = err }})
	s.Close()
	sink.Report(context.Background(), domain.ProgressUpdate{Operation: "transfer", Target: "x"})
	if seen == nil {
		t.Fatalf("expected publish error to be observed")
	}
	if _, err := sink.Latest(context.Background(), "x"); err == nil || errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected connection error, got %v", err)
	}
}
