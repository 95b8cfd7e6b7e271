// Package redis broadcasts bulk-operation progress over Redis pub/sub and
// keeps the latest checkpoint per target for clients that poll.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"samplecore/pkg/domain"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options tunes the sink.
type Options struct {
	// Prefix is prepended to channel and state keys.
	Prefix string
	// TTL bounds how long the latest checkpoint stays readable.
	TTL time.Duration
	// OnError observes publish failures. Reporting never fails the operation.
	OnError func(error)
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "samplecore:progress:"
	}
	if o.TTL <= 0 {
		o.TTL = 10 * time.Minute
	}
	return o
}

// Sink implements domain.ProgressSink.
type Sink struct {
	client redis.UniversalClient
	opts   Options
}

var _ domain.ProgressSink = (*Sink)(nil)

// New constructs a sink on client.
func New(client redis.UniversalClient, opts Options) *Sink {
	return &Sink{client: client, opts: opts.withDefaults()}
}

// Channel returns the pub/sub channel updates for target are published on.
func (s *Sink) Channel(target string) string { return s.opts.Prefix + "events:" + target }

func (s *Sink) stateKey(target string) string { return s.opts.Prefix + "latest:" + target }

// Report publishes update and records it as the latest checkpoint.
func (s *Sink) Report(ctx context.Context, update domain.ProgressUpdate) {
	if err := s.report(ctx, update); err != nil && s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func (s *Sink) report(ctx context.Context, update domain.ProgressUpdate) error {
	target := update.Target
	if target == "" {
		target = update.Operation
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.stateKey(target), payload, s.opts.TTL)
	pipe.Publish(ctx, s.Channel(target), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish progress %s: %w", target, err)
	}
	return nil
}

// ErrNoProgress is returned by Latest when no checkpoint is stored.
var ErrNoProgress = errors.New("progress: no checkpoint")

// Latest returns the most recent checkpoint for target.
func (s *Sink) Latest(ctx context.Context, target string) (domain.ProgressUpdate, error) {
	raw, err := s.client.Get(ctx, s.stateKey(target)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ProgressUpdate{}, ErrNoProgress
	}
	if err != nil {
		return domain.ProgressUpdate{}, fmt.Errorf("read progress %s: %w", target, err)
	}
	var update domain.ProgressUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return domain.ProgressUpdate{}, fmt.Errorf("decode progress %s: %w", target, err)
	}
	return update, nil
}

// Subscribe streams updates for target until ctx is cancelled. The returned
// channel is closed when the subscription ends.
func (s *Sink) Subscribe(ctx context.Context, target string) (<-chan domain.ProgressUpdate, error) {
	sub := s.client.Subscribe(ctx, s.Channel(target))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe progress %s: %w", target, err)
	}
	out := make(chan domain.ProgressUpdate)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var update domain.ProgressUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					continue
				}
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
