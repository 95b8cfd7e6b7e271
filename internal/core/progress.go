package core

import "context"

// Progress checkpoints reported by long-running bulk operations, in percent.
const (
	ProgressStarted   = 5
	ProgressCommitted = 95
	ProgressDone      = 100
)

type noopProgressSink struct{}

func (noopProgressSink) Report(context.Context, ProgressUpdate) {}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ctx context.Context, update ProgressUpdate)

// Report implements ProgressSink.
func (f ProgressFunc) Report(ctx context.Context, update ProgressUpdate) { f(ctx, update) }

// LoggingProgressSink writes checkpoints to a Logger at debug level.
type LoggingProgressSink struct {
	Logger Logger
}

// Report implements ProgressSink.
func (s LoggingProgressSink) Report(_ context.Context, update ProgressUpdate) {
	if s.Logger == nil {
		return
	}
	s.Logger.Debug("progress", "operation", update.Operation, "target", update.Target,
		"current", update.Current, "total", update.Total, "percent", update.Percent())
}

func (s *Service) reportProgress(ctx context.Context, operation, target string, percent int) {
	s.progress.Report(ctx, ProgressUpdate{Operation: operation, Current: percent, Total: 100, Target: target})
}
