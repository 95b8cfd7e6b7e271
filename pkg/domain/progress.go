package domain

import "context"

// ProgressUpdate is a checkpoint emitted by long-running bulk operations.
type ProgressUpdate struct {
	Operation string `json:"operation"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	// Target identifies the UI stream the update should be broadcast to.
	Target string `json:"target,omitempty"`
}

// Percent returns Current as a whole percentage of Total.
func (p ProgressUpdate) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Current * 100 / p.Total
}

// ProgressSink receives progress checkpoints. Implementations must not block
// the operation for long; failures are the sink's concern.
type ProgressSink interface {
	Report(ctx context.Context, update ProgressUpdate)
}
