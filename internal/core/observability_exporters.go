package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"maps"
	"samplecore/pkg/domain"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// OperationStats aggregates the outcomes of one service operation.
type OperationStats struct {
	Succeeded       int64   `json:"succeeded"`
	Failed          int64   `json:"failed"`
	TotalMS         float64 `json:"total_ms"`
	MaxMS           float64 `json:"max_ms"`
	SamplesAffected int64   `json:"samples_affected"`
}

// ExpvarMetricsSnapshot is the value published under the recorder's name.
type ExpvarMetricsSnapshot struct {
	Operations map[string]OperationStats `json:"operations"`
	RecordedAt time.Time                 `json:"recorded_at"`
}

// ExpvarMetricsRecorder publishes per-operation stats through expvar. It
// implements both MetricsRecorder and AffectedRecorder.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]OperationStats
}

var (
	_ MetricsRecorder  = (*ExpvarMetricsRecorder)(nil)
	_ AffectedRecorder = (*ExpvarMetricsRecorder)(nil)
)

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated samplecore_operations_N name when name is empty. expvar names are
// process-global, so a fixed name may only be used once.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("samplecore_operations_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{name: name, ops: make(map[string]OperationStats)}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the current stats.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ExpvarMetricsSnapshot{Operations: maps.Clone(r.ops), RecordedAt: time.Now().UTC()}
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ops[operation]
	if success {
		st.Succeeded++
	} else {
		st.Failed++
	}
	st.TotalMS += ms
	st.MaxMS = max(st.MaxMS, ms)
	r.ops[operation] = st
}

// ObserveAffected implements AffectedRecorder.
func (r *ExpvarMetricsRecorder) ObserveAffected(_ context.Context, operation string, n int) {
	if operation == "" || n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ops[operation]
	st.SamplesAffected += int64(n)
	r.ops[operation] = st
}

// JSONTraceEntry is one finished span.
type JSONTraceEntry struct {
	TraceID    string    `json:"trace_id,omitempty"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMS float64   `json:"duration_ms"`
}

// JSONTraceTracer writes each finished span as a JSON line and keeps it in
// memory. Nested spans reuse the trace id found on the context.
type JSONTraceTracer struct {
	mu    sync.Mutex
	out   *json.Encoder
	spans []JSONTraceEntry
}

// NewJSONTracer returns a tracer writing to w. A nil writer only retains spans.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.out = json.NewEncoder(w)
	}
	return t
}

// Entries returns the finished spans in completion order.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.spans)
}

type traceIDKey struct{}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	id, _ := ctx.Value(traceIDKey{}).(string)
	if id == "" {
		id = domain.NewID()
		ctx = context.WithValue(ctx, traceIDKey{}, id)
	}
	return ctx, &jsonTraceSpan{
		tracer: t,
		entry: JSONTraceEntry{
			TraceID:   id,
			Operation: operation,
			StartedAt: time.Now().UTC(),
		},
	}
}

type jsonTraceSpan struct {
	tracer *JSONTraceTracer
	entry  JSONTraceEntry
}

func (s *jsonTraceSpan) End(err error) {
	e := s.entry
	e.EndedAt = time.Now().UTC()
	e.DurationMS = float64(e.EndedAt.Sub(e.StartedAt)) / float64(time.Millisecond)
	e.Status = string(AuditStatusSuccess)
	if err != nil {
		e.Status = string(AuditStatusError)
		e.Error = err.Error()
	}
	s.tracer.record(e)
}

func (t *JSONTraceTracer) record(e JSONTraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = append(t.spans, e)
	if t.out != nil {
		_ = t.out.Encode(e)
	}
}
