package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservabilityBulkOperations(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	f := newFixture(t, WithAuditRecorder(audit), WithMetricsRecorder(metrics), WithTracer(tracer))
	s := f.sample(t, f.p1, "S", nil)

	if !audit.has("create_sample", AuditStatusSuccess, func(e AuditEntry) bool { return e.EntityID == s.ID && e.ActorID == ownerID }) {
		t.Fatalf("expected create_sample audit entry")
	}
	if _, err := f.svc.Transfer(f.ctx, TransferRequest{
		ActorID:              ownerID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p2.ID,
		SampleIDs:            []string{s.ID},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !audit.has(opTransfer, AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == f.p2.ID && e.Entity == EntitySample && e.Action == ActionUpdate
	}) {
		t.Fatalf("expected transfer audit entry, got %+v", audit.entries)
	}
	if !metrics.has(opTransfer, true) || !tracer.has(opTransfer, true) {
		t.Fatalf("expected transfer metrics and span")
	}

	if _, err := f.svc.Destroy(f.ctx, DestroyRequest{ActorID: "stranger", ScopeID: f.p2.NamespaceID, SampleIDs: []string{s.ID}}); err == nil {
		t.Fatalf("expected authorization failure")
	}
	if !audit.has(opDestroy, AuditStatusError, func(e AuditEntry) bool { return strings.Contains(e.Error, "destroy_sample") }) {
		t.Fatalf("expected destroy error audit entry")
	}
	if !metrics.has(opDestroy, false) || !tracer.has(opDestroy, false) {
		t.Fatalf("expected failed destroy metrics and span")
	}
	if len(tracer.started) != len(tracer.ended) {
		t.Fatalf("every span must end: %d started, %d ended", len(tracer.started), len(tracer.ended))
	}
}

func TestServiceOptionsDefaults(t *testing.T) {
	opts := defaultServiceOptions()
	if opts.clock == nil || opts.logger == nil || opts.audit == nil || opts.metrics == nil || opts.tracer == nil {
		t.Fatalf("expected observability defaults")
	}
	if opts.progress == nil || opts.locker == nil || opts.blobs == nil || opts.graph == nil {
		t.Fatalf("expected collaborator defaults")
	}
	if opts.activities != nil {
		t.Fatalf("activity sink defaults to the store and is bound in NewService")
	}
	svc := NewInMemoryService(nil, WithClock(nil), WithLogger(nil), WithAuditRecorder(nil), WithMetricsRecorder(nil),
		WithTracer(nil), WithProgressSink(nil), WithActivitySink(nil), WithLocker(nil), WithBlobStore(nil), WithHierarchy(nil))
	if svc.clock == nil || svc.logger == nil || svc.activities == nil || svc.graph == nil {
		t.Fatalf("nil options must be ignored")
	}
}

func TestServiceOptionsCoversClockLogger(t *testing.T) {
	fixed := time.Unix(123, 0).UTC()
	log := &captureLogger{}
	f := newFixture(t, WithClock(stubClock{t: fixed}), WithLogger(log))
	if f.svc.clock.Now().Unix() != fixed.Unix() {
		t.Fatalf("expected clock override to be used")
	}
	if !log.has("d:operation started") || !log.has("d:operation finished") {
		t.Fatalf("expected run to log, got %v", log.calls)
	}
	if _, err := f.svc.CreateProject(f.ctx, "stranger", "x", f.lab.ID); err == nil {
		t.Fatalf("expected failure")
	}
	if !log.has("e:operation failed") {
		t.Fatalf("expected error log, got %v", log.calls)
	}
}

func TestPartialOutcomeIsLogged(t *testing.T) {
	log := &captureLogger{}
	f := newFixture(t, WithLogger(log))
	s := f.sample(t, f.p1, "S", nil)
	if _, err := f.svc.Transfer(f.ctx, TransferRequest{
		ActorID:              ownerID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p2.ID,
		SampleIDs:            []string{s.ID, "ghost"},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !log.has("i:bulk operation incomplete") {
		t.Fatalf("expected info log for partial transfer, got %v", log.calls)
	}
}

func TestActivitySinkOverride(t *testing.T) {
	var recorded []Activity
	sink := ActivitySinkFunc(func(_ context.Context, acts []Activity) error {
		recorded = append(recorded, acts...)
		return nil
	})
	f := newFixture(t, WithActivitySink(sink))
	s := f.sample(t, f.p1, "S", nil)
	if _, err := f.svc.Destroy(f.ctx, DestroyRequest{ActorID: ownerID, ScopeID: f.p1.NamespaceID, SampleIDs: []string{s.ID}}); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Key != ActivityDestroy || recorded[0].ActorID != ownerID {
		t.Fatalf("unexpected activities %+v", recorded)
	}
	if len(f.activities(t, f.p1.NamespaceID)) != 0 {
		t.Fatalf("store sink must be replaced")
	}
}

func TestActivitySinkFailureDoesNotFailCommittedTransfer(t *testing.T) {
	log := &captureLogger{}
	sink := ActivitySinkFunc(func(context.Context, []Activity) error { return errors.New("audit down") })
	f := newFixture(t, WithActivitySink(sink), WithLogger(log))
	a := f.sample(t, f.p1, "A", nil)
	res, err := f.svc.Transfer(f.ctx, TransferRequest{
		ActorID:              ownerID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p2.ID,
		SampleIDs:            []string{a.ID},
	})
	if err != nil {
		t.Fatalf("transfer must succeed once committed, got %v", err)
	}
	if res.Status != StatusApplied || len(res.IDs) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.stored(t, a.ID).ProjectID != f.p2.ID {
		t.Fatalf("sample not moved")
	}
	if !log.has("e:activity recording failed") {
		t.Fatalf("expected sink failure logged, got %v", log.calls)
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), opTransfer, true, 3*time.Millisecond)
	rec.Observe(context.Background(), opTransfer, false, 5*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)
	rec.ObserveAffected(context.Background(), opTransfer, 4)
	rec.ObserveAffected(context.Background(), opTransfer, 0)
	st := rec.Snapshot().Operations[opTransfer]
	if st.TotalMS != 8 || st.MaxMS != 5 {
		t.Fatalf("unexpected durations %+v", st)
	}
	if st.Succeeded != 1 || st.Failed != 1 || st.SamplesAffected != 4 {
		t.Fatalf("unexpected counts %+v", st)
	}
	if len(rec.Snapshot().Operations) != 1 {
		t.Fatalf("empty operation names must be ignored")
	}
	if expvar.Get(rec.Name()) == nil {
		t.Fatalf("expected expvar publication")
	}
}

func TestExpvarRecorderCountsAffectedSamples(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	f := newFixture(t, WithMetricsRecorder(rec))
	a := f.sample(t, f.p1, "A", nil)
	b := f.sample(t, f.p1, "B", nil)
	if _, err := f.svc.Transfer(f.ctx, TransferRequest{
		ActorID:              ownerID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p2.ID,
		SampleIDs:            []string{a.ID, b.ID},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	st := rec.Snapshot().Operations[opTransfer]
	if st.Succeeded != 1 || st.SamplesAffected != 2 {
		t.Fatalf("unexpected transfer stats %+v", st)
	}
}

func TestJSONTracerPropagatesTraceID(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	ctx, outer := tracer.Start(context.Background(), "outer")
	_, inner := tracer.Start(ctx, "inner")
	inner.End(nil)
	outer.End(context.Canceled)
	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].TraceID == "" || entries[0].TraceID != entries[1].TraceID {
		t.Fatalf("expected shared trace id, got %+v", entries)
	}
	if entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("expected error span, got %+v", entries[1])
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var decoded JSONTraceEntry
	if len(lines) != 2 || json.Unmarshal([]byte(lines[0]), &decoded) != nil || decoded.Operation != "inner" {
		t.Fatalf("unexpected trace output %q", buf.String())
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder("samplecore", reg)
	f := newFixture(t, WithMetricsRecorder(rec))
	a := f.sample(t, f.p1, "A", nil)
	b := f.sample(t, f.p1, "B", nil)
	if _, err := f.svc.Transfer(f.ctx, TransferRequest{
		ActorID:              ownerID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p2.ID,
		SampleIDs:            []string{a.ID, b.ID},
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := f.svc.Transfer(f.ctx, TransferRequest{ActorID: ownerID, ScopeID: f.p1.NamespaceID}); err == nil {
		t.Fatalf("expected malformed")
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues(opTransfer, "success")); got != 1 {
		t.Fatalf("success count %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues(opTransfer, "error")); got != 1 {
		t.Fatalf("error count %v", got)
	}
	if got := testutil.ToFloat64(rec.affected.WithLabelValues(opTransfer)); got != 2 {
		t.Fatalf("affected count %v", got)
	}
	if n := testutil.CollectAndCount(rec.durations); n == 0 {
		t.Fatalf("expected histogram series")
	}
}
