package core

import (
	"context"
	"samplecore/internal/access"
	"samplecore/internal/blob"
	"samplecore/internal/hierarchy"
	"samplecore/internal/infra/persistence/memory"
	"samplecore/internal/lock"
	"samplecore/pkg/domain"
	"time"
)

// DefaultLockWait bounds destination lock acquisition for the in-process locker.
const DefaultLockWait = 10 * time.Second

// Service exposes the bulk sample-mutation operations and the setup
// operations that feed them.
type Service struct {
	store      PersistentStore
	clock      Clock
	logger     Logger
	audit      AuditRecorder
	metrics    MetricsRecorder
	tracer     Tracer
	progress   ProgressSink
	activities ActivitySink
	locker     lock.Locker
	blobs      blob.Store
	graph      *hierarchy.Graph
	authorizer *access.Authorizer

	validator  ConflictValidator
	aggregates *AggregateMaintainer
	mover      *SerializedMover
	cloner     *Cloner
	destroyer  *Destroyer
	recorder   ActivityRecorder
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock      Clock
	logger     Logger
	audit      AuditRecorder
	metrics    MetricsRecorder
	tracer     Tracer
	progress   ProgressSink
	activities ActivitySink
	locker     lock.Locker
	blobs      blob.Store
	graph      *hierarchy.Graph
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:    ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:   noopLogger{},
		audit:    noopAuditRecorder{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		progress: noopProgressSink{},
		locker:   lock.NewLocal(DefaultLockWait),
		blobs:    blob.NewMemory(),
		graph:    hierarchy.MustNew(hierarchy.DefaultCacheSize),
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder installs an audit recorder.
func WithAuditRecorder(rec AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if rec != nil {
			o.audit = rec
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if rec != nil {
			o.metrics = rec
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithProgressSink installs the progress collaborator.
func WithProgressSink(sink ProgressSink) ServiceOption {
	return func(o *serviceOptions) {
		if sink != nil {
			o.progress = sink
		}
	}
}

// WithActivitySink replaces the default store-backed activity sink.
func WithActivitySink(sink ActivitySink) ServiceOption {
	return func(o *serviceOptions) {
		if sink != nil {
			o.activities = sink
		}
	}
}

// WithLocker installs the destination lock primitive.
func WithLocker(locker lock.Locker) ServiceOption {
	return func(o *serviceOptions) {
		if locker != nil {
			o.locker = locker
		}
	}
}

// WithBlobStore installs the attachment blob store.
func WithBlobStore(store blob.Store) ServiceOption {
	return func(o *serviceOptions) {
		if store != nil {
			o.blobs = store
		}
	}
}

// WithHierarchy shares a namespace graph (and its ancestor cache).
func WithHierarchy(graph *hierarchy.Graph) ServiceOption {
	return func(o *serviceOptions) {
		if graph != nil {
			o.graph = graph
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.activities == nil {
		cfg.activities = NewStoreActivitySink(store)
	}
	now := func() time.Time { return cfg.clock.Now() }
	svc := &Service{
		store:      store,
		clock:      cfg.clock,
		logger:     cfg.logger,
		audit:      cfg.audit,
		metrics:    cfg.metrics,
		tracer:     cfg.tracer,
		progress:   cfg.progress,
		activities: cfg.activities,
		locker:     cfg.locker,
		blobs:      cfg.blobs,
		graph:      cfg.graph,
		authorizer: access.NewAuthorizer(cfg.graph, now),
	}
	svc.aggregates = NewAggregateMaintainer(store, cfg.graph)
	svc.mover = NewSerializedMover(store, cfg.locker, svc.validator)
	svc.cloner = NewCloner(store, cfg.locker, svc.validator, cfg.blobs, svc.aggregates)
	svc.destroyer = NewDestroyer(store, svc.aggregates, cfg.clock)
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine installs the default commit rules.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Authorizer returns the access collaborator.
func (s *Service) Authorizer() *access.Authorizer { return s.authorizer }

// Aggregates returns the aggregate maintainer.
func (s *Service) Aggregates() *AggregateMaintainer { return s.aggregates }

// Blobs returns the attachment blob store.
func (s *Service) Blobs() blob.Store { return s.blobs }

func (s *Service) now() time.Time { return s.clock.Now() }

// operation describes an audited service call.
type operation struct {
	name    string
	entity  EntityType
	action  Action
	actorID string
}

// run wraps fn with tracing, metrics, audit and logging. fn returns the id of
// the primary entity it touched and the number of samples affected.
func (s *Service) run(ctx context.Context, op operation, fn func(context.Context) (string, int, error)) error {
	ctx, span := s.tracer.Start(ctx, op.name)
	start := s.clock.Now()
	s.logger.Debug("operation started", "operation", op.name, "actor", op.actorID)
	entityID, affected, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	if duration < 0 {
		duration = 0
	}
	span.End(err)
	s.metrics.Observe(ctx, op.name, err == nil, duration)
	if counter, ok := s.metrics.(AffectedRecorder); ok && err == nil {
		counter.ObserveAffected(ctx, op.name, affected)
	}
	entry := AuditEntry{
		Operation: op.name,
		Entity:    op.entity,
		Action:    op.action,
		EntityID:  entityID,
		ActorID:   op.actorID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: start,
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op.name, "actor", op.actorID, "error", err)
	} else {
		s.logger.Debug("operation finished", "operation", op.name, "entity_id", entityID, "affected", affected, "duration", duration)
	}
	s.audit.Record(ctx, entry)
	return err
}

func (s *Service) view(ctx context.Context, fn func(domain.TransactionView) error) error {
	return s.store.View(ctx, fn)
}
