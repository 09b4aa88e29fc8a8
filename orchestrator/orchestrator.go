package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/observability"
	"github.com/kbukum/fanout/resilience"
	"github.com/kbukum/fanout/run"
	"github.com/kbukum/fanout/source"
)

// Query is one fan-out request.
type Query struct {
	OwnerID    string
	QueryType  string
	QueryInput string
	Tasks      []source.Task
}

// Handle identifies a run and the status it had when the call returned.
type Handle struct {
	ID     string     `json:"id"`
	Status run.Status `json:"status"`
}

// Orchestrator runs queries against a run.Store.
type Orchestrator struct {
	store   run.Store
	limiter *resilience.ConcurrencyLimiter
	cfg     Config
	log     *logger.Logger
	metrics *observability.Metrics
	pub     Publisher
	obs     Observer
	now     func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
	bg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l.WithComponent("orchestrator") }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Publisher receives every run once it is finalized.
type Publisher interface {
	PublishRun(ctx context.Context, r *run.Run) error
}

// WithPublisher announces finalized runs. Publish failures are logged and
// never change the run's result.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.pub = p }
}

// Observer follows runs as they progress. Calls are made on task
// goroutines and must not block.
type Observer interface {
	OutcomeRecorded(runID string, o run.Outcome)
	RunFinalized(r *run.Run)
}

// WithObserver registers an observer for persisted outcomes and finalized runs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an Orchestrator. A nil limiter gets cfg.MaxConcurrentTasks slots.
func New(store run.Store, limiter *resilience.ConcurrencyLimiter, cfg Config, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter = resilience.NewConcurrencyLimiter(resilience.LimiterConfig{Capacity: cfg.MaxConcurrentTasks})
	}

	o := &Orchestrator{
		store:   store,
		limiter: limiter,
		cfg:     cfg,
		log:     logger.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
		active:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Execute creates a run, runs every task and returns once the run is
// finalized. A PERSISTENCE error creating the run is returned with an empty
// handle. Errors persisting outcomes or the final status are returned
// together with the handle; they never affect other runs.
func (o *Orchestrator) Execute(ctx context.Context, q Query) (Handle, error) {
	r, err := o.create(ctx, q)
	if err != nil {
		return Handle{}, err
	}
	return o.fanOut(context.WithoutCancel(ctx), r, q.Tasks)
}

// Submit creates a run and returns at once with status IN_PROGRESS. The
// tasks keep running in the background; poll GetRun for the result.
func (o *Orchestrator) Submit(ctx context.Context, q Query) (Handle, error) {
	r, err := o.create(ctx, q)
	if err != nil {
		return Handle{}, err
	}

	bgCtx := context.WithoutCancel(ctx)
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		_, _ = o.fanOut(bgCtx, r, q.Tasks)
	}()
	return Handle{ID: r.ID, Status: run.StatusInProgress}, nil
}

// Wait blocks until every submitted run has been finalized or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetRun returns the run with id.
func (o *Orchestrator) GetRun(ctx context.Context, id string) (*run.Run, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("id", "run id is required")
	}
	return o.store.Get(ctx, id)
}

// ListRuns pages through an owner's runs, newest first. An empty owner
// lists every run.
func (o *Orchestrator) ListRuns(ctx context.Context, ownerID string, page, size int) ([]*run.Run, int64, error) {
	page, size = run.NormalizePage(page, size)
	return o.store.ListByOwner(ctx, ownerID, page, size)
}

// Active reports whether this process is still executing run id.
func (o *Orchestrator) Active(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[id]
	return ok
}

func (o *Orchestrator) create(ctx context.Context, q Query) (*run.Run, error) {
	if q.QueryType == "" {
		return nil, apperrors.InvalidInput("query_type", "query type is required")
	}

	r := run.New(q.OwnerID, q.QueryType, q.QueryInput, o.now())
	o.track(r.ID)
	if err := o.store.Create(ctx, r); err != nil {
		o.untrack(r.ID)
		o.metrics.RecordError(ctx, apperrors.CodeOf(err), "orchestrator")
		o.log.Error("Failed to create run", logger.Fields(
			logger.FieldError, err.Error(),
			"query_type", q.QueryType,
		))
		return nil, err
	}

	o.log.Info("Run started", logger.Fields(
		logger.FieldRunID, r.ID,
		"query_type", q.QueryType,
		"sources", len(q.Tasks),
	))
	return r, nil
}

func (o *Orchestrator) track(id string) {
	o.mu.Lock()
	o.active[id] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

// fanOut runs tasks concurrently, appends one outcome per task and
// finalizes the run. ctx is already detached from the caller.
func (o *Orchestrator) fanOut(ctx context.Context, r *run.Run, tasks []source.Task) (Handle, error) {
	defer o.untrack(r.ID)

	ctx, span := observability.StartSpan(ctx, observability.SpanRunExecute, trace.WithAttributes(
		attribute.String(observability.AttrRunID, r.ID),
		attribute.String(observability.AttrQueryType, r.QueryType),
	))
	defer span.End()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rec := newRecorder(ctx, o, r.ID, tasks)
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t source.Task) {
			defer wg.Done()
			rec.record(i, o.runTask(taskCtx, r.ID, t))
		}(i, t)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if o.cfg.RunTimeout > 0 {
		timer := time.NewTimer(o.cfg.RunTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
	case <-deadline:
		cancel()
		n := rec.expire()
		o.log.Warn("Run deadline exceeded", logger.Fields(
			logger.FieldRunID, r.ID,
			"timeout", o.cfg.RunTimeout.String(),
			"expired_sources", n,
		))
	}

	return o.finalize(ctx, r, rec)
}

// runTask executes one task inside a limiter slot and converts its result
// into an outcome. It never panics.
func (o *Orchestrator) runTask(ctx context.Context, runID string, t source.Task) run.Outcome {
	ctx, span := observability.StartSpan(ctx, observability.SpanSourceTask, trace.WithAttributes(
		attribute.String(observability.AttrRunID, runID),
		attribute.String(observability.AttrSource, t.Name),
	))
	defer span.End()

	safe := source.Safe(t)
	start := o.now()
	var res source.Result
	err := o.limiter.Do(ctx, func(ctx context.Context) error {
		res = safe.Run(ctx)
		return nil
	})
	if err != nil {
		res = source.FromError(apperrors.LimiterUnavailable(err))
	}
	end := o.now()

	if !res.Success {
		span.SetAttributes(attribute.String(observability.AttrErrorCode, res.ErrorCode))
		if res.ErrorCode == source.CodePanic {
			o.log.Error("Source task panicked", logger.Fields(
				logger.FieldRunID, runID,
				logger.FieldSource, t.Name,
				"panic", res.Message,
				"stack", string(res.Data),
			))
		}
	}
	return toOutcome(t.Name, res, end.Sub(start), end)
}

func toOutcome(name string, res source.Result, latency time.Duration, completedAt time.Time) run.Outcome {
	o := run.Outcome{
		Source:      name,
		Success:     res.Success,
		LatencyMs:   latency.Milliseconds(),
		Message:     res.Message,
		CompletedAt: completedAt,
	}
	if res.Success {
		o.Data = res.Data
		o.Found = res.Found
		o.Confidence = res.Confidence
		return o
	}
	o.ErrorCode = res.ErrorCode
	if o.ErrorCode == "" {
		o.ErrorCode = string(apperrors.ErrCodeTaskFailure)
	}
	return o
}

func (o *Orchestrator) finalize(ctx context.Context, r *run.Run, rec *recorder) (Handle, error) {
	persisted, appendErr := rec.close()

	done, err := o.store.Finalize(ctx, r.ID, persisted, o.now())
	if err != nil {
		o.metrics.RecordError(ctx, apperrors.CodeOf(err), "orchestrator")
		o.log.Error("Failed to finalize run", logger.Fields(
			logger.FieldRunID, r.ID,
			logger.FieldError, err.Error(),
		))
		observability.SetSpanError(ctx, err)
		return Handle{ID: r.ID, Status: run.StatusInProgress}, errors.Join(appendErr, err)
	}

	var duration time.Duration
	if done.DurationMs != nil {
		duration = time.Duration(*done.DurationMs) * time.Millisecond
	}
	o.metrics.RecordRunFinalized(ctx, string(done.Status), duration)
	o.log.Info("Run finalized", logger.MergeWithDuration(logger.Fields(
		logger.FieldRunID, done.ID,
		logger.FieldStatus, string(done.Status),
		"total_sources", done.TotalSources,
		"successful_sources", done.SuccessfulSources,
		"failed_sources", done.FailedSources,
	), duration))

	o.publish(ctx, done)

	if appendErr != nil {
		observability.SetSpanError(ctx, appendErr)
	}
	return Handle{ID: done.ID, Status: done.Status}, appendErr
}

func (o *Orchestrator) publish(ctx context.Context, r *run.Run) {
	if o.obs != nil {
		o.obs.RunFinalized(r)
	}
	if o.pub == nil {
		return
	}
	if err := o.pub.PublishRun(ctx, r); err != nil {
		o.metrics.RecordError(ctx, apperrors.CodeOf(err), "publisher")
		o.log.Warn("Failed to publish finalized run", logger.Fields(
			logger.FieldRunID, r.ID,
			logger.FieldError, err.Error(),
		))
	}
}
