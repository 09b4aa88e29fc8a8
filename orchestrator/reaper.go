package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kbukum/fanout/component"
	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/run"
)

// AbandonedSource names the outcome the reaper appends to an abandoned run.
const AbandonedSource = "reaper"

// sweepTimeout bounds one scheduled sweep.
const sweepTimeout = time.Minute

// Reaper periodically finalizes runs that stayed IN_PROGRESS longer than
// Config.StaleAfter and are not executing in this process. Each such run
// gets one failed RUN_DEADLINE_EXCEEDED outcome, so a run with no recorded
// successes ends FAILED and one with some ends PARTIAL.
type Reaper struct {
	orch *Orchestrator
	cron *cron.Cron
	log  *logger.Logger

	mu       sync.Mutex
	lastErr  error
	lastRun  time.Time
	finished int
}

var _ component.Component = (*Reaper)(nil)
var _ component.Describable = (*Reaper)(nil)

// NewReaper creates a reaper for o using o's StaleAfter and ReapSchedule.
func NewReaper(o *Orchestrator) *Reaper {
	log := o.log.WithComponent("reaper")
	cl := cronLogger{log: log}
	return &Reaper{
		orch: o,
		log:  log,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Name implements component.Component.
func (r *Reaper) Name() string { return "reaper" }

// Start schedules the sweep.
func (r *Reaper) Start(_ context.Context) error {
	if _, err := r.cron.AddFunc(r.orch.cfg.ReapSchedule, r.scheduled); err != nil {
		return fmt.Errorf("reaper schedule %q: %w", r.orch.cfg.ReapSchedule, err)
	}
	r.cron.Start()
	return nil
}

// Stop stops the schedule and waits for a running sweep.
func (r *Reaper) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health reports degraded when the last sweep failed.
func (r *Reaper) Health(_ context.Context) component.Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastErr != nil {
		return component.Health{Name: r.Name(), Status: component.StatusDegraded, Message: r.lastErr.Error()}
	}
	return component.Health{Name: r.Name(), Status: component.StatusHealthy}
}

// Describe implements component.Describable.
func (r *Reaper) Describe() component.Description {
	return component.Description{
		Name:    "Run reaper",
		Type:    "cron",
		Details: fmt.Sprintf("schedule=%q stale_after=%s", r.orch.cfg.ReapSchedule, r.orch.cfg.StaleAfter),
	}
}

func (r *Reaper) scheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	_, _ = r.Sweep(ctx)
}

// Sweep finalizes every stale run once and returns how many it finalized.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.orch.now()
	stale, err := r.orch.store.ListStale(ctx, now.Add(-r.orch.cfg.StaleAfter))
	if err != nil {
		r.remember(now, 0, err)
		r.log.Error("Listing stale runs failed", logger.Fields(logger.FieldError, err.Error()))
		return 0, err
	}

	var errs []error
	finished := 0
	for _, st := range stale {
		if r.orch.Active(st.ID) {
			continue
		}
		if err := r.abandon(ctx, st, now); err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeAlreadyFinalized) {
				continue
			}
			errs = append(errs, err)
			r.log.Error("Failed to finalize stale run", logger.Fields(
				logger.FieldRunID, st.ID,
				logger.FieldError, err.Error(),
			))
			continue
		}
		finished++
	}

	err = errors.Join(errs...)
	r.remember(now, finished, err)
	if finished > 0 {
		r.log.Info("Finalized stale runs", logger.Fields("count", finished))
	}
	return finished, err
}

func (r *Reaper) abandon(ctx context.Context, st *run.Run, now time.Time) error {
	appErr := apperrors.DeadlineExceeded(AbandonedSource)
	out := run.Outcome{
		Source:      AbandonedSource,
		ErrorCode:   string(appErr.Code),
		Message:     fmt.Sprintf("run abandoned after %s in progress", now.Sub(st.StartedAt).Round(time.Second)),
		CompletedAt: now,
	}
	if err := r.orch.store.AppendOutcome(ctx, st.ID, out); err != nil {
		return err
	}
	if r.orch.obs != nil {
		r.orch.obs.OutcomeRecorded(st.ID, out)
	}

	cur, err := r.orch.store.Get(ctx, st.ID)
	if err != nil {
		return err
	}
	done, err := r.orch.store.Finalize(ctx, st.ID, len(cur.Outcomes), now)
	if err != nil {
		return err
	}
	r.orch.metrics.RecordRunFinalized(ctx, string(done.Status), now.Sub(st.StartedAt))
	r.log.Warn("Stale run finalized", logger.Fields(
		logger.FieldRunID, done.ID,
		logger.FieldStatus, string(done.Status),
		"outcomes", len(done.Outcomes),
	))
	r.orch.publish(ctx, done)
	return nil
}

// LastSweep returns when the last sweep ran, how many runs all sweeps have
// finalized and the last sweep's error.
func (r *Reaper) LastSweep() (time.Time, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.finished, r.lastErr
}

func (r *Reaper) remember(at time.Time, finished int, err error) {
	r.mu.Lock()
	r.lastRun = at
	r.finished += finished
	r.lastErr = err
	r.mu.Unlock()
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, logger.Fields(keysAndValues...))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := logger.Fields(keysAndValues...)
	fields[logger.FieldError] = err.Error()
	l.log.Error(msg, fields)
}
