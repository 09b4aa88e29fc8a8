package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/run"
	"github.com/kbukum/fanout/source"
)

// recorder appends at most one outcome per task. Once closed, late results
// are dropped. The lock is held across the store call so close waits for
// an in-flight append.
type recorder struct {
	o     *Orchestrator
	ctx   context.Context
	runID string
	names []string

	mu        sync.Mutex
	recorded  []bool
	closed    bool
	persisted int
	errs      []error
}

func newRecorder(ctx context.Context, o *Orchestrator, runID string, tasks []source.Task) *recorder {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return &recorder{
		o:        o,
		ctx:      ctx,
		runID:    runID,
		names:    names,
		recorded: make([]bool, len(tasks)),
	}
}

// record appends the outcome of task i unless it already has one or the
// recorder is closed.
func (r *recorder) record(i int, out run.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.recorded[i] {
		r.o.log.Debug("Discarding late outcome", logger.Fields(
			logger.FieldRunID, r.runID,
			logger.FieldSource, out.Source,
		))
		return
	}
	r.recorded[i] = true
	r.appendLocked(out)
}

// expire gives every task without an outcome a RUN_DEADLINE_EXCEEDED
// outcome and closes the recorder. It returns how many tasks expired.
func (r *recorder) expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	now := r.o.now()
	for i, done := range r.recorded {
		if done {
			continue
		}
		r.recorded[i] = true
		n++
		appErr := apperrors.DeadlineExceeded(r.names[i])
		r.appendLocked(run.Outcome{
			Source:      r.names[i],
			ErrorCode:   string(appErr.Code),
			Message:     appErr.Message,
			CompletedAt: now,
		})
	}
	r.closed = true
	return n
}

// close stops recording and returns the number of outcomes the store
// accepted plus any append errors.
func (r *recorder) close() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.persisted, errors.Join(r.errs...)
}

func (r *recorder) appendLocked(out run.Outcome) {
	r.o.metrics.RecordOutcome(r.ctx, out.Source, out.Success, out.ErrorCode)

	fields := logger.Fields(
		logger.FieldRunID, r.runID,
		logger.FieldSource, out.Source,
		"success", out.Success,
		logger.FieldLatency, out.LatencyMs,
	)
	if !out.Success {
		fields["error_code"] = out.ErrorCode
	}
	r.o.log.Debug("Source outcome", fields)

	if err := r.o.store.AppendOutcome(r.ctx, r.runID, out); err != nil {
		r.errs = append(r.errs, fmt.Errorf("append %s: %w", out.Source, err))
		r.o.metrics.RecordError(r.ctx, apperrors.CodeOf(err), "orchestrator")
		r.o.log.Error("Failed to persist outcome", logger.Fields(
			logger.FieldRunID, r.runID,
			logger.FieldSource, out.Source,
			logger.FieldError, err.Error(),
		))
		return
	}
	r.persisted++
	if r.o.obs != nil {
		r.o.obs.OutcomeRecorded(r.runID, out)
	}
}
