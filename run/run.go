package run

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kbukum/fanout/errors"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusPartial    Status = "PARTIAL"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether s can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusInProgress || s.IsTerminal()
}

// Outcome is the recorded result of one source. It is immutable once appended.
type Outcome struct {
	Source      string          `json:"source"`
	Success     bool            `json:"success"`
	LatencyMs   int64           `json:"latency_ms"`
	Found       bool            `json:"found"`
	Confidence  float64         `json:"confidence"`
	Data        json.RawMessage `json:"data"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Message     string          `json:"message,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Run is the durable record of one fan-out query.
type Run struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id,omitempty"`
	QueryType         string     `json:"query_type"`
	QueryInput        string     `json:"query_input"`
	Status            Status     `json:"status"`
	Outcomes          []Outcome  `json:"outcomes"`
	TotalSources      int        `json:"total_sources"`
	SuccessfulSources int        `json:"successful_sources"`
	FailedSources     int        `json:"failed_sources"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	DurationMs        *int64     `json:"duration_ms,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// New returns an IN_PROGRESS run with a fresh UUIDv4 id.
func New(ownerID, queryType, queryInput string, now time.Time) *Run {
	return &Run{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		QueryType:  queryType,
		QueryInput: queryInput,
		Status:     StatusInProgress,
		Outcomes:   []Outcome{},
		StartedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Append records an outcome and bumps the matching counter.
func (r *Run) Append(o Outcome, now time.Time) error {
	if r.Status.IsTerminal() {
		return apperrors.AlreadyFinalized(r.ID)
	}
	r.Outcomes = append(r.Outcomes, o)
	if o.Success {
		r.SuccessfulSources++
	} else {
		r.FailedSources++
	}
	r.UpdatedAt = now
	return nil
}

// Finalize moves the run to its terminal status. totalSources must equal
// the number of recorded outcomes.
func (r *Run) Finalize(totalSources int, now time.Time) error {
	if r.Status.IsTerminal() {
		return apperrors.AlreadyFinalized(r.ID)
	}
	if totalSources != len(r.Outcomes) {
		return apperrors.Internal(fmt.Errorf("run %s: %d outcomes recorded for %d sources",
			r.ID, len(r.Outcomes), totalSources))
	}

	r.TotalSources = totalSources
	r.Status = Aggregate(r.SuccessfulSources, r.FailedSources)

	completed := now
	duration := now.Sub(r.StartedAt).Milliseconds()
	r.CompletedAt = &completed
	r.DurationMs = &duration
	r.UpdatedAt = now
	return nil
}

// Aggregate derives the terminal status from outcome counters. A run with
// no sources is COMPLETED.
func Aggregate(successful, failed int) Status {
	switch {
	case failed == 0:
		return StatusCompleted
	case successful == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Outcomes = make([]Outcome, len(r.Outcomes))
	for i, o := range r.Outcomes {
		if o.Data != nil {
			o.Data = append(json.RawMessage(nil), o.Data...)
		}
		c.Outcomes[i] = o
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.DurationMs != nil {
		d := *r.DurationMs
		c.DurationMs = &d
	}
	return &c
}
