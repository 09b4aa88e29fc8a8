package sse

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kbukum/fanout/orchestrator"
	"github.com/kbukum/fanout/run"
)

// RunClientID returns a fresh client ID for a watcher of runID.
func RunClientID(runID string) string {
	return "run:" + runID + ":" + uuid.NewString()
}

// RunPattern matches every watcher of runID.
func RunPattern(runID string) string {
	return "run:" + runID + ":*"
}

// OutcomeEvent is the payload of an outcome event.
type OutcomeEvent struct {
	RunID   string      `json:"run_id"`
	Outcome run.Outcome `json:"outcome"`
}

// RunObserver pushes run progress to the hub.
type RunObserver struct {
	hub *Hub
}

var _ orchestrator.Observer = (*RunObserver)(nil)

// NewRunObserver returns an orchestrator.Observer backed by hub.
func NewRunObserver(hub *Hub) *RunObserver {
	return &RunObserver{hub: hub}
}

// OutcomeRecorded broadcasts an outcome event to the run's watchers.
func (o *RunObserver) OutcomeRecorded(runID string, out run.Outcome) {
	data, err := json.Marshal(OutcomeEvent{RunID: runID, Outcome: out})
	if err != nil {
		return
	}
	o.hub.Broadcast(RunPattern(runID), Event{Type: EventOutcome, Data: data})
}

// RunFinalized broadcasts the terminal run to its watchers.
func (o *RunObserver) RunFinalized(r *run.Run) {
	ev, err := FinalizedEvent(r)
	if err != nil {
		return
	}
	o.hub.Broadcast(RunPattern(r.ID), ev)
}

// FinalizedEvent encodes a terminal run.
func FinalizedEvent(r *run.Run) (Event, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventFinalized, Data: data}, nil
}

// IsFinalized reports whether ev ends a run stream.
func IsFinalized(ev Event) bool { return ev.Type == EventFinalized }
