package database

import (
	"encoding/json"
	"time"

	"github.com/kbukum/fanout/run"
)

// RunModel is the runs table.
type RunModel struct {
	ID                string     `gorm:"primaryKey;size:36"`
	OwnerID           string     `gorm:"size:128;index:idx_runs_owner_created,priority:1"`
	QueryType         string     `gorm:"size:64;not null"`
	QueryInput        string     `gorm:"type:text;not null"`
	Status            string     `gorm:"size:16;not null;index:idx_runs_status_started,priority:1"`
	TotalSources      int        `gorm:"not null;default:0"`
	SuccessfulSources int        `gorm:"not null;default:0"`
	FailedSources     int        `gorm:"not null;default:0"`
	StartedAt         time.Time  `gorm:"not null;index:idx_runs_status_started,priority:2"`
	CompletedAt       *time.Time
	DurationMs        *int64
	CreatedAt         time.Time `gorm:"not null;autoCreateTime:false;index:idx_runs_owner_created,priority:2"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime:false"`

	Outcomes []OutcomeModel `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TableName implements gorm's Tabler.
func (RunModel) TableName() string { return "runs" }

// OutcomeModel is the run_outcomes table.
type OutcomeModel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	RunID       string    `gorm:"size:36;not null;index"`
	Source      string    `gorm:"size:128;not null"`
	Success     bool      `gorm:"not null"`
	LatencyMs   int64     `gorm:"not null"`
	Found       bool      `gorm:"not null"`
	Confidence  float64   `gorm:"not null"`
	Data        *string   `gorm:"type:longtext"`
	ErrorCode   string    `gorm:"size:64"`
	Message     string    `gorm:"type:text"`
	CompletedAt time.Time `gorm:"not null"`
}

// TableName implements gorm's Tabler.
func (OutcomeModel) TableName() string { return "run_outcomes" }

// Models returns the models to auto-migrate.
func Models() []interface{} {
	return []interface{}{&RunModel{}, &OutcomeModel{}}
}

func fromRun(r *run.Run) RunModel {
	m := RunModel{
		ID:                r.ID,
		OwnerID:           r.OwnerID,
		QueryType:         r.QueryType,
		QueryInput:        r.QueryInput,
		Status:            string(r.Status),
		TotalSources:      r.TotalSources,
		SuccessfulSources: r.SuccessfulSources,
		FailedSources:     r.FailedSources,
		StartedAt:         r.StartedAt.UTC(),
		CompletedAt:       r.CompletedAt,
		DurationMs:        r.DurationMs,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	for _, o := range r.Outcomes {
		m.Outcomes = append(m.Outcomes, fromOutcome(r.ID, o))
	}
	return m
}

func fromOutcome(runID string, o run.Outcome) OutcomeModel {
	m := OutcomeModel{
		RunID:       runID,
		Source:      o.Source,
		Success:     o.Success,
		LatencyMs:   o.LatencyMs,
		Found:       o.Found,
		Confidence:  o.Confidence,
		ErrorCode:   o.ErrorCode,
		Message:     o.Message,
		CompletedAt: o.CompletedAt.UTC(),
	}
	if o.Data != nil {
		s := string(o.Data)
		m.Data = &s
	}
	return m
}

func (m RunModel) toRun() *run.Run {
	r := &run.Run{
		ID:                m.ID,
		OwnerID:           m.OwnerID,
		QueryType:         m.QueryType,
		QueryInput:        m.QueryInput,
		Status:            run.Status(m.Status),
		Outcomes:          make([]run.Outcome, 0, len(m.Outcomes)),
		TotalSources:      m.TotalSources,
		SuccessfulSources: m.SuccessfulSources,
		FailedSources:     m.FailedSources,
		StartedAt:         m.StartedAt.UTC(),
		DurationMs:        m.DurationMs,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
	if m.CompletedAt != nil {
		t := m.CompletedAt.UTC()
		r.CompletedAt = &t
	}
	for _, o := range m.Outcomes {
		out := run.Outcome{
			Source:      o.Source,
			Success:     o.Success,
			LatencyMs:   o.LatencyMs,
			Found:       o.Found,
			Confidence:  o.Confidence,
			ErrorCode:   o.ErrorCode,
			Message:     o.Message,
			CompletedAt: o.CompletedAt.UTC(),
		}
		if o.Data != nil {
			out.Data = json.RawMessage(*o.Data)
		}
		r.Outcomes = append(r.Outcomes, out)
	}
	return r
}
