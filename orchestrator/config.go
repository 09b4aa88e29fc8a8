package orchestrator

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults.
const (
	DefaultMaxConcurrentTasks = 10
	DefaultStaleAfter         = 30 * time.Minute
	DefaultReapSchedule       = "@every 1m"
)

// Config tunes the orchestrator and its reaper.
type Config struct {
	// MaxConcurrentTasks caps tasks running at once across all runs.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`

	// RunTimeout bounds a whole run. Zero disables the deadline.
	RunTimeout time.Duration `mapstructure:"run_timeout"`

	// StaleAfter is how long a run may stay IN_PROGRESS before the reaper
	// considers it abandoned.
	StaleAfter time.Duration `mapstructure:"stale_after"`

	// ReapSchedule is a cron spec ("@every 1m", "*/5 * * * *").
	ReapSchedule string `mapstructure:"reap_schedule"`

	// ReaperEnabled turns the reaper component on.
	ReaperEnabled bool `mapstructure:"reaper_enabled"`
}

// ApplyDefaults sets defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.ReapSchedule == "" {
		c.ReapSchedule = DefaultReapSchedule
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RunTimeout < 0 {
		return fmt.Errorf("run_timeout must be >= 0")
	}
	if c.RunTimeout > 0 && c.StaleAfter <= c.RunTimeout {
		return fmt.Errorf("stale_after (%s) must exceed run_timeout (%s)", c.StaleAfter, c.RunTimeout)
	}
	if _, err := cron.ParseStandard(c.ReapSchedule); err != nil {
		return fmt.Errorf("invalid reap_schedule %q: %w", c.ReapSchedule, err)
	}
	return nil
}
