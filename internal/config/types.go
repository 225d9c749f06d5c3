package config

import (
	"fmt"
	"time"

	"github.com/voxbot/taskforge/internal/scheduler"
)

// Settings is the top-level configuration. Durations are Go duration
// strings so config files stay readable.
type Settings struct {
	MaxConcurrentTasks int    `json:"max_concurrent_tasks"`
	TaskTimeout        string `json:"task_timeout"`
	RetryAttempts      int    `json:"retry_attempts"`
	RetryDelay         string `json:"retry_delay"`
	PollInterval       string `json:"poll_interval"`
	JournalPath        string `json:"journal_path,omitempty"`       // empty disables the journal
	EscalationBuffer   int    `json:"escalation_buffer,omitempty"`  // unresolved-conflict queue size
}

// SchedulerConfig converts the settings into the scheduler's config,
// validating the duration strings.
func (s *Settings) SchedulerConfig() (scheduler.Config, error) {
	cfg := scheduler.Config{
		MaxConcurrentTasks: s.MaxConcurrentTasks,
		RetryAttempts:      s.RetryAttempts,
	}

	var err error
	if cfg.TaskTimeout, err = parseDuration("task_timeout", s.TaskTimeout); err != nil {
		return cfg, err
	}
	if cfg.RetryDelay, err = parseDuration("retry_delay", s.RetryDelay); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = parseDuration("poll_interval", s.PollInterval); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil // scheduler fills its own default
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return d, nil
}
