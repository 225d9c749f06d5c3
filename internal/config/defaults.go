package config

// DefaultSettings returns the built-in defaults: 5 concurrent tasks, 30s
// timeout, 3 retries 5s apart, 1s poll.
func DefaultSettings() *Settings {
	return &Settings{
		MaxConcurrentTasks: 5,
		TaskTimeout:        "30s",
		RetryAttempts:      3,
		RetryDelay:         "5s",
		PollInterval:       "1s",
		EscalationBuffer:   16,
	}
}
