package scheduler

import (
	"time"
)

// Config controls scheduler intervals and job deadlines. Batch sizes
// come from the hot-reloaded billing policy.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		JobTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
