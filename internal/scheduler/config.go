package scheduler

import (
	"time"
)

// Config controls scheduler intervals and thresholds.
type Config struct {
	RunInterval       time.Duration
	WarningThreshold  float64
	RecoveryThreshold time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		WarningThreshold:  0.8,
		RecoveryThreshold: 15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.WarningThreshold <= 0 || c.WarningThreshold > 1 {
		c.WarningThreshold = defaults.WarningThreshold
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	return c
}
