package scheduler

import (
	"os"
	"strings"
	"time"
)

// Config controls the minimum tick granularity and which jobs run.
// The per-job cadence (receipt processor, watchdog, daily/monthly
// sweeps) comes from config.Config; this only governs how often the
// run loop wakes up to check whether a job is due.
type Config struct {
	RunInterval time.Duration
	EnabledJobs []string
}

func ProvideConfig() Config {
	cfg := DefaultConfig()
	if jobs := os.Getenv("ENABLED_JOBS"); jobs != "" {
		cfg.EnabledJobs = strings.Split(jobs, ",")
		for i := range cfg.EnabledJobs {
			cfg.EnabledJobs[i] = strings.TrimSpace(cfg.EnabledJobs[i])
		}
	}
	return cfg
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	return c
}
