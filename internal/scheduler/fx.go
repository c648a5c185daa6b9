package scheduler

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(runScheduler),
)

// ProvideConfig reads the scheduler knobs from the environment.
func ProvideConfig() Config {
	cfg := DefaultConfig()
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_RUN_INTERVAL")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			cfg.RunInterval = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_JOB_TIMEOUT")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			cfg.JobTimeout = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); raw != "" {
		for _, job := range strings.Split(raw, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg
}

func runScheduler(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
