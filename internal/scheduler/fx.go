package scheduler

import (
	"context"

	"github.com/pledgeflow/reconciler/internal/config"
	"github.com/pledgeflow/reconciler/internal/providers/ai"
	"github.com/pledgeflow/reconciler/internal/providers/blob"
	"github.com/pledgeflow/reconciler/internal/providers/template"
	"github.com/pledgeflow/reconciler/internal/receiptprocessor"
	"github.com/pledgeflow/reconciler/internal/watchdog"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	ai.Module,
	blob.Module,
	template.Module,
	receiptprocessor.Module,
	watchdog.Module,
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

func NewScheduler(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if cfg.IsCloud() {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
