// Package scheduler runs the periodic background agents: the receipt
// processor, the verification watchdog, and the subscription engine's
// daily reminder/overdue sweep and monthly allocation batch. Each ticks
// on its own cadence off a single wall-clock loop; in cloud mode ticking
// is left to the hosting platform's own scheduler and this loop does
// not start.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/config"
	obsmetrics "github.com/pledgeflow/reconciler/internal/observability/metrics"
	"github.com/pledgeflow/reconciler/internal/receiptprocessor"
	subscriptiondomain "github.com/pledgeflow/reconciler/internal/subscription/domain"
	"github.com/pledgeflow/reconciler/internal/watchdog"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config

	ReceiptProcessor *receiptprocessor.Service
	Watchdog         *watchdog.Service
	SubscriptionSvc  subscriptiondomain.Service

	Config Config `optional:"true"`
}

type Scheduler struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   Config
	appCfg config.Config

	receiptProcessor *receiptprocessor.Service
	watchdog         *watchdog.Service
	subscriptionSvc  subscriptiondomain.Service

	lastReceiptSweep    time.Time
	lastWatchdogSweep   time.Time
	lastDailySweepDate  string
	lastMonthlyBatchKey string
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.ReceiptProcessor == nil || p.Watchdog == nil || p.SubscriptionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:              p.Log.Named("scheduler"),
		genID:            p.GenID,
		clock:            p.Clock,
		cfg:              p.Config.withDefaults(),
		appCfg:           p.Cfg,
		receiptProcessor: p.ReceiptProcessor,
		watchdog:         p.Watchdog,
		subscriptionSvc:  p.SubscriptionSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out", zap.String("job", name), zap.Duration("timeout", timeout))
		return nil
	}
	schedMetrics.IncJobError(name, err)
	s.logSchedulerError(ctx, run, "scheduler.job.failed", name, err)
	return err
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if enabled == jobName {
			return true
		}
	}
	return false
}

// RunOnce evaluates every job's due-ness against the current time and
// runs whichever ones are due. Called once per tick by RunForever.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	now := s.clock.Now()

	if s.isJobEnabled("receipt_processor") && now.Sub(s.lastReceiptSweep) >= s.appCfg.ReceiptProcessorInterval {
		if jobErr := s.runJob(parent, "receipt_processor", 2*time.Minute, func(ctx context.Context) error {
			result, sweepErr := s.receiptProcessor.Sweep(ctx)
			if sweepErr != nil {
				obsmetrics.Scheduler().IncStageError(obsmetrics.LifecycleStageReceiptProcessor, sweepErr)
				return sweepErr
			}
			obsmetrics.Scheduler().AddBatchProcessed("receipt_processor", "receipts", result.ReceiptsPersisted)
			if result.ReceiptsPersisted > 0 {
				obsmetrics.Scheduler().IncLifecycleTransition("pending", "verified")
			}
			return nil
		}); jobErr != nil {
			err = errors.Join(err, jobErr)
		}
		s.lastReceiptSweep = now
	}

	if s.isJobEnabled("watchdog") && now.Sub(s.lastWatchdogSweep) >= s.appCfg.WatchdogInterval {
		if jobErr := s.runJob(parent, "watchdog", 2*time.Minute, func(ctx context.Context) error {
			result, sweepErr := s.watchdog.Sweep(ctx)
			if sweepErr != nil {
				obsmetrics.Scheduler().IncStageError(obsmetrics.LifecycleStageWatchdog, sweepErr)
				return sweepErr
			}
			obsmetrics.Scheduler().AddBatchProcessed("watchdog", "pledges_closed", result.PledgesClosed)
			if result.PledgesClosed > 0 {
				obsmetrics.Scheduler().IncLifecycleTransition("awaiting_verification", "closed")
			}
			return nil
		}); jobErr != nil {
			err = errors.Join(err, jobErr)
		}
		s.lastWatchdogSweep = now
	}

	if s.isJobEnabled("daily_sweep") && s.dailySweepDue(now) {
		if jobErr := s.runJob(parent, "daily_sweep", 5*time.Minute, func(ctx context.Context) error {
			_, sweepErr := s.subscriptionSvc.DailySweep(ctx)
			return sweepErr
		}); jobErr != nil {
			err = errors.Join(err, jobErr)
		}
		s.lastDailySweepDate = now.Format("2006-01-02")
	}

	if s.isJobEnabled("monthly_allocation") && s.monthlyBatchDue(now) {
		if jobErr := s.runJob(parent, "monthly_allocation", 30*time.Minute, func(ctx context.Context) error {
			_, batchErr := s.subscriptionSvc.MonthlyAllocationBatch(ctx, now.Year(), int(now.Month()))
			return batchErr
		}); jobErr != nil {
			err = errors.Join(err, jobErr)
		}
		s.lastMonthlyBatchKey = now.Format("2006-01")
	}

	return err
}

func (s *Scheduler) dailySweepDue(now time.Time) bool {
	today := now.Format("2006-01-02")
	if s.lastDailySweepDate == today {
		return false
	}
	hh, mm, ok := parseHHMM(s.appCfg.DailySweepLocal)
	if !ok {
		return true
	}
	return now.Hour() > hh || (now.Hour() == hh && now.Minute() >= mm)
}

func (s *Scheduler) monthlyBatchDue(now time.Time) bool {
	key := now.Format("2006-01")
	if s.lastMonthlyBatchKey == key {
		return false
	}
	return now.Day() >= s.appCfg.MonthlyBatchDay
}

func parseHHMM(raw string) (int, int, bool) {
	var hh, mm int
	if _, err := time.Parse("15:04", raw); err != nil {
		return 0, 0, false
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, 0, false
	}
	hh, mm = t.Hour(), t.Minute()
	return hh, mm, true
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
