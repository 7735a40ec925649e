package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/pkg/logger"
	"stockpulse.io/stockpulse/internal/pkg/worker"
	"stockpulse.io/stockpulse/internal/processor"
	"stockpulse.io/stockpulse/internal/service"
)

const (
	// DailyInterval is the period of retention and partition maintenance.
	DailyInterval = 24 * time.Hour

	defaultProcessInterval = time.Minute
	defaultRetryInterval   = 15 * time.Minute
)

// Deps are the services the jobs drive.
type Deps struct {
	Processor   *processor.Processor
	Maintenance *service.MaintenanceService
	DeadLetters *service.DeadLetterService

	// ProcessTimeout bounds one queue_process job.
	ProcessTimeout time.Duration
	// RetryBatch caps one dead_letter_retry run.
	RetryBatch int
}

// Schedule holds the job periods. Zero values use the defaults.
type Schedule struct {
	ProcessInterval time.Duration
	RetryInterval   time.Duration
}

func (s Schedule) withDefaults() Schedule {
	if s.ProcessInterval <= 0 {
		s.ProcessInterval = defaultProcessInterval
	}
	if s.RetryInterval <= 0 {
		s.RetryInterval = defaultRetryInterval
	}
	return s
}

// Register adds every pipeline worker to workers.
func Register(workers *river.Workers, d Deps) error {
	if err := river.AddWorkerSafely(workers, NewQueueProcessWorker(d.Processor, d.ProcessTimeout)); err != nil {
		return fmt.Errorf("register queue_process worker: %w", err)
	}
	if err := river.AddWorkerSafely(workers, NewRetentionSweepWorker(d.Maintenance)); err != nil {
		return fmt.Errorf("register retention_sweep worker: %w", err)
	}
	if err := river.AddWorkerSafely(workers, NewPartitionMaintenanceWorker(d.Maintenance)); err != nil {
		return fmt.Errorf("register partition_maintenance worker: %w", err)
	}
	if err := river.AddWorkerSafely(workers, NewDeadLetterRetryWorker(d.DeadLetters, d.RetryBatch)); err != nil {
		return fmt.Errorf("register dead_letter_retry worker: %w", err)
	}
	return nil
}

// PeriodicJobs returns the River periodic jobs of the pipeline.
func PeriodicJobs(s Schedule) []*river.PeriodicJob {
	s = s.withDefaults()
	return []*river.PeriodicJob{
		periodic(s.ProcessInterval, QueueProcessArgs{}, false),
		periodic(s.RetryInterval, DeadLetterRetryArgs{}, false),
		periodic(DailyInterval, PartitionMaintenanceArgs{}, true),
		periodic(DailyInterval, RetentionSweepArgs{}, true),
	}
}

func periodic(every time.Duration, args river.JobArgs, runOnStart bool) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(every),
		func() (river.JobArgs, *river.InsertOpts) { return args, nil },
		&river.PeriodicJobOpts{RunOnStart: runOnStart},
	)
}

// Loop is an in-process periodic task, used when no River client is
// available (memory storage).
type Loop struct {
	Name       string
	Every      time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Loops returns the in-process equivalents of PeriodicJobs.
func Loops(d Deps, s Schedule) []Loop {
	s = s.withDefaults()
	qp := NewQueueProcessWorker(d.Processor, d.ProcessTimeout)
	dl := NewDeadLetterRetryWorker(d.DeadLetters, d.RetryBatch)
	pm := NewPartitionMaintenanceWorker(d.Maintenance)
	rs := NewRetentionSweepWorker(d.Maintenance)
	return []Loop{
		{Name: QueueProcessArgs{}.Kind(), Every: s.ProcessInterval, Run: func(ctx context.Context) error {
			if t := qp.Timeout(nil); t > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t)
				defer cancel()
			}
			return qp.Work(ctx, nil)
		}},
		{Name: DeadLetterRetryArgs{}.Kind(), Every: s.RetryInterval, Run: func(ctx context.Context) error {
			return dl.Work(ctx, nil)
		}},
		{Name: PartitionMaintenanceArgs{}.Kind(), Every: DailyInterval, RunOnStart: true, Run: func(ctx context.Context) error {
			return pm.Work(ctx, nil)
		}},
		{Name: RetentionSweepArgs{}.Kind(), Every: DailyInterval, RunOnStart: true, Run: func(ctx context.Context) error {
			return rs.Work(ctx, nil)
		}},
	}
}

// StartLoops runs each loop on its own ticker in the general pool until the
// pools shut down. A failing run is logged and the loop continues.
func StartLoops(pools *worker.Pools, loops []Loop) error {
	for _, l := range loops {
		l := l
		if err := pools.SubmitDetached("general", func(ctx context.Context) { runLoop(ctx, l) }); err != nil {
			return fmt.Errorf("start %s loop: %w", l.Name, err)
		}
	}
	logger.Info("In-process job loops started", zap.Int("loops", len(loops)))
	return nil
}

func runLoop(ctx context.Context, l Loop) {
	run := func() {
		if err := l.Run(ctx); err != nil {
			logger.Warn("Job loop run failed", zap.String("job", l.Name), zap.Error(err))
		}
	}
	if l.RunOnStart {
		run()
	}
	ticker := time.NewTicker(l.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
