package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lucasantoro97/postino/internal/model"
	"github.com/lucasantoro97/postino/internal/store"
)

// Task names as recorded in the task_runs table.
const (
	TaskExecutiveBrief = "executive_brief"
	TaskDailyRecap     = "daily_recap"
	TaskWeeklyRecap    = "weekly_recap"
	TaskReplyDigest    = "reply_digest"
	TaskReconcile      = "reconcile"
)

type cadence int

const (
	cadenceDaily cadence = iota
	cadenceWeekly
	cadenceInterval
)

// TaskFunc runs one recurring task for the current tick. nowLocal is the
// tick time in the configured timezone.
type TaskFunc func(ctx context.Context, nowLocal time.Time) error

type task struct {
	name string
	cfg  model.TaskConfig
	kind cadence
	run  TaskFunc
}

// Scheduler drives the five recurring tasks. Each tick it computes every
// task's current bucket and runs the task at most once per bucket; a failed
// run is retried on later ticks inside the same bucket, and a bucket that
// passes without a successful run is never backfilled.
type Scheduler struct {
	store store.Store
	loc   *time.Location
	log   *zap.Logger
	tasks []task
}

// New builds a scheduler over the standard five tasks. reconcileFn is the
// Sent-folder reconciliation pass, owned by the caller.
func New(cfg *model.Config, st store.Store, reporter *Reporter, reconcileFn TaskFunc, log *zap.Logger) (*Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	tasks := []task{
		{
			name: TaskExecutiveBrief,
			cfg:  cfg.Tasks.ExecutiveBrief,
			kind: cadenceDaily,
			run: func(ctx context.Context, nowLocal time.Time) error {
				rep, err := reporter.BuildExecutiveBrief(ctx, nowLocal)
				if err != nil {
					return err
				}
				return reporter.AppendAsDraft(cfg.Tasks.ExecutiveBrief.To, rep)
			},
		},
		{
			name: TaskDailyRecap,
			cfg:  cfg.Tasks.DailyRecap,
			kind: cadenceDaily,
			run: func(ctx context.Context, nowLocal time.Time) error {
				rep, err := reporter.BuildDailyRecap(ctx, nowLocal)
				if err != nil {
					return err
				}
				return reporter.AppendAsDraft(cfg.Tasks.DailyRecap.To, rep)
			},
		},
		{
			name: TaskWeeklyRecap,
			cfg:  cfg.Tasks.WeeklyRecap,
			kind: cadenceWeekly,
			run: func(ctx context.Context, nowLocal time.Time) error {
				rep, err := reporter.BuildWeeklyRecap(ctx, nowLocal)
				if err != nil {
					return err
				}
				return reporter.AppendAsDraft(cfg.Tasks.WeeklyRecap.To, rep)
			},
		},
		{
			name: TaskReplyDigest,
			cfg:  cfg.Tasks.ReplyDigest,
			kind: cadenceInterval,
			run: func(ctx context.Context, nowLocal time.Time) error {
				rep, err := reporter.BuildReplyDigest(ctx, nowLocal)
				if err != nil {
					return err
				}
				return reporter.AppendAsSent(cfg.Tasks.ReplyDigest.To, rep)
			},
		},
		{
			name: TaskReconcile,
			cfg:  cfg.Tasks.Reconcile,
			kind: cadenceInterval,
			run:  reconcileFn,
		},
	}

	return &Scheduler{store: st, loc: loc, log: log, tasks: tasks}, nil
}

// Tick evaluates every task against the given wall-clock time. Per-task
// failures are recorded and logged; they never abort the tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	nowLocal := now.In(s.loc)
	for _, t := range s.tasks {
		if !t.cfg.Enabled || t.run == nil {
			continue
		}
		bucket, due, err := s.bucketFor(t, nowLocal)
		if err != nil {
			s.log.Warn("invalid task schedule",
				zap.String("task", t.name), zap.Error(err))
			continue
		}
		if !due {
			continue
		}

		ran, err := s.store.HasRun(ctx, t.name, bucket)
		if err != nil {
			s.log.Error("checking task run failed",
				zap.String("task", t.name), zap.Error(err))
			continue
		}
		if ran {
			continue
		}

		status := store.RunSuccess
		if err := t.run(ctx, nowLocal); err != nil {
			status = store.RunFailed
			s.log.Error("task failed",
				zap.String("task", t.name),
				zap.String("bucket", bucket),
				zap.Error(err))
		} else {
			s.log.Info("task completed",
				zap.String("task", t.name),
				zap.String("bucket", bucket))
		}
		if err := s.store.RecordRun(ctx, t.name, bucket, status, now); err != nil {
			s.log.Error("recording task run failed",
				zap.String("task", t.name), zap.Error(err))
		}
	}
}

func (s *Scheduler) bucketFor(t task, nowLocal time.Time) (string, bool, error) {
	switch t.kind {
	case cadenceWeekly:
		return WeeklyBucket(t.cfg.DayLocal, t.cfg.TimeLocal, nowLocal)
	case cadenceInterval:
		return IntervalBucket(t.cfg.IntervalMinutes, nowLocal), true, nil
	default:
		return DailyBucket(t.cfg.TimeLocal, nowLocal)
	}
}
