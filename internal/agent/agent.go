package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lucasantoro97/postino/internal/mail"
	"github.com/lucasantoro97/postino/internal/model"
	"github.com/lucasantoro97/postino/internal/store"
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 60 * time.Second

	// maxCycleFailures is how many consecutive poll-cycle failures are
	// tolerated before tearing the connection down and reconnecting.
	maxCycleFailures = 3

	retryBatchLimit = 20
)

// Gateway is the connectable mail gateway the agent drives. The agent
// owns the connection lifecycle; everything downstream sees mail.Gateway.
type Gateway interface {
	mail.Gateway
	Connect() error
	Close() error
}

// Processor runs the decision pipeline for one inbox message.
type Processor interface {
	ProcessUID(ctx context.Context, uid uint32) error
}

// Ticker advances the recurring-task scheduler.
type Ticker interface {
	Tick(ctx context.Context, now time.Time)
}

// Deps bundles the agent's collaborators.
type Deps struct {
	Cfg       *model.Config
	Store     store.Store
	Mail      Gateway
	Pipeline  Processor
	Scheduler Ticker
	Log       *zap.Logger
	Now       func() time.Time
}

// Agent is the poll-loop driver: it keeps an IMAP session alive with
// exponential reconnect backoff, feeds new and retryable inbox messages
// into the pipeline, and ticks the scheduler once per cycle.
type Agent struct {
	deps Deps
}

// New creates an agent over the given collaborators.
func New(deps Deps) *Agent {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Agent{deps: deps}
}

// Run drives the agent until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	log := a.deps.Log
	backoff := initialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.deps.Mail.Connect(); err != nil {
			log.Error("imap connect failed",
				zap.String("host", a.deps.Cfg.IMAP.Host),
				zap.Duration("retry_in", backoff),
				zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff

		err := a.session(ctx)
		if cerr := a.deps.Mail.Close(); cerr != nil {
			log.Warn("closing imap session failed", zap.Error(cerr))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("imap session ended, reconnecting",
			zap.Duration("retry_in", backoff), zap.Error(err))
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

// session runs poll cycles over one live connection. It returns when the
// context is cancelled or cycles keep failing, handing control back to
// Run for reconnection.
func (a *Agent) session(ctx context.Context) error {
	cfg := a.deps.Cfg
	log := a.deps.Log

	if cfg.IMAP.CreateFoldersOnStartup {
		for _, folder := range cfg.AllRequiredFolders() {
			if err := a.deps.Mail.EnsureFolder(folder); err != nil {
				return err
			}
		}
	}

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			log.Error("poll cycle failed",
				zap.Int("consecutive", failures), zap.Error(err))
			if failures >= maxCycleFailures {
				return err
			}
			if !sleepCtx(ctx, minDuration(a.pollInterval(), 30*time.Second)) {
				return ctx.Err()
			}
			continue
		}
		failures = 0
		if !sleepCtx(ctx, a.pollInterval()) {
			return ctx.Err()
		}
	}
}

// cycle is one scheduler tick plus one inbox poll.
func (a *Agent) cycle(ctx context.Context) error {
	cfg := a.deps.Cfg
	now := a.deps.Now()
	inbox := cfg.IMAP.FolderInbox

	a.deps.Scheduler.Tick(ctx, now)

	last, err := a.deps.Store.GetLastUID(ctx, inbox)
	if err != nil {
		return err
	}

	if last == 0 {
		uids, err := a.backfillUIDs(ctx, inbox, now)
		if err != nil {
			return err
		}
		a.processAll(ctx, inbox, uids)
		return nil
	}

	uids, err := a.deps.Mail.SearchSinceUID(inbox, last)
	if err != nil {
		return err
	}
	if len(uids) > 0 {
		if err := a.deps.Store.SetLastUID(ctx, inbox, maxUID(uids)); err != nil {
			return err
		}
	}
	a.processAll(ctx, inbox, uids)

	olderThan := now.Add(-maxDuration(30*time.Second, a.pollInterval()))
	retries, err := a.deps.Store.RetryableUIDs(ctx, inbox, olderThan, retryBatchLimit)
	if err != nil {
		return err
	}
	justProcessed := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		justProcessed[uid] = true
	}
	for _, uid := range retries {
		if justProcessed[uid] {
			continue
		}
		if err := a.deps.Pipeline.ProcessUID(ctx, uid); err != nil {
			a.deps.Log.Error("retrying message failed",
				zap.Uint32("uid", uid), zap.Error(err))
		}
	}
	return nil
}

// backfillUIDs handles the very first poll of a mailbox: it returns the
// recent messages worth processing and advances the UID high-water mark
// past everything older, so the backlog is never reprocessed.
func (a *Agent) backfillUIDs(ctx context.Context, inbox string, now time.Time) ([]uint32, error) {
	cfg := a.deps.Cfg
	since := now.AddDate(0, 0, -cfg.IMAP.InitialLookbackDays)
	uids, err := a.deps.Mail.SearchSinceDate(inbox, since)
	if err != nil {
		return nil, err
	}
	all, err := a.deps.Mail.SearchAll(inbox)
	if err != nil {
		return nil, err
	}
	if len(all) > 0 {
		if err := a.deps.Store.SetLastUID(ctx, inbox, maxUID(all)); err != nil {
			return nil, err
		}
	}
	a.deps.Log.Info("initial backfill",
		zap.String("folder", inbox),
		zap.Int("lookback_days", cfg.IMAP.InitialLookbackDays),
		zap.Int("messages", len(uids)))
	return uids, nil
}

func (a *Agent) processAll(ctx context.Context, inbox string, uids []uint32) {
	for _, uid := range uids {
		if ctx.Err() != nil {
			return
		}
		if err := a.deps.Pipeline.ProcessUID(ctx, uid); err != nil {
			a.deps.Log.Error("processing message failed",
				zap.Uint32("uid", uid),
				zap.String("folder", inbox),
				zap.Error(err))
		}
	}
}

func (a *Agent) pollInterval() time.Duration {
	if a.deps.Cfg.PollSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.deps.Cfg.PollSeconds) * time.Second
}

// sleepCtx waits for d or until ctx is done, reporting whether the full
// wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	return minDuration(d*2, maxBackoff)
}

func maxUID(uids []uint32) uint32 {
	var m uint32
	for _, uid := range uids {
		if uid > m {
			m = uid
		}
	}
	return m
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
