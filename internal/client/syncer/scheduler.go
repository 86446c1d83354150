package syncer

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/planbook/internal/logging"
)

const (
	DefaultSyncInterval = 15 * time.Minute
	DefaultBackoffMin   = 2 * time.Second
	DefaultBackoffMax   = 5 * time.Minute
)

// Syncer runs one sync pass.
type Syncer interface {
	SyncOnce(ctx context.Context) Result
}

type SchedulerOptions struct {
	// Interval is the periodic safety-net pass.
	Interval time.Duration
	// BackoffMin and BackoffMax bound the delay before retrying a pass
	// that failed with a retryable error.
	BackoffMin time.Duration
	BackoffMax time.Duration
	// JitterPercent spreads retries of many clients apart.
	JitterPercent uint64
}

// Scheduler decides when passes run: right away on start, on Trigger,
// every Interval, and after a retryable failure with capped exponential
// backoff.
type Scheduler struct {
	syncer  Syncer
	logger  logging.Logger
	opts    SchedulerOptions
	trigger chan struct{}
}

func NewScheduler(s Syncer, logger logging.Logger, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = DefaultBackoffMin
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = max(DefaultBackoffMax, opts.BackoffMin)
	}
	return &Scheduler{
		syncer:  s,
		logger:  logger.With("module", "scheduler"),
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger asks for a pass as soon as possible. It never blocks; triggers
// that arrive while one is already waiting are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.opts.BackoffMin)
	b = retry.WithCappedDuration(s.opts.BackoffMax, b)
	if s.opts.JitterPercent > 0 {
		b = retry.WithJitterPercent(s.opts.JitterPercent, b)
	}
	return b
}

// Run loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	backoff := s.newBackoff()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-s.trigger:
		}

		res := s.syncer.SyncOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		delay := s.opts.Interval
		switch {
		case res.Status == OutcomeError && res.Retryable:
			if d, stop := backoff.Next(); !stop {
				delay = min(d, s.opts.Interval)
			}
			s.logger.Info(ctx, "sync will be retried", "in", delay.String())
		case res.Status == OutcomeOffline:
			// The connectivity watcher triggers a pass when the server
			// comes back.
		default:
			backoff = s.newBackoff()
		}
		timer.Reset(delay)
	}
}
