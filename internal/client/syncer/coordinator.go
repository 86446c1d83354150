// Package syncer keeps the local planner database and the server in step.
//
// Local mutations are queued in the Outbox together with the entity write.
// A sync pass (Coordinator.SyncOnce) first pushes the queue in order, then
// pulls everything the server changed since the last checkpoint, resolving
// conflicts with Resolve and tying ids together with the Reconciler. The
// Scheduler decides when passes run.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/planbook/internal/client/client"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/planbook/internal/dbx"
	"github.com/dmitrijs2005/planbook/internal/logging"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

type Options struct {
	// RequestTimeout bounds every call to the server.
	RequestTimeout time.Duration
	// PingTimeout bounds the connectivity check at the start of a pass.
	PingTimeout time.Duration
	// MaxAttempts parks an item after that many transport failures.
	// Zero retries forever.
	MaxAttempts int
}

// Coordinator runs sync passes. At most one pass runs at a time; callers
// that ask for a pass while one is running receive that pass's result.
type Coordinator struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	outbox     *Outbox
	reconciler *Reconciler
	remote     client.Client
	logger     logging.Logger
	opts       Options
	now        func() time.Time

	group singleflight.Group

	mu           sync.Mutex
	state        State
	online       bool
	lastSyncedAt *time.Time
	lastError    string
	retryable    bool
}

func NewCoordinator(db *sql.DB, repos repomanager.RepositoryManager, outbox *Outbox, remote client.Client, logger logging.Logger, opts Options) *Coordinator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	return &Coordinator{
		db:         db,
		repos:      repos,
		outbox:     outbox,
		reconciler: NewReconciler(repos),
		remote:     remote,
		logger:     logger.With("module", "syncer"),
		opts:       opts,
		now:        time.Now,
		state:      StateIdle,
		online:     true,
	}
}

// Restore loads the last sync time and error persisted by earlier runs.
func (c *Coordinator) Restore(ctx context.Context) error {
	last, msg, err := c.repos.Metadata(c.db).LastSync(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSyncedAt = last
	c.lastError = msg
	if c.lastError != "" {
		c.state = StateError
	}
	return nil
}

// SyncOnce runs a pass, or joins the one in progress. It never returns an
// error: the outcome is in the Result.
func (c *Coordinator) SyncOnce(ctx context.Context) Result {
	v, _, shared := c.group.Do("sync", func() (any, error) {
		return c.run(ctx), nil
	})
	res := v.(Result)
	res.Shared = shared
	return res
}

// SetConnectivity records a connectivity change observed outside a pass and
// reports whether the device just came back online.
func (c *Coordinator) SetConnectivity(online bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := online && !c.online
	c.online = online
	switch {
	case !online && c.state != StateSyncing:
		c.state = StateOffline
	case restored && c.state == StateOffline:
		c.state = StateIdle
	}
	return restored
}

func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	pending, parked, err := c.outbox.PendingCount(ctx, c.db)
	if err != nil {
		return Status{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:        c.state,
		Online:       c.online,
		LastSyncedAt: c.lastSyncedAt,
		LastError:    c.lastError,
		Retryable:    c.retryable,
		Pending:      pending,
		Parked:       parked,
	}, nil
}

func (c *Coordinator) Outbox() *Outbox { return c.outbox }

func (c *Coordinator) run(ctx context.Context) (res Result) {
	res.StartedAt = c.now().UTC()
	c.setState(StateSyncing)

	defer func() {
		if p := recover(); p != nil {
			res = c.fail(ctx, res, fmt.Errorf("sync pass panicked: %v", p))
		}
		res.FinishedAt = c.now().UTC()
	}()

	pingCtx, cancel := context.WithTimeout(ctx, c.opts.PingTimeout)
	err := c.remote.Ping(pingCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return c.fail(ctx, res, &TransportError{Err: ctx.Err()})
		}
		return c.offline(ctx, res, err)
	}

	c.mu.Lock()
	c.online = true
	c.mu.Unlock()

	if err := c.push(ctx, &res); err != nil {
		return c.fail(ctx, res, err)
	}
	if err := c.pull(ctx, &res); err != nil {
		return c.fail(ctx, res, err)
	}
	return c.succeed(ctx, res)
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) offline(ctx context.Context, res Result, err error) Result {
	c.logger.Info(ctx, "server unreachable, staying offline", "error", err)

	c.mu.Lock()
	c.state = StateOffline
	c.online = false
	c.mu.Unlock()

	res.Status = OutcomeOffline
	res.Error = err.Error()
	res.Retryable = true
	return res
}

func (c *Coordinator) fail(ctx context.Context, res Result, err error) Result {
	res.Status = OutcomeError
	res.Error = err.Error()
	res.Retryable = IsRetryable(err)

	c.mu.Lock()
	c.state = StateError
	c.lastError = res.Error
	c.retryable = res.Retryable
	c.mu.Unlock()

	c.logger.Error(ctx, "sync pass failed", "error", err, "retryable", res.Retryable,
		"pushed", res.Pushed, "parked", res.Parked)

	// The pass may have failed because ctx was cancelled; the status must
	// still be recorded.
	persistCtx := context.WithoutCancel(ctx)
	if err := c.repos.Metadata(c.db).RecordFailure(persistCtx, res.Error); err != nil {
		c.logger.Warn(ctx, "failed to persist sync error", "error", err)
	}
	return res
}

func (c *Coordinator) succeed(ctx context.Context, res Result) Result {
	res.Status = OutcomeSuccess
	finished := c.now().UTC()

	c.mu.Lock()
	c.state = StateIdle
	c.lastSyncedAt = &finished
	c.lastError = ""
	c.retryable = false
	c.mu.Unlock()

	err := dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return c.repos.Metadata(tx).RecordSuccess(ctx, finished)
	})
	if err != nil {
		c.logger.Warn(ctx, "failed to persist sync status", "error", err)
	}

	c.logger.Info(ctx, "sync pass finished", "pushed", res.Pushed, "parked", res.Parked,
		"pulled", res.Pulled, "applied", res.Applied)
	return res
}

// call runs one request to the server under the per-call timeout.
func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// inTx runs fn in a transaction; any failure is a local store failure.
func (c *Coordinator) inTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	err := dbx.WithTx(ctx, c.db, nil, fn)
	if err == nil {
		return nil
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		return err
	}
	return localStore(err)
}
