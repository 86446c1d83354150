package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/planbook/internal/client/client"
	"github.com/dmitrijs2005/planbook/internal/client/config"
	"github.com/dmitrijs2005/planbook/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/planbook/internal/client/services"
	"github.com/dmitrijs2005/planbook/internal/client/syncer"
	"github.com/dmitrijs2005/planbook/internal/logging"
)

// pingTimeout bounds one connectivity probe of the watcher.
const pingTimeout = 3 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	planner   services.PlannerService
	auth      services.AuthService
	remote    client.Client
	coord     *syncer.Coordinator
	scheduler *syncer.Scheduler
	reader    *bufio.Reader
	out       io.Writer
}

// NewApp opens the local database named in c and wires the sync engine
// against the HTTP server. Close releases the database.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := repomanager.OpenDatabase(ctx, c.DatabasePath)
	if err != nil {
		logger.Error(ctx, "error initializing database", "error", err)
		return nil, err
	}

	repos := repomanager.NewSQLiteRepositoryManager()
	auth := services.NewAuthService(db, repos)
	remote := client.NewHTTPClient(c.ServerURL, c.RequestTimeout, auth.Token)

	app, err := newApp(ctx, c, logger, db, repos, auth, remote, os.Stdin, os.Stdout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger, db *sql.DB, repos repomanager.RepositoryManager,
	auth services.AuthService, remote client.Client, in io.Reader, out io.Writer) (*App, error) {

	outbox := syncer.NewOutbox(repos)
	coord := syncer.NewCoordinator(db, repos, outbox, remote, logger, c.CoordinatorOptions())
	if err := coord.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore sync state: %w", err)
	}

	return &App{
		config:    c,
		logger:    logger,
		db:        db,
		planner:   services.NewPlannerService(db, repos, outbox),
		auth:      auth,
		remote:    remote,
		coord:     coord,
		scheduler: syncer.NewScheduler(coord, logger, c.SchedulerOptions()),
		reader:    bufio.NewReader(in),
		out:       out,
	}, nil
}

func (a *App) Close() error {
	return a.db.Close()
}

// SyncOnce runs a single pass outside the REPL.
func (a *App) SyncOnce(ctx context.Context) syncer.Result {
	return a.coord.SyncOnce(ctx)
}

// Run starts the connectivity watcher and the sync scheduler, then serves
// the REPL until the user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.StartOnlineStatusWatcher(gctx, a.config.OnlineCheckInterval)
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})

	printlnFn("Welcome to planbook (type 'help' for commands)")
	if tok, err := a.auth.Token(ctx); err == nil && tok == "" {
		printlnFn(services.ErrNotLoggedIn.Error())
	}

	// The REPL blocks on stdin, so it is not part of the group: a cancelled
	// ctx must not wait for the next line.
	done := make(chan struct{})
	go func() {
		defer close(done)
		runREPL(ctx, a, a.getStatus, a.reader)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	cancel()
	return g.Wait()
}

// StartOnlineStatusWatcher probes the server every interval and feeds the
// result to the coordinator. A pass is triggered as soon as the server is
// reachable again.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) checkOnline(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := a.remote.Ping(pctx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	if a.coord.SetConnectivity(err == nil) {
		a.logger.Info(ctx, "server reachable again, syncing")
		a.scheduler.Trigger()
	}
}

// getStatus renders the prompt prefix, e.g. "(online, 2 pending)".
func (a *App) getStatus() string {
	st, err := a.coord.Status(context.Background())
	if err != nil {
		return "(?)"
	}

	parts := []string{"online"}
	if !st.Online {
		parts[0] = "offline"
	}
	if st.State == syncer.StateSyncing {
		parts = append(parts, "syncing")
	}
	if st.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", st.Pending))
	}
	if st.Parked > 0 {
		parts = append(parts, fmt.Sprintf("%d parked", st.Parked))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
