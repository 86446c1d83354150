// Package server wires the planbook server together: PostgreSQL storage,
// schema migrations, the records service and the HTTP API.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/planbook/internal/logging"
	"github.com/dmitrijs2005/planbook/internal/server/config"
	"github.com/dmitrijs2005/planbook/internal/server/httpapi"
	"github.com/dmitrijs2005/planbook/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/planbook/internal/server/services"
)

const (
	connectAttempts = 10
	connectBackoff  = 500 * time.Millisecond
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	records *services.RecordService
}

// NewApp connects to the database, waiting for it to come up, and applies
// pending migrations.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := waitForDB(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db connect error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		records: services.NewRecordService(db, rm),
	}, nil
}

func waitForDB(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	b := retry.WithMaxRetries(connectAttempts, retry.NewExponential(connectBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn(ctx, "database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Run serves the HTTP API until ctx is cancelled.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...")
	s := httpapi.NewServer(app.config.EndpointAddr, app.logger, app.records, app.config.SecretKey)
	return s.Run(ctx)
}

func (app *App) Close() error {
	return app.db.Close()
}
