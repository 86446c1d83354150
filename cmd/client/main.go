// Command planbook is the offline-first planner client. Without a
// sub-command it starts the interactive shell; `sync` and `status` run once
// and exit.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/planbook/internal/client/cli"
	"github.com/dmitrijs2005/planbook/internal/client/config"
	"github.com/dmitrijs2005/planbook/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.LoadConfig()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		logger logging.Logger
		closer io.Closer
		app    *cli.App
	)

	root := &cobra.Command{
		Use:          "planbook",
		Short:        "Offline-first planner for tasks, categories and time blocks",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			logger, closer = logging.NewFileLogger(cfg.LogFile, slog.LevelInfo)
			app, err = cli.NewApp(cmd.Context(), cfg, logger)
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if app != nil {
				_ = app.Close()
			}
			if closer != nil {
				_ = closer.Close()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context())
		},
	}

	// The same flags are read by config.LoadConfig; declaring them here
	// gives them long names and help text and keeps cobra from rejecting them.
	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "path to the JSON config file (or $"+config.ConfigEnv+")")
	pf.StringVarP(&cfg.ServerURL, "server", "a", cfg.ServerURL, "base URL of the planbook server")
	pf.StringVarP(&cfg.DatabasePath, "db", "d", cfg.DatabasePath, "path to the local SQLite database")
	pf.StringVarP(&cfg.LogFile, "log", "l", cfg.LogFile, "path to the log file")
	pf.DurationVarP(&cfg.OnlineCheckInterval, "online-check", "i", cfg.OnlineCheckInterval, "online check interval")
	pf.DurationVarP(&cfg.SyncInterval, "sync-interval", "p", cfg.SyncInterval, "periodic sync interval")
	pf.DurationVarP(&cfg.RequestTimeout, "timeout", "t", cfg.RequestTimeout, "timeout of a single server request")
	pf.IntVarP(&cfg.MaxAttempts, "max-attempts", "m", cfg.MaxAttempts, "park a change after this many failed sends (0 = never)")

	root.AddCommand(
		&cobra.Command{
			Use:   "sync",
			Short: "Run one sync pass and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				res := app.SyncOnce(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "%s: pushed %d, parked %d, pulled %d, applied %d\n",
					res.Status, res.Pushed, res.Parked, res.Pulled, res.Applied)
				if !res.OK() {
					return fmt.Errorf("sync %s: %s", res.Status, res.Error)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show sync status and queued changes",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return app.Status(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "token",
			Short: "Store the access token issued by the server administrator",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return app.Token(cmd.Context())
			},
		},
	)
	return root
}
