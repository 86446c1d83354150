// Command planbook-server serves the planbook records API. The `token`
// sub-command issues an access token for a user id.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/planbook/internal/logging"
	"github.com/dmitrijs2005/planbook/internal/server"
	"github.com/dmitrijs2005/planbook/internal/server/auth"
	"github.com/dmitrijs2005/planbook/internal/server/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := newRootCmd(config.LoadConfig()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "planbook-server",
		Short:        "planbook sync server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.NewStdoutLogger()
			app, err := server.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error(cmd.Context(), err.Error())
				return err
			}
			defer app.Close()
			return app.Run(cmd.Context())
		},
	}

	// Mirrors the flags config.LoadConfig already parsed so cobra accepts them.
	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "path to the JSON config file (or $"+config.ConfigEnv+")")
	pf.StringVarP(&cfg.EndpointAddr, "address", "a", cfg.EndpointAddr, "HTTP listen address")
	pf.StringVarP(&cfg.DatabaseDSN, "dsn", "d", cfg.DatabaseDSN, "PostgreSQL DSN")
	pf.StringVarP(&cfg.SecretKey, "secret", "s", cfg.SecretKey, "JWT signing secret")
	pf.DurationVarP(&cfg.AccessTokenValidityDuration, "token-validity", "t", cfg.AccessTokenValidityDuration, "lifetime of issued tokens")

	var user string
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			tok, err := auth.GenerateToken(user, []byte(cfg.SecretKey), cfg.AccessTokenValidityDuration)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	tokenCmd.Flags().StringVarP(&user, "user", "u", "", "user id to issue the token for")
	root.AddCommand(tokenCmd)

	return root
}
