package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/planbook/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Only the flags listed here are picked out of os.Args (see flagx.FilterArgs),
// so cobra sub-commands and their own flags pass through untouched.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-l", "-i", "-p", "-t", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the planbook server")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path to the local SQLite database")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "path to the log file")
	fs.DurationVar(&cfg.OnlineCheckInterval, "i", cfg.OnlineCheckInterval, "online check interval")
	fs.DurationVar(&cfg.SyncInterval, "p", cfg.SyncInterval, "periodic sync interval")
	fs.DurationVar(&cfg.RequestTimeout, "t", cfg.RequestTimeout, "timeout of a single server request")
	fs.IntVar(&cfg.MaxAttempts, "m", cfg.MaxAttempts, "park an outbox item after this many failed sends (0 = never)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
