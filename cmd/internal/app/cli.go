package app

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// CLI builds the latch command tree. Every command reads its configuration from LATCH_*
// environment variables.
func CLI() *cli.App {
	return &cli.App{
		Name:    "latch",
		Usage:   "account registration, sign-in and password reset service",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			purgeCommand(),
			versionCommand(),
		},
		DefaultCommand: "serve",
	}
}

// Run is the process entrypoint used by cmd/latch.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(args []string) error {
	return CLI().Run(args)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the expiry sweeper",
		Action: func(c *cli.Context) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

			ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := New(ctx, cfg, log)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply embedded schema migrations to the configured store",
		Action: func(c *cli.Context) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			driver, err := cfg.StoreDriver()
			if err != nil {
				return err
			}
			if driver == StoreMemory {
				return cli.Exit("migrate: no persistent store configured (set LATCH_DATABASE_URL or LATCH_SQLITE_PATH)", 2)
			}
			log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

			ctx, cancel := context.WithTimeout(c.Context, 2*time.Minute)
			defer cancel()

			st, err := OpenStore(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			_, _ = fmt.Fprintf(c.App.Writer, "migrations applied (%s)\n", driver)
			return nil
		},
	}
}

func purgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete expired pending signups and password reset tokens once",
		Action: func(c *cli.Context) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

			ctx, cancel := context.WithTimeout(c.Context, time.Minute)
			defer cancel()

			svc, err := NewServices(ctx, cfg, log, nil, false)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Store.Close() }()

			res, err := svc.Accounts.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			return printPurge(c.App.Writer, res.PendingSignups, res.ResetTokens)
		},
	}
}

func printPurge(w io.Writer, pending, resets int64) error {
	_, err := fmt.Fprintf(w, "purged pending_signups=%d reset_tokens=%d\n", pending, resets)
	return err
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer, "latch %s\n", c.App.Version)
			return err
		},
	}
}
