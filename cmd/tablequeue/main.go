package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jirevwe/tablequeue"
	"github.com/jirevwe/tablequeue/queue"
	"github.com/jirevwe/tablequeue/queue/postgres"
	"github.com/jirevwe/tablequeue/queue/sqlite"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:          "tablequeue",
		Short:        "Message queues stored in a relational table",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Driver, "driver", cfg.Driver, "storage driver: sqlite or postgres")
	flags.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database file")
	flags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres connection string")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	root.AddCommand(
		newConsumeCommand(cfg),
		newSendCommand(cfg),
		newPurgeCommand(cfg),
	)

	return root
}

// openClient validates cfg after flag parsing and opens the configured store.
func openClient(ctx context.Context, cfg *Config) (*tablequeue.Client, *slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	var (
		store queue.Store
		err   error
	)
	switch cfg.Driver {
	case "postgres":
		store, err = postgres.Connect(ctx, cfg.DatabaseURL)
	default:
		store, err = sqlite.NewSqlite(cfg.DBPath, logger)
	}
	if err != nil {
		return nil, nil, err
	}

	client, err := tablequeue.NewClient(&tablequeue.Config{
		Store:           store,
		Logger:          logger,
		RedeliveryDelay: cfg.RedeliveryDelay,
		PollInterval:    cfg.PollInterval,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	return client, logger, nil
}
