package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jirevwe/tablequeue"
	"github.com/jirevwe/tablequeue/pool"
)

func newConsumeCommand(cfg *Config) *cobra.Command {
	var (
		queues  []string
		workers uint
		timeout time.Duration
		ack     bool
	)

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume messages from one or more queues",
		Long: `Runs consume sessions that claim messages from the given queues, print them
and optionally acknowledge them. Unacknowledged messages are redelivered once
the redelivery delay has passed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(queues) == 0 {
				return errors.New("at least one --queue is required")
			}
			if workers == 0 {
				return errors.New("--workers must be at least 1")
			}
			queues = uniqueQueues(queues)

			ctx := cmd.Context()
			client, logger, err := openClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			if cfg.MetricsAddr != "" {
				srv := newMetricsServer(cfg.MetricsAddr)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", "error", err)
					}
				}()
				defer shutdown(srv, logger)
			}

			callback := printer(logger, ack)

			p := pool.NewWorkerPool(workers, workers, logger)
			p.Start()

			for i := uint(0); i < workers; i++ {
				sc := client.CreateSubscriptionConsumer()
				for _, q := range queues {
					if err = sc.Subscribe(client.CreateConsumer(q), callback); err != nil {
						_ = p.Stop()
						return err
					}
				}

				task := tablequeue.NewConsumeTask(ctx, sc, timeout)
				task.Repeat = timeout == 0
				if err = p.AddWork(task); err != nil {
					_ = p.Stop()
					return err
				}
			}

			// returns once every session has ended
			return p.Stop()
		},
	}

	cmd.Flags().StringSliceVarP(&queues, "queue", "q", nil, "queue to consume, repeatable")
	cmd.Flags().UintVarP(&workers, "workers", "w", 1, "number of concurrent consume sessions")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "end each session after this long, 0 runs until interrupted")
	cmd.Flags().BoolVar(&ack, "ack", false, "acknowledge messages after printing them")
	cmd.Flags().DurationVar(&cfg.RedeliveryDelay, "redelivery-delay", cfg.RedeliveryDelay, "how long a claim holds before redelivery")
	cmd.Flags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "sleep after a pass that claimed nothing")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve /metrics and /healthz on this address")

	return cmd
}

// uniqueQueues drops repeated --queue values, keeping the first occurrence.
func uniqueQueues(queues []string) []string {
	seen := make(map[string]struct{}, len(queues))
	out := make([]string, 0, len(queues))
	for _, q := range queues {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

func printer(logger *slog.Logger, ack bool) tablequeue.CallbackFunc {
	return func(ctx context.Context, msg *tablequeue.Message, consumer *tablequeue.Consumer) tablequeue.Result {
		logger.Info("message received",
			"queue", msg.Queue(),
			"id", msg.Id(),
			"redelivered", msg.Redelivered(),
			"headers", msg.Headers(),
			"body", string(msg.Body()),
		)

		if ack {
			if err := consumer.Acknowledge(ctx, msg); err != nil {
				logger.Error("cannot acknowledge message", "id", msg.Id(), "error", err)
			}
		}

		return tablequeue.Continue
	}
}

func newMetricsServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}
}
