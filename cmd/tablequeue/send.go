package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jirevwe/tablequeue"
)

func newSendCommand(cfg *Config) *cobra.Command {
	var (
		queueName string
		body      string
		headers   []string
		priority  int64
		delay     time.Duration
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish a message on a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if queueName == "" {
				return errors.New("--queue is required")
			}

			client, _, err := openClient(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			msg := tablequeue.NewMessage([]byte(body)).
				WithPriority(priority).
				WithDelay(delay).
				WithTimeToLive(ttl)

			for _, h := range headers {
				key, value, ok := strings.Cut(h, "=")
				if !ok {
					return fmt.Errorf("invalid header %q, expected key=value", h)
				}
				msg.WithHeader(key, value)
			}

			id, err := client.Send(cmd.Context(), queueName, msg)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "queue to publish on")
	cmd.Flags().StringVarP(&body, "body", "b", "", "message body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "header as key=value, repeatable")
	cmd.Flags().Int64Var(&priority, "priority", 0, "higher values are claimed first")
	cmd.Flags().DurationVar(&delay, "delay", 0, "keep the message invisible for this long")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "drop the message if unclaimed after this long")

	return cmd
}

func newPurgeCommand(cfg *Config) *cobra.Command {
	var queueName string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove every message of a queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if queueName == "" {
				return errors.New("--queue is required")
			}

			client, _, err := openClient(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			return client.Purge(cmd.Context(), queueName)
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "queue to purge")

	return cmd
}
