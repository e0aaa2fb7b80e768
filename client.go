package tablequeue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/jirevwe/tablequeue/metrics"
	"github.com/jirevwe/tablequeue/queue"
	"github.com/jirevwe/tablequeue/queue/sqlite"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultRedeliveryDelay is how long a claim holds before the message is redelivered.
	DefaultRedeliveryDelay = 20 * time.Minute

	// DefaultPollInterval is how long a consume loop sleeps after a pass that claimed nothing.
	DefaultPollInterval = 200 * time.Millisecond
)

type Config struct {
	// Store is the table backing the queues. When nil a SQLite store is
	// opened at DBPath.
	Store  queue.Store
	DBPath string

	Logger *slog.Logger

	// Clock stamps published messages, it should match the store's clock.
	Clock queue.Clock

	RedeliveryDelay time.Duration
	PollInterval    time.Duration

	// NewDeliveryId generates the claim token of a consume session.
	NewDeliveryId func() (string, error)
}

// Client is the entry point to a table backed queue: it creates consumers and
// subscription consumers and publishes messages.
type Client struct {
	cfg    Config
	store  queue.Store
	logger *slog.Logger
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	if cfg.Store == nil {
		if cfg.DBPath == "" {
			return nil, errors.New("either a store or a database path is required")
		}

		s, err := sqlite.NewSqlite(cfg.DBPath, cfg.Logger)
		if err != nil {
			return nil, err
		}
		cfg.Store = s
	}

	if cfg.Clock == nil {
		cfg.Clock = queue.NewRealClock()
	}

	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = DefaultRedeliveryDelay
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.NewDeliveryId == nil {
		cfg.NewDeliveryId = newDeliveryId
	}

	return &Client{
		cfg:    *cfg,
		store:  cfg.Store,
		logger: cfg.Logger,
	}, nil
}

// CreateConsumer returns a new consumer bound to queueName. Every call returns
// a distinct consumer identity.
func (c *Client) CreateConsumer(queueName string) *Consumer {
	return newConsumer(queueName, c.store, c.logger)
}

// CreateSubscriptionConsumer returns a consumption engine with an empty registry.
func (c *Client) CreateSubscriptionConsumer() *SubscriptionConsumer {
	return newSubscriptionConsumer(c.store, c.logger, c.cfg.RedeliveryDelay, c.cfg.PollInterval, c.cfg.NewDeliveryId)
}

// Send publishes msg on queueName and returns the id it was stored under.
func (c *Client) Send(ctx context.Context, queueName string, msg *Message) (string, error) {
	id := ulid.Make().String()

	row, err := msg.toRow(id, queueName, c.cfg.Clock.Now())
	if err != nil {
		return "", err
	}

	if err = c.store.Push(ctx, row); err != nil {
		return "", storageError("push", err)
	}

	metrics.MessagesSent.WithLabelValues(queueName).Inc()
	return id, nil
}

// Purge removes every message of queueName, claimed or not.
func (c *Client) Purge(ctx context.Context, queueName string) error {
	if err := c.store.Purge(ctx, queueName); err != nil {
		return storageError("purge", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.store.Close()
}
