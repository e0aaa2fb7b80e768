package tablequeue

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/jirevwe/tablequeue/metrics"
	"github.com/jirevwe/tablequeue/queue"
)

// Consumer is bound to one queue. It is the identity a callback is subscribed
// with and the handle callbacks use to settle the messages they receive.
type Consumer struct {
	queueName string
	store     queue.Store
	logger    *slog.Logger
}

func newConsumer(queueName string, store queue.Store, logger *slog.Logger) *Consumer {
	return &Consumer{
		queueName: queueName,
		store:     store,
		logger:    logger,
	}
}

func (c *Consumer) QueueName() string { return c.queueName }

// Acknowledge removes a delivered message from the queue.
func (c *Consumer) Acknowledge(ctx context.Context, msg *Message) error {
	deleted, err := c.store.Delete(ctx, msg.Id(), msg.DeliveryId())
	if err != nil {
		return storageError("acknowledge", err)
	}

	if !deleted {
		return ErrClaimLost
	}

	metrics.MessagesAcked.WithLabelValues(c.queueName).Inc()
	c.logger.Debug("message acknowledged", "queue", c.queueName, "message_id", msg.Id())
	return nil
}

// Reject settles a delivered message without processing it. With requeue the
// claim is released and the message can be claimed again straight away,
// otherwise the message is removed.
func (c *Consumer) Reject(ctx context.Context, msg *Message, requeue bool) error {
	var (
		settled bool
		err     error
	)

	if requeue {
		settled, err = c.store.Release(ctx, msg.Id(), msg.DeliveryId())
	} else {
		settled, err = c.store.Delete(ctx, msg.Id(), msg.DeliveryId())
	}
	if err != nil {
		return storageError("reject", err)
	}

	if !settled {
		return ErrClaimLost
	}

	metrics.MessagesRejected.WithLabelValues(c.queueName, strconv.FormatBool(requeue)).Inc()
	c.logger.Debug("message rejected", "queue", c.queueName, "message_id", msg.Id(), "requeue", requeue)
	return nil
}
