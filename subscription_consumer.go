package tablequeue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jirevwe/tablequeue/metrics"
	"github.com/jirevwe/tablequeue/queue"
)

// SubscriptionConsumer polls the queues of its registry and dispatches every
// claimed message to the callback subscribed to its queue.
type SubscriptionConsumer struct {
	store    queue.Store
	registry *Registry
	logger   *slog.Logger

	// nanoseconds, may be changed while a session runs
	redeliveryDelay atomic.Int64
	pollInterval    time.Duration
	newDeliveryId   func() (string, error)
}

func newSubscriptionConsumer(store queue.Store, logger *slog.Logger, redeliveryDelay, pollInterval time.Duration, newDeliveryId func() (string, error)) *SubscriptionConsumer {
	s := &SubscriptionConsumer{
		store:         store,
		registry:      NewRegistry(),
		logger:        logger,
		pollInterval:  pollInterval,
		newDeliveryId: newDeliveryId,
	}
	s.redeliveryDelay.Store(int64(redeliveryDelay))

	return s
}

// RedeliveryDelay is how long a claimed message stays invisible to other
// sessions before it can be delivered again.
func (s *SubscriptionConsumer) RedeliveryDelay() time.Duration {
	return time.Duration(s.redeliveryDelay.Load())
}

// SetRedeliveryDelay applies to claims made after the call.
func (s *SubscriptionConsumer) SetRedeliveryDelay(d time.Duration) {
	s.redeliveryDelay.Store(int64(d))
}

func (s *SubscriptionConsumer) Subscribe(c QueueConsumer, cb Callback) error {
	return s.registry.Subscribe(c, cb)
}

func (s *SubscriptionConsumer) Unsubscribe(c QueueConsumer) error {
	return s.registry.Unsubscribe(c)
}

func (s *SubscriptionConsumer) UnsubscribeAll() {
	s.registry.UnsubscribeAll()
}

// Registry exposes the subscriptions of this engine.
func (s *SubscriptionConsumer) Registry() *Registry {
	return s.registry
}

// Consume claims and dispatches messages one at a time until a callback
// returns Stop, the timeout elapses or ctx is done. A zero timeout never
// elapses. Each pass over the subscribed queues serves every queue at most
// once; a pass that claims nothing is followed by a poll interval of sleep.
//
// Stop and timeout return nil. Storage errors end the session and are
// returned as a *StorageError.
func (s *SubscriptionConsumer) Consume(ctx context.Context, timeout time.Duration) error {
	if s.registry.IsEmpty() {
		return ErrNoSubscribers
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	deliveryId, err := s.newDeliveryId()
	if err != nil {
		return fmt.Errorf("cannot generate delivery id: %w", err)
	}

	// queues subscribed later are picked up by the next session
	queueNames := newQueueSet(s.registry.QueueNames())
	current := newQueueSet(nil)

	log := s.logger.With("delivery_id", deliveryId)
	log.Info("consume session started", "queues", queueNames.sorted(), "timeout", timeout)

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	for {
		if err = ctx.Err(); err != nil {
			return err
		}

		if len(current) == 0 {
			current = queueNames.clone()
		}

		msg, err := s.claim(ctx, deliveryId, current.sorted())
		if err != nil {
			log.Error("consume session aborted", "error", err)
			return err
		}

		if msg != nil {
			sub, ok := s.registry.lookup(msg.Queue())
			if !ok {
				// the queue was unsubscribed while the session was running
				if err = s.release(ctx, msg); err != nil {
					return err
				}

				delete(queueNames, msg.Queue())
				delete(current, msg.Queue())
				if len(queueNames) == 0 {
					return ErrNoSubscribers
				}
				continue
			}

			if s.dispatch(ctx, log, sub, msg) == Stop {
				log.Info("consume session stopped by callback", "queue", msg.Queue(), "message_id", msg.Id())
				return nil
			}

			delete(current, msg.Queue())
		} else {
			current = newQueueSet(nil)
			metrics.IdlePolls.Inc()

			if err = sleep(ctx, s.pollInterval); err != nil {
				return err
			}
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			log.Info("consume session timed out")
			return nil
		}
	}
}

// claim marks the next available message of queueNames as delivered to
// deliveryId, then loads it under the claim.
func (s *SubscriptionConsumer) claim(ctx context.Context, deliveryId string, queueNames []string) (*Message, error) {
	id, ok, err := s.store.ClaimNext(ctx, queueNames, deliveryId, s.RedeliveryDelay())
	if err != nil {
		return nil, storageError("claim", err)
	}

	if !ok {
		return nil, nil
	}

	row, err := s.store.FetchClaimed(ctx, deliveryId, id)
	if err != nil {
		return nil, storageError("fetch", err)
	}

	msg, err := messageFromRow(row)
	if err != nil {
		return nil, storageError("decode", err)
	}

	metrics.MessagesClaimed.WithLabelValues(msg.Queue()).Inc()
	if msg.Redelivered() {
		metrics.MessagesRedelivered.WithLabelValues(msg.Queue()).Inc()
	}

	return msg, nil
}

func (s *SubscriptionConsumer) dispatch(ctx context.Context, log *slog.Logger, sub subscription, msg *Message) Result {
	log.Debug("dispatching message", "queue", msg.Queue(), "message_id", msg.Id(), "redelivered", msg.Redelivered())

	start := time.Now()
	result := sub.callback.Handle(ctx, msg, sub.consumer)
	metrics.CallbackDuration.WithLabelValues(msg.Queue()).Observe(time.Since(start).Seconds())

	return result
}

func (s *SubscriptionConsumer) release(ctx context.Context, msg *Message) error {
	if _, err := s.store.Release(ctx, msg.Id(), msg.DeliveryId()); err != nil {
		return storageError("release", err)
	}

	s.logger.Warn("released message of an unsubscribed queue", "queue", msg.Queue(), "message_id", msg.Id())
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// newDeliveryId returns a time based UUID.
func newDeliveryId() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type queueSet map[string]struct{}

func newQueueSet(names []string) queueSet {
	set := make(queueSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (q queueSet) clone() queueSet {
	out := make(queueSet, len(q))
	for name := range q {
		out[name] = struct{}{}
	}
	return out
}

func (q queueSet) sorted() []string {
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
