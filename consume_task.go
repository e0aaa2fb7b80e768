package tablequeue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jirevwe/tablequeue/pool"
)

var _ pool.Task = (*ConsumeTask)(nil)

// ConsumeTask runs consume sessions of a SubscriptionConsumer on a pool
// worker. With Repeat set, a session that ends on timeout or Stop is
// followed by a new one until ctx is done.
type ConsumeTask struct {
	ctx     context.Context
	sc      *SubscriptionConsumer
	timeout time.Duration
	Repeat  bool
	log     *slog.Logger
}

func NewConsumeTask(ctx context.Context, sc *SubscriptionConsumer, timeout time.Duration) *ConsumeTask {
	return &ConsumeTask{
		ctx:     ctx,
		sc:      sc,
		timeout: timeout,
		log:     sc.logger,
	}
}

func (t *ConsumeTask) Execute() error {
	for {
		err := t.sc.Consume(t.ctx, t.timeout)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		if err != nil || !t.Repeat {
			return err
		}
	}
}

func (t *ConsumeTask) OnFailure(err error) {
	t.log.Error("consume task failed", "error", err)
}
