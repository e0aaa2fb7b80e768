package tablequeue

import (
	"errors"
	"fmt"

	"github.com/jirevwe/tablequeue/metrics"
)

var (
	// ErrNoSubscribers is returned by Consume when nothing is subscribed.
	ErrNoSubscribers = errors.New("no subscribers")

	// ErrDuplicateSubscription matches a *DuplicateSubscriptionError.
	ErrDuplicateSubscription = errors.New("queue already has a subscriber")

	// ErrInvalidHandlerType is returned when the consumer passed to Subscribe
	// or Unsubscribe was not created by a Client.
	ErrInvalidHandlerType = errors.New("invalid handler type")

	// ErrNilCallback is returned by Subscribe for a nil callback.
	ErrNilCallback = errors.New("callback is nil")

	// ErrStorageFailure matches every *StorageError.
	ErrStorageFailure = errors.New("storage failure")

	// ErrClaimLost is returned when acknowledging or rejecting a message whose
	// claim expired and was taken over by another delivery.
	ErrClaimLost = errors.New("message is no longer claimed by this delivery")
)

type DuplicateSubscriptionError struct {
	Queue string
}

func (e *DuplicateSubscriptionError) Error() string {
	return fmt.Sprintf("there is a consumer subscribed to queue %q", e.Queue)
}

func (e *DuplicateSubscriptionError) Is(target error) bool {
	return target == ErrDuplicateSubscription
}

// StorageError wraps an error returned by the queue.Store. Op names the
// storage operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

func storageError(op string, err error) error {
	metrics.StorageErrors.WithLabelValues(op).Inc()
	return &StorageError{Op: op, Err: err}
}
