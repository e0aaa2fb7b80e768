package tablequeue

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"unsafe"
)

// QueueConsumer is anything bound to a queue name. Only a *Consumer created
// by a Client can be subscribed.
type QueueConsumer interface {
	QueueName() string
}

type subscription struct {
	consumer *Consumer
	callback Callback
}

// Registry maps a queue name to the single consumer and callback subscribed to it.
type Registry struct {
	entries map[string]subscription
	mu      *sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]subscription),
		mu:      &sync.RWMutex{},
	}
}

// Subscribe registers cb for the queue of c. Subscribing the same consumer and
// callback again is a no-op, any other pair for an already subscribed queue
// fails with a *DuplicateSubscriptionError.
func (r *Registry) Subscribe(c QueueConsumer, cb Callback) error {
	consumer, err := asConsumer(c)
	if err != nil {
		return err
	}

	if isNilCallback(cb) {
		return ErrNilCallback
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := consumer.QueueName()
	if existing, ok := r.entries[name]; ok {
		if existing.consumer == consumer && sameCallback(existing.callback, cb) {
			return nil
		}
		return &DuplicateSubscriptionError{Queue: name}
	}

	r.entries[name] = subscription{consumer: consumer, callback: cb}
	return nil
}

// Unsubscribe removes the subscription of c's queue, but only when it was made
// with this very consumer. Unknown queues and other consumers are ignored.
func (r *Registry) Unsubscribe(c QueueConsumer) error {
	consumer, err := asConsumer(c)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := consumer.QueueName()
	if existing, ok := r.entries[name]; ok && existing.consumer == consumer {
		delete(r.entries, name)
	}
	return nil
}

func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]subscription)
}

func (r *Registry) IsEmpty() bool {
	return r.Len() == 0
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// QueueNames returns the subscribed queue names in sorted order.
func (r *Registry) QueueNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// lookup finds the subscription of a queue.
func (r *Registry) lookup(queueName string) (subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.entries[queueName]
	return s, ok
}

func asConsumer(c QueueConsumer) (*Consumer, error) {
	consumer, ok := c.(*Consumer)
	if !ok || consumer == nil {
		return nil, fmt.Errorf("%w: the consumer must be a *tablequeue.Consumer, got %T", ErrInvalidHandlerType, c)
	}
	return consumer, nil
}

func isNilCallback(cb Callback) bool {
	if cb == nil {
		return true
	}

	v := reflect.ValueOf(cb)
	switch v.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// sameCallback compares callbacks by identity. Function values are the same
// when they are the same closure, not merely the same code.
func sameCallback(a, b Callback) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}

	switch {
	case va.Kind() == reflect.Func:
		return funcValue(va) == funcValue(vb)
	case va.Type().Comparable():
		return a == b
	default:
		return false
	}
}

// funcValue returns the closure pointer held by a func value. Closures built
// by the same literal share code but not this pointer.
func funcValue(v reflect.Value) unsafe.Pointer {
	addressable := reflect.New(v.Type()).Elem()
	addressable.Set(v)
	return *(*unsafe.Pointer)(addressable.Addr().UnsafePointer())
}
