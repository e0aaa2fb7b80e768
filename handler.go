package tablequeue

import "context"

// Result tells the consume loop what to do after a callback returns.
type Result int

const (
	// Continue keeps the consume loop polling.
	Continue Result = iota

	// Stop makes Consume return immediately.
	Stop
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// A Callback processes messages claimed from a subscribed queue.
//
// Handle is called inline by the consume loop with the message and the
// consumer it was subscribed with. The message stays claimed until it is
// acknowledged or rejected through the consumer, or until its claim expires
// and it is redelivered.
type Callback interface {
	Handle(context.Context, *Message, *Consumer) Result
}

// The CallbackFunc type is an adapter to allow the use of
// ordinary functions as a Callback. If f is a function
// with the appropriate signature, CallbackFunc(f) is a
// Callback that calls f.
type CallbackFunc func(context.Context, *Message, *Consumer) Result

// Handle calls fn(ctx, msg, consumer)
func (fn CallbackFunc) Handle(ctx context.Context, msg *Message, consumer *Consumer) Result {
	return fn(ctx, msg, consumer)
}
