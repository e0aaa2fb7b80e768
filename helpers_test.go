package tablequeue

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jirevwe/tablequeue/queue"
	"github.com/jirevwe/tablequeue/queue/sqlite"
	"github.com/stretchr/testify/require"
)

var slogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

// newTestClient opens a client over a fresh SQLite database. A non-nil clock
// drives both the store and the client.
func newTestClient(t *testing.T, clock queue.Clock) (*Client, *sqlite.Sqlite) {
	t.Helper()

	var opts []sqlite.Option
	if clock != nil {
		opts = append(opts, sqlite.WithClock(clock))
	}

	store, err := sqlite.NewSqlite(filepath.Join(t.TempDir(), "tablequeue.db"), slogger, opts...)
	require.NoError(t, err)

	client, err := NewClient(&Config{Store: store, Logger: slogger, Clock: clock})
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })
	return client, store
}

func sendOne(t *testing.T, c *Client, queueName, body string) string {
	t.Helper()

	id, err := c.Send(context.Background(), queueName, NewMessage([]byte(body)))
	require.NoError(t, err)
	return id
}

// recorder is a pointer callback that records every message it sees and
// stops the session after stopAfter messages when stopAfter > 0.
type recorder struct {
	mu        sync.Mutex
	messages  []*Message
	times     []time.Time
	stopAfter int
	ack       bool
}

func (r *recorder) Handle(ctx context.Context, msg *Message, consumer *Consumer) Result {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.times = append(r.times, time.Now())
	n := len(r.messages)
	r.mu.Unlock()

	if r.ack {
		if err := consumer.Acknowledge(ctx, msg); err != nil {
			panic(err)
		}
	}

	if r.stopAfter > 0 && n >= r.stopAfter {
		return Stop
	}
	return Continue
}

func (r *recorder) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, string(m.Body()))
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// fakeStore lets tests script the storage layer.
type fakeStore struct {
	mu         sync.Mutex
	claimCalls int
	claimErr   error
	fetchErr   error
	claimed    []string
	row        queue.Row
}

var _ queue.Store = (*fakeStore)(nil)

func (f *fakeStore) ClaimNext(_ context.Context, queues []string, deliveryID string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.claimCalls++
	if f.claimErr != nil {
		return "", false, f.claimErr
	}

	if f.row.Id == "" {
		return "", false, nil
	}
	f.row.DeliveryId.String, f.row.DeliveryId.Valid = deliveryID, true
	f.claimed = append(f.claimed, f.row.Id)
	return f.row.Id, true, nil
}

func (f *fakeStore) FetchClaimed(context.Context, string, string) (queue.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.row, f.fetchErr
}

func (f *fakeStore) Push(context.Context, queue.Row) error { return nil }

func (f *fakeStore) Delete(context.Context, string, string) (bool, error) { return true, nil }

func (f *fakeStore) Release(context.Context, string, string) (bool, error) { return true, nil }

func (f *fakeStore) Purge(context.Context, string) error { return nil }

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimCalls
}

func newFakeClient(t *testing.T, store *fakeStore) *Client {
	t.Helper()

	client, err := NewClient(&Config{Store: store, Logger: slogger})
	require.NoError(t, err)
	return client
}
