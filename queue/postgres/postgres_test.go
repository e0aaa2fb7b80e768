package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/jirevwe/tablequeue/queue"
)

// newTestStore connects to TABLEQUEUE_POSTGRES_DSN and skips when it is unset.
func newTestStore(t *testing.T) (*PostgresStore, *queue.SimulatedClock) {
	t.Helper()

	dsn := os.Getenv("TABLEQUEUE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TABLEQUEUE_POSTGRES_DSN not set")
	}

	p, err := Connect(context.Background(), dsn)
	require.NoError(t, err)

	clock := queue.NewSimulatedClock(time.Now())
	p.WithClock(clock)

	t.Cleanup(func() { _ = p.Close() })
	return p, clock
}

func TestPostgresStore_ClaimAndRedeliver(t *testing.T) {
	ctx := context.Background()
	p, clock := newTestStore(t)

	queueName := "pg_" + ulid.Make().String()
	t.Cleanup(func() { _ = p.Purge(ctx, queueName) })

	id := ulid.Make().String()
	require.NoError(t, p.Push(ctx, queue.Row{
		Id:          id,
		Queue:       queueName,
		Body:        []byte("hello"),
		PublishedAt: queue.ToMillis(clock.Now()),
	}))

	claimed, ok, err := p.ClaimNext(ctx, []string{queueName}, "d1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, claimed)

	row, err := p.FetchClaimed(ctx, "d1", id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), row.Body)
	require.False(t, row.Redelivered)

	_, ok, err = p.ClaimNext(ctx, []string{queueName}, "d2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	clock.Advance(time.Minute + time.Millisecond)
	claimed, ok, err = p.ClaimNext(ctx, []string{queueName}, "d2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, claimed)

	row, err = p.FetchClaimed(ctx, "d2", id)
	require.NoError(t, err)
	require.True(t, row.Redelivered)

	deleted, err := p.Delete(ctx, id, "d1")
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = p.Delete(ctx, id, "d2")
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestPostgresStore_Release(t *testing.T) {
	ctx := context.Background()
	p, clock := newTestStore(t)

	queueName := "pg_" + ulid.Make().String()
	t.Cleanup(func() { _ = p.Purge(ctx, queueName) })

	id := ulid.Make().String()
	require.NoError(t, p.Push(ctx, queue.Row{Id: id, Queue: queueName, PublishedAt: queue.ToMillis(clock.Now())}))

	_, ok, err := p.ClaimNext(ctx, []string{queueName}, "d1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := p.Release(ctx, id, "d1")
	require.NoError(t, err)
	require.True(t, released)

	claimed, ok, err := p.ClaimNext(ctx, []string{queueName}, "d2", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, claimed)
}
