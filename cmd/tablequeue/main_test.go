package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jirevwe/tablequeue/queue"
	"github.com/jirevwe/tablequeue/queue/sqlite"
)

func testConfig(t *testing.T) *Config {
	t.Helper()

	return &Config{
		Driver:          "sqlite",
		DBPath:          filepath.Join(t.TempDir(), "cli.db"),
		RedeliveryDelay: time.Minute,
		PollInterval:    50 * time.Millisecond,
		LogLevel:        "error",
	}
}

func run(t *testing.T, cfg *Config, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand(cfg)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func TestSendPrintsMessageId(t *testing.T) {
	cfg := testConfig(t)

	id, err := run(t, cfg, "send", "--queue", "orders", "--body", "hello", "-H", "trace=abc")
	require.NoError(t, err)
	require.Len(t, id, 26)
}

func TestSendRejectsMalformedHeader(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "send", "--queue", "orders", "--body", "hello", "-H", "trace")
	require.ErrorContains(t, err, "invalid header")
}

func TestSendRequiresQueue(t *testing.T) {
	_, err := run(t, testConfig(t), "send", "--body", "hello")
	require.ErrorContains(t, err, "--queue is required")
}

// storedRow reads a message straight from the CLI's database.
func storedRow(t *testing.T, cfg *Config, id string) (queue.Row, error) {
	t.Helper()

	store, err := sqlite.NewSqlite(cfg.DBPath, nil)
	require.NoError(t, err)
	defer store.Close()

	return store.Get(context.Background(), id)
}

func TestConsumeAcknowledgesMessages(t *testing.T) {
	cfg := testConfig(t)

	id, err := run(t, cfg, "send", "--queue", "orders", "--body", "hello")
	require.NoError(t, err)

	_, err = run(t, cfg, "consume", "--queue", "orders", "--timeout", "300ms", "--ack")
	require.NoError(t, err)

	_, err = storedRow(t, cfg, id)
	require.ErrorIs(t, err, queue.ErrNoRow)
}

func TestConsumeWithoutAckLeavesMessageClaimed(t *testing.T) {
	cfg := testConfig(t)

	id, err := run(t, cfg, "send", "--queue", "orders", "--body", "hello")
	require.NoError(t, err)

	_, err = run(t, cfg, "consume", "--queue", "orders", "--timeout", "300ms")
	require.NoError(t, err)

	row, err := storedRow(t, cfg, id)
	require.NoError(t, err)
	require.True(t, row.DeliveryId.Valid)
}

func TestConsumeIgnoresRepeatedQueues(t *testing.T) {
	cfg := testConfig(t)

	id, err := run(t, cfg, "send", "--queue", "orders", "--body", "hello")
	require.NoError(t, err)

	_, err = run(t, cfg, "consume", "-q", "orders", "-q", "orders", "--timeout", "300ms", "--ack")
	require.NoError(t, err)

	_, err = storedRow(t, cfg, id)
	require.ErrorIs(t, err, queue.ErrNoRow)
}

func TestUniqueQueues(t *testing.T) {
	require.Equal(t, []string{"orders", "emails"}, uniqueQueues([]string{"orders", "emails", "orders"}))
}

func TestPurge(t *testing.T) {
	cfg := testConfig(t)

	purged, err := run(t, cfg, "send", "--queue", "orders", "--body", "hello")
	require.NoError(t, err)
	kept, err := run(t, cfg, "send", "--queue", "emails", "--body", "hello")
	require.NoError(t, err)

	_, err = run(t, cfg, "purge", "--queue", "orders")
	require.NoError(t, err)

	_, err = storedRow(t, cfg, purged)
	require.ErrorIs(t, err, queue.ErrNoRow)

	row, err := storedRow(t, cfg, kept)
	require.NoError(t, err)
	require.False(t, row.DeliveryId.Valid)
}

func TestInvalidDriver(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "purge", "--queue", "orders", "--driver", "mysql")
	require.ErrorContains(t, err, "invalid driver")
}
