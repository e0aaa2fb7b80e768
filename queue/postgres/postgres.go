package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jirevwe/tablequeue/queue"
)

// Ensure *PostgresStore implements queue.Store at compile time.
var _ queue.Store = (*PostgresStore)(nil)

type PostgresStore struct {
	pool  *pgxpool.Pool
	clock queue.Clock
}

func New(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, clock: queue.NewRealClock()}
}

// Connect opens a pool for dsn and makes sure the messages table exists.
func Connect(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open pool: %w", err)
	}

	p := New(pool)
	if err = p.CreateTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return p, nil
}

// WithClock replaces the clock used for claim expiry.
func (p *PostgresStore) WithClock(c queue.Clock) *PostgresStore {
	p.clock = c
	return p
}

// SQL templates
const (
	sqlCreateTable = `
CREATE TABLE IF NOT EXISTS messages (
  id              TEXT PRIMARY KEY,
  queue           TEXT NOT NULL,
  body            BYTEA,
  headers         BYTEA,
  properties      BYTEA,
  priority        BIGINT NOT NULL DEFAULT 0,
  published_at    BIGINT NOT NULL,
  redelivered     BOOLEAN NOT NULL DEFAULT FALSE,
  delayed_until   BIGINT,
  time_to_live    BIGINT,
  delivery_id     TEXT,
  redeliver_after BIGINT
);
CREATE INDEX IF NOT EXISTS idx_messages_claim ON messages (queue, priority DESC, published_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_delivery_id ON messages (delivery_id);`

	// Single statement claim: pick -> lock (skipping rows other sessions hold) -> update
	sqlClaim = `
UPDATE messages m
SET delivery_id     = $1,
    redeliver_after = $2,
    redelivered     = (m.delivery_id IS NOT NULL OR m.redelivered)
WHERE m.id = (
  SELECT id
  FROM messages
  WHERE queue = ANY($3)
    AND (delivery_id IS NULL OR redeliver_after < $4)
    AND (delayed_until IS NULL OR delayed_until <= $4)
  ORDER BY priority DESC, published_at ASC, id ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
RETURNING m.id;`

	sqlSelectClaimed = `
SELECT id, queue, body, headers, properties, priority, published_at, redelivered,
       delayed_until, time_to_live, delivery_id, redeliver_after
FROM messages
WHERE delivery_id = $1 AND id = $2;`

	sqlInsert = `
INSERT INTO messages (id, queue, body, headers, properties, priority, published_at, redelivered, delayed_until, time_to_live)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	sqlDelete = `DELETE FROM messages WHERE id = $1 AND delivery_id = $2;`

	sqlRelease = `
UPDATE messages
SET delivery_id = NULL, redeliver_after = NULL, redelivered = TRUE
WHERE id = $1 AND delivery_id = $2;`

	sqlPurge = `DELETE FROM messages WHERE queue = $1;`

	sqlRemoveExpired = `
DELETE FROM messages
WHERE time_to_live IS NOT NULL AND time_to_live < $1
  AND delivery_id IS NULL AND redelivered = FALSE;`
)

func (p *PostgresStore) CreateTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, sqlCreateTable)
	if err != nil {
		return fmt.Errorf("cannot create messages table: %w", err)
	}
	return nil
}

// ClaimNext leases the next available row of queues to deliveryID.
func (p *PostgresStore) ClaimNext(ctx context.Context, queues []string, deliveryID string, redeliveryDelay time.Duration) (string, bool, error) {
	if len(queues) == 0 {
		return "", false, nil
	}

	now := queue.ToMillis(p.clock.Now())

	if _, err := p.pool.Exec(ctx, sqlRemoveExpired, now); err != nil {
		return "", false, fmt.Errorf("remove expired: %w", err)
	}

	var id string
	err := p.pool.QueryRow(ctx, sqlClaim, deliveryID, now+redeliveryDelay.Milliseconds(), queues, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return id, true, nil
}

// FetchClaimed loads the row deliveryID holds.
func (p *PostgresStore) FetchClaimed(ctx context.Context, deliveryID, id string) (queue.Row, error) {
	var r queue.Row
	// NOTE: column order must match sqlSelectClaimed.
	err := p.pool.QueryRow(ctx, sqlSelectClaimed, deliveryID, id).Scan(
		&r.Id,
		&r.Queue,
		&r.Body,
		&r.Headers,
		&r.Properties,
		&r.Priority,
		&r.PublishedAt,
		&r.Redelivered,
		&r.DelayedUntil,
		&r.TimeToLive,
		&r.DeliveryId,
		&r.RedeliverAfter,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, fmt.Errorf("message %s under delivery %s: %w", id, deliveryID, queue.ErrNoRow)
	}
	return r, err
}

// Push inserts a row.
func (p *PostgresStore) Push(ctx context.Context, r queue.Row) error {
	_, err := p.pool.Exec(ctx, sqlInsert,
		r.Id,
		r.Queue,
		r.Body,
		r.Headers,
		r.Properties,
		r.Priority,
		r.PublishedAt,
		r.Redelivered,
		r.DelayedUntil,
		r.TimeToLive,
	)
	return err
}

// Delete removes the row if deliveryID still holds it.
func (p *PostgresStore) Delete(ctx context.Context, id, deliveryID string) (bool, error) {
	ct, err := p.pool.Exec(ctx, sqlDelete, id, deliveryID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// Release makes the row available again if deliveryID still holds it.
func (p *PostgresStore) Release(ctx context.Context, id, deliveryID string) (bool, error) {
	ct, err := p.pool.Exec(ctx, sqlRelease, id, deliveryID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (p *PostgresStore) Purge(ctx context.Context, queueName string) error {
	_, err := p.pool.Exec(ctx, sqlPurge, queueName)
	return err
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
