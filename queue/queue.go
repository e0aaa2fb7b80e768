package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNoRow is returned by FetchClaimed when no row carries the given claim.
var ErrNoRow = errors.New("no claimed row")

// Store is the durable table the consumption engine polls. Implementations
// must make ClaimNext safe under concurrent callers: a row claimed by one
// delivery id is never handed out again until its claim expires.
type Store interface {
	// ClaimNext marks the next available row in one of queues as delivered to
	// deliveryID until now+redeliveryDelay and returns its id. ok is false when
	// nothing is available.
	ClaimNext(ctx context.Context, queues []string, deliveryID string, redeliveryDelay time.Duration) (id string, ok bool, err error)

	// FetchClaimed loads the full row claimed by deliveryID.
	FetchClaimed(ctx context.Context, deliveryID, id string) (Row, error)

	// Push inserts a row
	Push(ctx context.Context, row Row) error

	// Delete removes a claimed row, it reports false when the claim was lost
	Delete(ctx context.Context, id, deliveryID string) (bool, error)

	// Release clears a claim so the row becomes available immediately
	Release(ctx context.Context, id, deliveryID string) (bool, error)

	// Purge removes every row of a queue
	Purge(ctx context.Context, queueName string) error

	Close() error
}

// Row is a message as it is persisted in the messages table. Times are unix
// milliseconds.
type Row struct {
	Id             string         `json:"id" db:"id"`
	Queue          string         `json:"queue" db:"queue"`
	Body           []byte         `json:"body" db:"body"`
	Headers        []byte         `json:"headers" db:"headers"`
	Properties     []byte         `json:"properties" db:"properties"`
	Priority       int64          `json:"priority" db:"priority"`
	PublishedAt    int64          `json:"published_at" db:"published_at"`
	Redelivered    bool           `json:"redelivered" db:"redelivered"`
	DelayedUntil   sql.NullInt64  `json:"delayed_until" db:"delayed_until"`
	TimeToLive     sql.NullInt64  `json:"time_to_live" db:"time_to_live"`
	DeliveryId     sql.NullString `json:"delivery_id" db:"delivery_id"`
	RedeliverAfter sql.NullInt64  `json:"redeliver_after" db:"redeliver_after"`
}

// Available reports whether the row can be claimed at now.
func (r *Row) Available(now time.Time) bool {
	ms := ToMillis(now)
	if r.DelayedUntil.Valid && r.DelayedUntil.Int64 > ms {
		return false
	}

	return !r.DeliveryId.Valid || (r.RedeliverAfter.Valid && r.RedeliverAfter.Int64 < ms)
}

// ClaimExpiresAt returns the instant the current claim lapses, or the zero
// time for an unclaimed row.
func (r *Row) ClaimExpiresAt() time.Time {
	if !r.RedeliverAfter.Valid {
		return time.Time{}
	}
	return FromMillis(r.RedeliverAfter.Int64)
}

// ToMillis converts t to unix milliseconds.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NullMillis maps the zero time to NULL.
func NullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ToMillis(t), Valid: true}
}
