package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jirevwe/tablequeue/queue"
	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	createMessages = `CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL PRIMARY KEY,
			queue TEXT NOT NULL,
			body BLOB,
			headers BLOB,
			properties BLOB,
			priority INTEGER NOT NULL DEFAULT 0,
			published_at INTEGER NOT NULL,
			redelivered INTEGER NOT NULL DEFAULT 0,
			delayed_until INTEGER,
			time_to_live INTEGER,
			delivery_id TEXT,
			redeliver_after INTEGER
		) strict;`

	createClaimIndex = `CREATE INDEX IF NOT EXISTS idx_messages_claim
		ON messages (queue, priority DESC, published_at, id);`

	createDeliveryIndex = `CREATE INDEX IF NOT EXISTS idx_messages_delivery_id
		ON messages (delivery_id);`
)

const (
	selectAvailable = `select id from messages
		where queue in (?)
		and (delivery_id is null or redeliver_after < ?)
		and (delayed_until is null or delayed_until <= ?)
		order by priority desc, published_at asc, id asc
		limit 1;`

	// the where clause repeats the availability check so a stale candidate is never double claimed
	markDelivered = `update messages
		set delivery_id = ?, redeliver_after = ?, redelivered = (delivery_id is not null or redelivered)
		where id = ? and (delivery_id is null or redeliver_after < ?);`

	selectClaimed = `select * from messages where delivery_id = ? and id = ?;`

	insertMessage = `insert into messages (id, queue, body, headers, properties, priority, published_at, redelivered, delayed_until, time_to_live)
		values (:id, :queue, :body, :headers, :properties, :priority, :published_at, :redelivered, :delayed_until, :time_to_live);`

	deleteClaimed = `delete from messages where id = ? and delivery_id = ?;`

	releaseClaimed = `update messages set delivery_id = null, redeliver_after = null, redelivered = 1
		where id = ? and delivery_id = ?;`

	removeExpired = `delete from messages
		where time_to_live is not null and time_to_live < ?
		and delivery_id is null and redelivered = 0;`
)

const (
	busyRetries  = 5
	busyInterval = 20 * time.Millisecond

	// expired messages are purged at most this often
	purgeInterval = time.Second
)

// Ensure *Sqlite implements queue.Store at compile time.
var _ queue.Store = (*Sqlite)(nil)

type Sqlite struct {
	logger *slog.Logger
	db     *sqlx.DB
	clock  queue.Clock

	mu          sync.Mutex
	lastPurgeAt time.Time
}

type Option func(*Sqlite)

// WithClock replaces the clock used to evaluate claim expiry, delays and TTLs.
func WithClock(c queue.Clock) Option {
	return func(s *Sqlite) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewSqlite(dbPath string, logger *slog.Logger, opts ...Option) (*Sqlite, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	// _txlock=immediate takes the write lock on BEGIN so competing claimants queue on busy_timeout
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate", dbPath))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec("PRAGMA journal_size_limit = 67108864;")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec("PRAGMA cache_size = 2000;")
	if err != nil {
		return nil, err
	}

	s := &Sqlite{db: db, logger: logger, clock: queue.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range []string{createMessages, createClaimIndex, createDeliveryIndex} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// ClaimNext picks the first available row of queues and marks it as delivered to deliveryID
func (s *Sqlite) ClaimNext(ctx context.Context, queues []string, deliveryID string, redeliveryDelay time.Duration) (id string, ok bool, err error) {
	if len(queues) == 0 {
		return "", false, nil
	}

	now := s.clock.Now()
	if err = s.removeExpiredMessages(ctx, now); err != nil {
		return "", false, err
	}

	nowMs := queue.ToMillis(now)
	query, args, err := sqlx.In(selectAvailable, queues, nowMs, nowMs)
	if err != nil {
		return "", false, err
	}
	query = s.db.Rebind(query)

	err = s.withBusyRetry(func() error {
		id, ok = "", false

		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			var candidate string
			if getErr := tx.GetContext(ctx, &candidate, query, args...); getErr != nil {
				if errors.Is(getErr, sql.ErrNoRows) {
					return nil
				}
				return getErr
			}

			res, execErr := tx.ExecContext(ctx, markDelivered, deliveryID, nowMs+redeliveryDelay.Milliseconds(), candidate, nowMs)
			if execErr != nil {
				return execErr
			}

			n, execErr := res.RowsAffected()
			if execErr != nil {
				return execErr
			}

			if n == 1 {
				id, ok = candidate, true
			}
			return nil
		})
	})

	return id, ok, err
}

// FetchClaimed loads the row claimed by deliveryID
func (s *Sqlite) FetchClaimed(ctx context.Context, deliveryID, id string) (row queue.Row, err error) {
	err = s.db.GetContext(ctx, &row, selectClaimed, deliveryID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("message %s under delivery %s: %w", id, deliveryID, queue.ErrNoRow)
	}
	return row, err
}

// Get loads a row regardless of its claim state
func (s *Sqlite) Get(ctx context.Context, id string) (row queue.Row, err error) {
	err = s.db.GetContext(ctx, &row, `select * from messages where id = ?;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("message %s: %w", id, queue.ErrNoRow)
	}
	return row, err
}

// Push puts an item on a queue
func (s *Sqlite) Push(ctx context.Context, row queue.Row) error {
	return s.withBusyRetry(func() error {
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.NamedExecContext(ctx, insertMessage, row)
			return err
		})
	})
}

// Delete removes a claimed message, typically once it has been acknowledged
func (s *Sqlite) Delete(ctx context.Context, id, deliveryID string) (bool, error) {
	return s.execClaimed(ctx, deleteClaimed, id, deliveryID)
}

// Release hands a claimed message back to the pool
func (s *Sqlite) Release(ctx context.Context, id, deliveryID string) (bool, error) {
	return s.execClaimed(ctx, releaseClaimed, id, deliveryID)
}

// Purge clears the contents of a queue
func (s *Sqlite) Purge(ctx context.Context, queueName string) error {
	return s.withBusyRetry(func() error {
		_, err := s.db.ExecContext(ctx, `delete from messages where queue = ?;`, queueName)
		return err
	})
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}

func (s *Sqlite) execClaimed(ctx context.Context, query, id, deliveryID string) (affected bool, err error) {
	err = s.withBusyRetry(func() error {
		res, execErr := s.db.ExecContext(ctx, query, id, deliveryID)
		if execErr != nil {
			return execErr
		}

		n, execErr := res.RowsAffected()
		if execErr != nil {
			return execErr
		}

		affected = n > 0
		return nil
	})

	return affected, err
}

func (s *Sqlite) removeExpiredMessages(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	if !s.lastPurgeAt.IsZero() && now.Sub(s.lastPurgeAt) < purgeInterval {
		s.mu.Unlock()
		return nil
	}
	s.lastPurgeAt = now
	s.mu.Unlock()

	return s.withBusyRetry(func() error {
		res, err := s.db.ExecContext(ctx, removeExpired, queue.ToMillis(now))
		if err != nil {
			return err
		}

		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("removed expired messages", "count", n)
		}
		return nil
	})
}

func (s *Sqlite) withBusyRetry(fn func() error) error {
	return queue.NewRetry(busyRetries, busyInterval, isBusy, fn).Do()
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func (s *Sqlite) inTx(ctx context.Context, cb func(*sqlx.Tx) error) (err error) {
	tx, beginErr := s.db.BeginTxx(ctx, nil)
	if beginErr != nil {
		return fmt.Errorf("cannot start tx: %w", beginErr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = rollback(tx, nil)
			panic(rec)
		}
	}()

	if err = cb(tx); err != nil {
		return rollback(tx, err)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("cannot commit tx: %w", commitErr)
	}

	return nil
}

func rollback(tx *sqlx.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return fmt.Errorf("cannot roll back tx after error (tx error: %v), original error: %w", rollbackErr, err)
	}
	return err
}
