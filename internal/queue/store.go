// Package queue implements the Redis list queues and result mailboxes that
// connect the pipeline stages.
//
// Queues are Redis lists: producers LPUSH, consumers pop from the right, so
// items are consumed in FIFO order. Results are plain string keys
// ("{prefix}:{unique_id}") that the waiter reads and deletes. Every operation
// is a single Redis command and therefore atomic on the server.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPollInterval is how often [Store.Wait] re-checks a mailbox.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultResultTTL is how long an unclaimed result stays in Redis.
	DefaultResultTTL = 10 * time.Minute
)

var (
	// ErrEmpty is returned when a pop or take found nothing.
	ErrEmpty = errors.New("queue: empty")

	// ErrTimeout is returned by [Store.Wait] when no result arrived in time.
	ErrTimeout = errors.New("queue: timed out waiting for result")
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// DialTimeout bounds the initial ping. Defaults to 5s.
	DialTimeout time.Duration

	// ResultTTL expires results nobody took, e.g. after the waiter timed
	// out. Defaults to DefaultResultTTL.
	ResultTTL time.Duration
}

// Store is the queue and mailbox client. It is safe for concurrent use.
type Store struct {
	rdb       *redis.Client
	resultTTL time.Duration
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("queue: connect to redis at %s: %w", cfg.Addr, err)
	}
	slog.Info("queue: connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	s := NewFromClient(rdb)
	if cfg.ResultTTL > 0 {
		s.resultTTL = cfg.ResultTTL
	}
	return s, nil
}

// NewFromClient wraps an existing client. Results expire after
// [DefaultResultTTL].
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, resultTTL: DefaultResultTTL}
}

// Push appends payload to the head of queue (LPUSH).
func (s *Store) Push(ctx context.Context, queue, payload string) error {
	if err := s.rdb.LPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("queue: push %q: %w", queue, err)
	}
	return nil
}

// Pop removes and returns the oldest item of queue. A positive timeout blocks
// (BRPOP, whole seconds, at least one) until an item arrives; zero does a
// single non-blocking RPOP. [ErrEmpty] means nothing arrived.
func (s *Store) Pop(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		v, err := s.rdb.RPop(ctx, queue).Result()
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		if err != nil {
			return "", fmt.Errorf("queue: pop %q: %w", queue, err)
		}
		return v, nil
	}

	timeout = max(timeout.Truncate(time.Second), time.Second)
	res, err := s.rdb.BRPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("queue: pop %q: %w", queue, err)
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("queue: pop %q: unexpected reply of %d elements", queue, len(res))
	}
	return res[1], nil
}

// Len returns the number of items waiting in queue.
func (s *Store) Len(ctx context.Context, queue string) (int64, error) {
	n, err := s.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: len %q: %w", queue, err)
	}
	return n, nil
}

// Put stores a result under key (SET with the result TTL).
func (s *Store) Put(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, s.resultTTL).Err(); err != nil {
		return fmt.Errorf("queue: put %q: %w", key, err)
	}
	return nil
}

// Take reads and deletes the result under key. [ErrEmpty] means no result
// has been written yet.
func (s *Store) Take(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("queue: take %q: %w", key, err)
	}
	return v, nil
}

// Wait polls [Store.Take] on key every interval until a result arrives. It
// returns [ErrTimeout] once timeout has elapsed and the context error if ctx
// ends first. A non-positive interval selects [DefaultPollInterval]; a
// non-positive timeout waits until ctx ends.
func (s *Store) Wait(ctx context.Context, key string, interval, timeout time.Duration) (string, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := s.Take(ctx, key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrEmpty) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			slog.Warn("queue: mailbox poll failed", "key", key, "err", err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", fmt.Errorf("%w (%s after %s)", ErrTimeout, key, timeout)
		case <-ticker.C:
		}
	}
}

// Ping checks the Redis connection. It satisfies the health checker
// signature.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
