// Package redis provides a Redis implementation of store.RouteStore.
//
// Each binding is a plain string key "<prefix><relay key>" holding the
// mailbox id. AddRoute uses SET ... GET so the previous binding is
// returned by the same command that replaces it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/mediator/store"
	"github.com/redis/go-redis/v9"
)

// Compile-time check
var _ store.RouteStore = (*Store)(nil)

// Default configuration values.
const (
	DefaultKeyPrefix = "mediator:route:"
	DefaultTimeout   = 5 * time.Second
)

type options struct {
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Redis route store.
type Option func(*options)

// WithKeyPrefix sets the prefix of every route key.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Store implements store.RouteStore on Redis.
type Store struct {
	client    redis.UniversalClient
	opts      options
	connected int32
}

// New creates a route store over client. The caller owns the client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	o := options{prefix: DefaultKeyPrefix, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{client: client, opts: o}
}

// Connect pings the server.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("redis: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("redis ping: %w", err)
	}
	s.opts.logger.Info("connected to Redis route store", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func (s *Store) key(relayKey string) string {
	return s.opts.prefix + relayKey
}

// AddRoute replaces the binding and returns the previous mailbox id.
func (s *Store) AddRoute(ctx context.Context, relayKey, mailboxID string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if relayKey == "" || mailboxID == "" {
		return "", store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	prev, err := s.client.SetArgs(ctx, s.key(relayKey), mailboxID, redis.SetArgs{Get: true}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("add route: %w", err)
	}
	return prev, nil
}

// FindRoute returns the mailbox bound to relayKey.
func (s *Store) FindRoute(ctx context.Context, relayKey string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if relayKey == "" {
		return "", store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	mailboxID, err := s.client.Get(ctx, s.key(relayKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("find route: %w", err)
	}
	return mailboxID, nil
}
