package postgres

import (
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Default configuration values.
const (
	DefaultTablePrefix = "mediator_"
	DefaultTimeout     = 10 * time.Second
)

// options holds PostgreSQL store configuration.
type options struct {
	prefix   string
	timeout  time.Duration
	hashCost int
	logger   *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:   DefaultTablePrefix,
		timeout:  DefaultTimeout,
		hashCost: bcrypt.DefaultCost,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithTablePrefix sets the prefix of every table name.
func WithTablePrefix(prefix string) Option {
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

// WithHashCost sets the bcrypt cost for partition credentials.
func WithHashCost(cost int) Option {
	return func(o *options) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			o.hashCost = cost
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
