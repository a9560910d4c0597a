package mongo

import (
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Default configuration values.
const (
	DefaultDatabase         = "mediator"
	DefaultCollectionPrefix = ""
	DefaultTimeout          = 10 * time.Second
)

// options holds MongoDB store configuration.
type options struct {
	database string
	prefix   string
	timeout  time.Duration
	hashCost int
	logger   *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database: DefaultDatabase,
		prefix:   DefaultCollectionPrefix,
		timeout:  DefaultTimeout,
		hashCost: bcrypt.DefaultCost,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollectionPrefix prefixes every collection name.
func WithCollectionPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
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
