package backup

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/mediator/retry"
)

const (
	// DefaultPrefix is the blob key prefix for backup versions.
	DefaultPrefix = "backups"

	// DefaultMaxWriteAttempts bounds timestamp bumps when a version key is taken.
	DefaultMaxWriteAttempts = 8
)

type options struct {
	prefix           string
	logger           *slog.Logger
	now              func() time.Time
	maxWriteAttempts int
	readPolicy       retry.Policy
}

// Option configures a backup Store.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:           DefaultPrefix,
		logger:           slog.Default(),
		now:              time.Now,
		maxWriteAttempts: DefaultMaxWriteAttempts,
		readPolicy:       retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithPrefix sets the blob key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for version timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxWriteAttempts bounds how many timestamps StoreBackup tries when
// another writer already holds the chosen version key.
func WithMaxWriteAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWriteAttempts = n
		}
	}
}

// WithReadPolicy sets the retry policy for blob reads.
func WithReadPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.readPolicy = p
	}
}
