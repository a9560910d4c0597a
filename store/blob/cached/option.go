package cached

import (
	"log/slog"
	"time"
)

type options struct {
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger
}

// Option configures the cached store.
type Option func(*options)

// WithCacheDir sets the parent directory for cached files.
// Default is the system temp directory.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.cacheDir = dir
		}
	}
}

// WithMaxSize sets the maximum cache size in bytes. Default is 256MB.
// Blobs that do not fit are served from the backend without being cached.
func WithMaxSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.maxSize = size
		}
	}
}

// WithTTL sets how long a cached blob is served before it is refetched.
// Default is 24 hours. Zero disables background cleanup.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
