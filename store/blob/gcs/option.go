package gcs

import (
	"log/slog"
)

type options struct {
	bucket string
	prefix string

	// Emulators and tests
	endpoint string

	// Mutually exclusive; Application Default Credentials when none is set.
	credentialsJSON []byte
	credentialsFile string
	apiKey          string

	logger *slog.Logger
}

// Option configures the GCS blob store.
type Option func(*options)

// WithBucket sets the bucket name (required).
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix sets the object name prefix. Default is "backups".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithEndpoint sets a custom endpoint.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithCredentialsJSON uses a service account key held in memory.
func WithCredentialsJSON(json []byte) Option {
	return func(o *options) {
		o.credentialsJSON = json
	}
}

// WithCredentialsFile uses a service account key file.
func WithCredentialsFile(path string) Option {
	return func(o *options) {
		o.credentialsFile = path
	}
}

// WithAPIKey authenticates with an API key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
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
