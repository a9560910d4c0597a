// Package gcs provides a Google Cloud Storage-backed BlobStore.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/rbaliyan/mediator/store"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Store implements store.BlobStore using Google Cloud Storage.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ store.BlobStore = (*Store)(nil)

// New creates a GCS blob store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := &options{
		prefix: "backups",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	clientOpts, err := buildClientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &Store{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

func buildClientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil:
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{cloudPlatformScope},
			CredentialsJSON: o.credentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from json: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{cloudPlatformScope},
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Put writes content under key. The write is conditioned on the object not
// existing; a lost race surfaces as store.ErrDuplicateEntry.
func (s *Store) Put(ctx context.Context, key, contentType string, content io.Reader) error {
	if key == "" {
		return store.ErrInvalidID
	}
	name := s.objectName(key)

	obj := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, content); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy content to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) && gErr.Code == http.StatusPreconditionFailed {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("close gcs writer: %w", err)
	}

	s.logger.Debug("stored blob in gcs", "bucket", s.bucket, "object", name)
	return nil
}

// Get returns a reader for the object. The caller must close it.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("create gcs reader: %w", err)
	}
	return r, nil
}

// List walks the bucket listing lazily; the client fetches pages on demand.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		base := s.objectName("")
		it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.objectName(prefix)})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("list gcs objects: %w", err))
				return
			}
			if !yield(strings.TrimPrefix(attrs.Name, base), nil) {
				return
			}
		}
	}
}

// Close closes the GCS client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + key
}
