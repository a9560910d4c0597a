// Package bolt provides a BlobStore backed by a local bbolt database file.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/rbaliyan/mediator/store"
	"go.etcd.io/bbolt"
)

var (
	bucketBlobs        = []byte("blobs")
	bucketContentTypes = []byte("content_types")
)

// listPageSize bounds how many keys one read transaction collects during List.
const listPageSize = 256

var _ store.BlobStore = (*Store)(nil)

// Store implements store.BlobStore using bbolt.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool
}

// Option configures a bolt blob store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNoSync disables fsync per transaction. Use only in tests.
func WithNoSync(noSync bool) Option {
	return func(s *Store) {
		s.noSync = noSync
	}
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  s.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBlobs, bucketContentTypes} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Debug("opened blob database", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put writes content under key inside a single update transaction.
// Returns store.ErrDuplicateEntry if key exists.
func (s *Store) Put(_ context.Context, key, contentType string, content io.Reader) error {
	if key == "" {
		return store.ErrInvalidID
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("reading content: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		blobs := tx.Bucket(bucketBlobs)
		k := []byte(key)
		if blobs.Get(k) != nil {
			return store.ErrDuplicateEntry
		}
		if err := blobs.Put(k, data); err != nil {
			return fmt.Errorf("putting blob: %w", err)
		}
		if contentType != "" {
			if err := tx.Bucket(bucketContentTypes).Put(k, []byte(contentType)); err != nil {
				return fmt.Errorf("putting content type: %w", err)
			}
		}
		return nil
	})
}

// Get returns a reader over a copy of the stored blob.
func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketBlobs).Get([]byte(key))
		if val == nil {
			return store.ErrNotFound
		}
		// bbolt values are only valid for the life of the transaction.
		data = bytes.Clone(val)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// List yields keys with prefix in byte order. Keys are read in pages, each
// page in its own read transaction, and yielded outside the transaction so a
// slow consumer never holds the database open.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		p := []byte(prefix)
		var after []byte

		for {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			page := make([]string, 0, listPageSize)
			err := s.db.View(func(tx *bbolt.Tx) error {
				c := tx.Bucket(bucketBlobs).Cursor()
				var k []byte
				if after == nil {
					k, _ = c.Seek(p)
				} else {
					k, _ = c.Seek(after)
					if k != nil && bytes.Equal(k, after) {
						k, _ = c.Next()
					}
				}
				for ; k != nil && bytes.HasPrefix(k, p) && len(page) < listPageSize; k, _ = c.Next() {
					page = append(page, string(k))
				}
				return nil
			})
			if err != nil {
				yield("", err)
				return
			}

			for _, k := range page {
				if !yield(k, nil) {
					return
				}
			}
			if len(page) < listPageSize {
				return
			}
			after = []byte(page[len(page)-1])
		}
	}
}
