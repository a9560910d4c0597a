// Package memory provides an in-memory BlobStore for tests and single-process deployments.
package memory

import (
	"bytes"
	"context"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/rbaliyan/mediator/store"
)

var _ store.BlobStore = (*Store)(nil)

type object struct {
	contentType string
	data        []byte
}

// Store keeps blobs in a map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates an empty blob store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// Put stores content under key. Existing keys are never overwritten.
func (s *Store) Put(_ context.Context, key, contentType string, content io.Reader) error {
	if key == "" {
		return store.ErrInvalidID
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists {
		return store.ErrDuplicateEntry
	}
	s.objects[key] = object{contentType: contentType, data: data}
	return nil
}

// Get returns a reader over a copy of the blob.
func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(slices.Clone(obj.data))), nil
}

// List yields keys with prefix in lexical order from a snapshot taken
// when iteration starts.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.RLock()
		keys := make([]string, 0, len(s.objects))
		for k := range s.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		s.mu.RUnlock()
		slices.Sort(keys)

		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(k, nil) {
				return
			}
		}
	}
}
