// Package cached wraps a BlobStore with a local file cache for reads.
//
// Blobs written through a BlobStore are never overwritten, so a cached copy
// stays valid until it is evicted by TTL.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rbaliyan/mediator/store"
)

// Store wraps a store.BlobStore with local file caching of Get.
type Store struct {
	backend  store.BlobStore
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	cacheSize int64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

var _ store.BlobStore = (*Store)(nil)

// New creates a cached store wrapping backend.
func New(backend store.BlobStore, opts ...Option) (*Store, error) {
	o := &options{
		cacheDir: os.TempDir(),
		maxSize:  256 << 20,
		ttl:      24 * time.Hour,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	cacheDir := filepath.Join(o.cacheDir, "mediator-blobs")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Store{
		backend:  backend,
		cacheDir: cacheDir,
		maxSize:  o.maxSize,
		ttl:      o.ttl,
		logger:   o.logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.calculateCacheSize()

	if o.ttl > 0 {
		go s.cleanupLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Put writes through to the backend.
func (s *Store) Put(ctx context.Context, key, contentType string, content io.Reader) error {
	return s.backend.Put(ctx, key, contentType, content)
}

// Get serves key from the cache when a fresh copy exists, otherwise reads the
// backend and fills the cache as the caller reads.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	cachePath := filepath.Join(s.cacheDir, cacheKey(key))

	if info, err := os.Stat(cachePath); err == nil {
		if s.ttl <= 0 || time.Since(info.ModTime()) < s.ttl {
			if f, err := os.Open(cachePath); err == nil {
				s.logger.Debug("cache hit", "key", key)
				return f, nil
			}
		} else if os.Remove(cachePath) == nil {
			s.updateCacheSize(-info.Size())
		}
	}

	s.logger.Debug("cache miss", "key", key)
	reader, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.cacheAndRead(reader, cachePath), nil
}

// List is never cached.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return s.backend.List(ctx, prefix)
}

// ClearCache removes all cached files.
func (s *Store) ClearCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			_ = os.Remove(filepath.Join(s.cacheDir, entry.Name()))
		}
	}
	s.cacheSize = 0
	return nil
}

// Close stops the cleanup loop. Cached files are kept.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func cacheKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func (s *Store) cacheAndRead(source io.ReadCloser, cachePath string) io.ReadCloser {
	tmpFile, err := os.CreateTemp(s.cacheDir, "tmp-*")
	if err != nil {
		s.logger.Warn("failed to create temp file for caching", "error", err)
		return source
	}
	return &cachingReader{
		source:    source,
		tmpFile:   tmpFile,
		cachePath: cachePath,
		store:     s,
	}
}

// cachingReader copies everything read from source into a temp file and
// promotes it into the cache on Close when the source was fully drained.
type cachingReader struct {
	source    io.ReadCloser
	tmpFile   *os.File
	cachePath string
	store     *Store
	size      int64
	complete  bool
	writeErr  bool
	closed    bool
}

func (r *cachingReader) Read(p []byte) (int, error) {
	n, err := r.source.Read(p)
	if n > 0 && !r.writeErr {
		if _, werr := r.tmpFile.Write(p[:n]); werr != nil {
			r.store.logger.Warn("failed to write to cache", "error", werr)
			r.writeErr = true
		}
		r.size += int64(n)
	}
	if err == io.EOF {
		r.complete = true
	}
	return n, err
}

func (r *cachingReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	sourceErr := r.source.Close()
	tmpName := r.tmpFile.Name()

	if err := r.tmpFile.Close(); err != nil || !r.complete || r.writeErr {
		_ = os.Remove(tmpName)
		return sourceErr
	}

	if !r.store.hasSpace(r.size) {
		_ = os.Remove(tmpName)
		r.store.logger.Debug("cache full, not caching", "size", r.size)
		return sourceErr
	}
	if err := os.Rename(tmpName, r.cachePath); err != nil {
		_ = os.Remove(tmpName)
		r.store.logger.Warn("failed to move temp file to cache", "error", err)
		return sourceErr
	}
	r.store.updateCacheSize(r.size)
	return sourceErr
}

func (s *Store) hasSpace(size int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cacheSize+size <= s.maxSize
}

func (s *Store) updateCacheSize(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheSize += delta
	if s.cacheSize < 0 {
		s.cacheSize = 0
	}
}

func (s *Store) calculateCacheSize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var size int64
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		s.logger.Warn("failed to calculate cache size", "error", err)
		return
	}
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil && !info.IsDir() {
			size += info.Size()
		}
	}
	s.cacheSize = size
}

func (s *Store) cleanupLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *Store) cleanupExpired() {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		s.logger.Warn("failed to read cache dir for cleanup", "error", err)
		return
	}

	now := time.Now()
	var removed int
	var freed int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) <= s.ttl {
			continue
		}
		if os.Remove(filepath.Join(s.cacheDir, entry.Name())) == nil {
			removed++
			freed += info.Size()
		}
	}

	if removed > 0 {
		s.updateCacheSize(-freed)
		s.logger.Info("cache cleanup completed", "removed", removed, "freed_bytes", freed)
	}
}
