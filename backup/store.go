// Package backup keeps versioned attachment snapshots on top of a BlobStore.
//
// Every StoreBackup writes a new immutable blob at
//
//	<prefix>/<escaped backup id>/<20-digit timestamp>
//
// so versions sort by timestamp and can be fetched by exact key. Timestamps
// are Unix milliseconds, strictly increasing per backup id within a process.
// Writers in other processes are kept apart by the blob store's no-overwrite
// Put: a taken key bumps the timestamp and the write is retried.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rbaliyan/mediator/retry"
	"github.com/rbaliyan/mediator/store"
)

const contentType = "application/json"

var _ store.BackupStore = (*Store)(nil)

// Store implements store.BackupStore.
type Store struct {
	blobs  store.BlobStore
	opts   *options
	logger *slog.Logger

	mu   sync.Mutex
	last map[string]int64 // backupID -> last timestamp issued by this process
}

// New creates a backup store over blobs.
func New(blobs store.BlobStore, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		blobs:  blobs,
		opts:   o,
		logger: o.logger,
		last:   make(map[string]int64),
	}
}

// StoreBackup appends a new version and returns its timestamp.
func (s *Store) StoreBackup(ctx context.Context, backupID string, attachments []store.Attachment) (int64, error) {
	if backupID == "" {
		return 0, store.ErrInvalidID
	}
	if attachments == nil {
		attachments = []store.Attachment{}
	}

	ts := s.nextTimestamp(backupID, 0)
	for attempt := 1; ; attempt++ {
		body, err := json.Marshal(store.BackupVersion{
			BackupID:    backupID,
			Timestamp:   ts,
			Attachments: attachments,
		})
		if err != nil {
			return 0, fmt.Errorf("encode backup version: %w", err)
		}

		err = s.blobs.Put(ctx, s.versionKey(backupID, ts), contentType, bytes.NewReader(body))
		if err == nil {
			s.logger.Debug("stored backup version", "backup_id", backupID, "timestamp", ts,
				"attachments", len(attachments))
			return ts, nil
		}
		if !store.IsDuplicateEntry(err) || attempt >= s.opts.maxWriteAttempts {
			return 0, fmt.Errorf("store backup version: %w", err)
		}
		ts = s.nextTimestamp(backupID, ts)
	}
}

// RetrieveBackup returns the attachments of the newest version.
func (s *Store) RetrieveBackup(ctx context.Context, backupID string) ([]store.Attachment, error) {
	if backupID == "" {
		return nil, store.ErrInvalidID
	}

	latest, found := int64(0), false
	for id, err := range s.ListBackups(ctx, backupID) {
		if err != nil {
			return nil, err
		}
		ts, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		if !found || ts > latest {
			latest, found = ts, true
		}
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return s.RetrieveBackupAt(ctx, backupID, latest)
}

// RetrieveBackupAt returns the attachments of the version stored at exactly timestamp.
func (s *Store) RetrieveBackupAt(ctx context.Context, backupID string, timestamp int64) ([]store.Attachment, error) {
	if backupID == "" {
		return nil, store.ErrInvalidID
	}
	if timestamp < 0 {
		return nil, store.ErrNotFound
	}

	key := s.versionKey(backupID, timestamp)
	body, err := retry.Do(ctx, s.opts.readPolicy, func(ctx context.Context) ([]byte, error) {
		r, err := s.blobs.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read backup version: %w", err)
	}

	var v store.BackupVersion
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode backup version %s: %w", key, err)
	}
	return v.Attachments, nil
}

// ListBackups yields the timestamps of every version as decimal strings.
// Each call starts a fresh enumeration of the blob store.
func (s *Store) ListBackups(ctx context.Context, backupID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if backupID == "" {
			yield("", store.ErrInvalidID)
			return
		}
		prefix := s.backupPrefix(backupID)
		for key, err := range s.blobs.List(ctx, prefix) {
			if err != nil {
				yield("", err)
				return
			}
			ts, ok := parseVersion(strings.TrimPrefix(key, prefix))
			if !ok {
				s.logger.Warn("skipping unrecognized backup blob", "key", key)
				continue
			}
			if !yield(strconv.FormatInt(ts, 10), nil) {
				return
			}
		}
	}
}

// nextTimestamp returns a timestamp greater than both the last one issued for
// backupID and floor, using the clock when it is ahead.
func (s *Store) nextTimestamp(backupID string, floor int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.opts.now().UnixMilli()
	if prev := max(s.last[backupID], floor); ts <= prev {
		ts = prev + 1
	}
	s.last[backupID] = ts
	return ts
}

func (s *Store) backupPrefix(backupID string) string {
	return s.opts.prefix + "/" + url.PathEscape(backupID) + "/"
}

func (s *Store) versionKey(backupID string, ts int64) string {
	return fmt.Sprintf("%s%020d", s.backupPrefix(backupID), ts)
}

func parseVersion(name string) (int64, bool) {
	if len(name) != 20 {
		return 0, false
	}
	ts, err := strconv.ParseInt(name, 10, 64)
	if err != nil || ts < 0 {
		return 0, false
	}
	return ts, true
}
