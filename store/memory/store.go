// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/mediator/store"
	"golang.org/x/crypto/bcrypt"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	routes     sync.Map // map[string]*routeEntry (relayKey -> route)
	mailboxes  sync.Map // map[string]store.Mailbox
	partitions sync.Map // map[string]*partition
	devices    sync.Map // map[string]*deviceSet (mailboxID -> devices)
	hashCost   int
	connected  int32
}

// Option configures a memory store.
type Option func(*Store)

// WithHashCost sets the bcrypt cost used for partition credentials.
// Default is bcrypt.MinCost to keep tests fast.
func WithHashCost(cost int) Option {
	return func(s *Store) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.hashCost = cost
		}
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{hashCost: bcrypt.MinCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// getDeviceSet returns the device set for a mailbox, creating one if needed.
// Uses LoadOrStore for atomic get-or-create.
func (s *Store) getDeviceSet(mailboxID string) *deviceSet {
	set, _ := s.devices.LoadOrStore(mailboxID, &deviceSet{byID: make(map[string]store.Device)})
	return set.(*deviceSet)
}
