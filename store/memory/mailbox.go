package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mediator/store"
)

// partition holds one mailbox's items behind its own lock.
type partition struct {
	mu      sync.Mutex
	keyHash []byte
	items   map[string]store.Item
	next    uint64
}

// partitionHandle is the store.Partition returned by OpenPartition.
type partitionHandle struct {
	s *Store
	p *partition
}

// CreatePartition allocates a new partition protected by creds.
func (s *Store) CreatePartition(_ context.Context, cfg store.PartitionConfig, creds store.Credentials) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if cfg.ID == "" {
		return store.ErrInvalidID
	}

	hash, err := store.HashCredentials(creds, s.hashCost)
	if err != nil {
		return err
	}

	p := &partition{keyHash: hash, items: make(map[string]store.Item)}
	if _, loaded := s.partitions.LoadOrStore(cfg.ID, p); loaded {
		return store.ErrDuplicateEntry
	}
	return nil
}

// OpenPartition returns a handle to an existing partition after checking creds.
func (s *Store) OpenPartition(_ context.Context, cfg store.PartitionConfig, creds store.Credentials) (store.Partition, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		return nil, store.ErrInvalidID
	}

	v, ok := s.partitions.Load(cfg.ID)
	if !ok {
		return nil, store.ErrNotFound
	}
	p := v.(*partition)
	if err := store.VerifyCredentials(p.keyHash, creds); err != nil {
		return nil, err
	}
	return &partitionHandle{s: s, p: p}, nil
}

// AddMailbox persists a mailbox record.
func (s *Store) AddMailbox(_ context.Context, mb store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if mb.ID == "" {
		return store.ErrInvalidID
	}
	if mb.CreatedAt.IsZero() {
		mb.CreatedAt = time.Now().UTC()
	}
	if _, loaded := s.mailboxes.LoadOrStore(mb.ID, mb); loaded {
		return store.ErrDuplicateEntry
	}
	return nil
}

// GetMailbox returns a mailbox record.
func (s *Store) GetMailbox(_ context.Context, id string) (store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return store.Mailbox{}, err
	}
	if id == "" {
		return store.Mailbox{}, store.ErrInvalidID
	}
	v, ok := s.mailboxes.Load(id)
	if !ok {
		return store.Mailbox{}, store.ErrNotFound
	}
	return v.(store.Mailbox), nil
}

// Append assigns the next sequence under the partition lock and stores the item.
func (h *partitionHandle) Append(_ context.Context, payload []byte) (store.Item, error) {
	if err := h.s.checkConnected(); err != nil {
		return store.Item{}, err
	}

	h.p.mu.Lock()
	defer h.p.mu.Unlock()

	h.p.next++
	item := store.Item{
		ID:        uuid.New().String(),
		Payload:   slices.Clone(payload),
		Sequence:  h.p.next,
		CreatedAt: time.Now().UTC(),
	}
	h.p.items[item.ID] = item
	return cloneItem(item), nil
}

// List returns copies of all items. Map iteration order is random.
func (h *partitionHandle) List(_ context.Context) ([]store.Item, error) {
	if err := h.s.checkConnected(); err != nil {
		return nil, err
	}

	h.p.mu.Lock()
	defer h.p.mu.Unlock()

	items := make([]store.Item, 0, len(h.p.items))
	for _, item := range h.p.items {
		items = append(items, cloneItem(item))
	}
	return items, nil
}

// Delete removes an item; missing items are ignored.
func (h *partitionHandle) Delete(_ context.Context, itemID string) error {
	if err := h.s.checkConnected(); err != nil {
		return err
	}
	if itemID == "" {
		return store.ErrInvalidID
	}

	h.p.mu.Lock()
	defer h.p.mu.Unlock()

	delete(h.p.items, itemID)
	return nil
}

func cloneItem(item store.Item) store.Item {
	item.Payload = slices.Clone(item.Payload)
	return item
}
