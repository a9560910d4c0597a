package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rbaliyan/mediator/store"
)

// deviceSet holds the devices of one mailbox.
type deviceSet struct {
	mu   sync.RWMutex
	byID map[string]store.Device
}

// AddDevice registers a device, rejecting duplicates per mailbox.
func (s *Store) AddDevice(_ context.Context, d store.Device) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if d.ID == "" || d.MailboxID == "" {
		return store.ErrInvalidID
	}
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = time.Now().UTC()
	}

	set := s.getDeviceSet(d.MailboxID)
	set.mu.Lock()
	defer set.mu.Unlock()

	if _, exists := set.byID[d.ID]; exists {
		return store.ErrDuplicateEntry
	}
	set.byID[d.ID] = d.Clone()
	return nil
}

// ListDevices returns a snapshot of the mailbox's devices in registration order.
func (s *Store) ListDevices(_ context.Context, mailboxID string) ([]store.Device, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if mailboxID == "" {
		return nil, store.ErrInvalidID
	}

	v, ok := s.devices.Load(mailboxID)
	if !ok {
		return nil, nil
	}
	set := v.(*deviceSet)
	set.mu.RLock()
	defer set.mu.RUnlock()

	devices := make([]store.Device, 0, len(set.byID))
	for _, d := range set.byID {
		devices = append(devices, d.Clone())
	}
	slices.SortFunc(devices, func(a, b store.Device) int {
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return devices, nil
}
