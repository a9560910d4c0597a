package memory

import (
	"context"
	"time"

	"github.com/rbaliyan/mediator/store"
)

type routeEntry struct {
	mailboxID string
	createdAt time.Time
}

// AddRoute binds relayKey to mailboxID and returns the previous binding.
func (s *Store) AddRoute(_ context.Context, relayKey, mailboxID string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if relayKey == "" || mailboxID == "" {
		return "", store.ErrInvalidID
	}

	entry := &routeEntry{mailboxID: mailboxID, createdAt: time.Now().UTC()}
	prev, loaded := s.routes.Swap(relayKey, entry)
	if !loaded {
		return "", nil
	}
	return prev.(*routeEntry).mailboxID, nil
}

// FindRoute returns the mailbox bound to relayKey.
func (s *Store) FindRoute(_ context.Context, relayKey string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if relayKey == "" {
		return "", store.ErrInvalidID
	}

	v, ok := s.routes.Load(relayKey)
	if !ok {
		return "", store.ErrNotFound
	}
	return v.(*routeEntry).mailboxID, nil
}
