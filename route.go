package mediator

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mediator/store"
)

// RouteRegistry maps relay keys to mailboxes.
type RouteRegistry interface {
	// AddRoute binds relayKey to mailboxID. An existing binding is replaced.
	AddRoute(ctx context.Context, relayKey, mailboxID string) error
	// FindRoute returns the mailbox bound to relayKey.
	// Returns ErrRouteNotFound if there is none.
	FindRoute(ctx context.Context, relayKey string) (string, error)
}

// AddRoute binds relayKey to mailboxID, last writer wins.
// A rebind to a different mailbox is logged at Warn level.
func (s *service) AddRoute(ctx context.Context, relayKey, mailboxID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if relayKey == "" || mailboxID == "" {
		return ErrInvalidID
	}

	previous, err := s.routes.AddRoute(ctx, relayKey, mailboxID)
	if err != nil {
		return fmt.Errorf("add route: %w", err)
	}
	if previous != "" && previous != mailboxID {
		s.logger.Warn("relay key rebound to a different mailbox",
			"relay_key", relayKey,
			"mailbox_id", mailboxID,
			"previous_mailbox_id", previous,
		)
	} else {
		s.logger.Debug("route added", "relay_key", relayKey, "mailbox_id", mailboxID)
	}

	publish(ctx, s, "RouteAdded", s.events.RouteAdded, RouteAddedEvent{
		RelayKey:  relayKey,
		MailboxID: mailboxID,
		Previous:  previous,
		AddedAt:   time.Now().UTC(),
	})
	return nil
}

// FindRoute resolves relayKey.
func (s *service) FindRoute(ctx context.Context, relayKey string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	return s.findRoute(ctx, relayKey)
}

func (s *service) findRoute(ctx context.Context, relayKey string) (string, error) {
	if relayKey == "" {
		return "", ErrInvalidID
	}

	mailboxID, err := s.routes.FindRoute(ctx, relayKey)
	if err != nil {
		if store.IsNotFound(err) {
			return "", ErrRouteNotFound
		}
		return "", fmt.Errorf("find route: %w", err)
	}
	return mailboxID, nil
}
