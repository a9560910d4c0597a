package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mediator/store"
)

// AddRoute upserts the binding and returns the mailbox it replaced.
// The previous value is read in the same statement as the write.
func (s *Store) AddRoute(ctx context.Context, relayKey, mailboxID string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if relayKey == "" || mailboxID == "" {
		return "", store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		WITH prev AS (SELECT mailbox_id FROM %[1]s WHERE relay_key = $1 FOR UPDATE)
		INSERT INTO %[1]s (relay_key, mailbox_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (relay_key) DO UPDATE SET mailbox_id = EXCLUDED.mailbox_id, created_at = EXCLUDED.created_at
		RETURNING COALESCE((SELECT mailbox_id FROM prev), '')
	`, s.routes)

	var previous string
	if err := s.db.QueryRowxContext(ctx, query, relayKey, mailboxID, time.Now().UTC()).Scan(&previous); err != nil {
		return "", fmt.Errorf("add route: %w", err)
	}
	return previous, nil
}

// FindRoute returns the mailbox bound to relayKey.
func (s *Store) FindRoute(ctx context.Context, relayKey string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if relayKey == "" {
		return "", store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var mailboxID string
	query := fmt.Sprintf(`SELECT mailbox_id FROM %s WHERE relay_key = $1`, s.routes)
	if err := s.db.GetContext(ctx, &mailboxID, query, relayKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("find route: %w", err)
	}
	return mailboxID, nil
}
