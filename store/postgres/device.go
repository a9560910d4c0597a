package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rbaliyan/mediator/store"
)

// deviceRow is the devices table row.
type deviceRow struct {
	MailboxID    string    `db:"mailbox_id"`
	DeviceID     string    `db:"device_id"`
	Vendor       string    `db:"vendor"`
	Metadata     []byte    `db:"metadata"`
	RegisteredAt time.Time `db:"registered_at"`
}

// AddDevice inserts a device. The primary key rejects duplicates.
func (s *Store) AddDevice(ctx context.Context, d store.Device) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if d.MailboxID == "" || d.ID == "" {
		return store.ErrInvalidID
	}
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = time.Now().UTC()
	}
	if d.Metadata == nil {
		d.Metadata = map[string]string{}
	}

	metadataJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (mailbox_id, device_id, vendor, metadata, registered_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.devices)
	if _, err := s.db.ExecContext(ctx, query, d.MailboxID, d.ID, d.Vendor, metadataJSON, d.RegisteredAt); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("add device: %w", err)
	}
	return nil
}

// ListDevices returns the devices registered for mailboxID in registration order.
func (s *Store) ListDevices(ctx context.Context, mailboxID string) ([]store.Device, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if mailboxID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rows []deviceRow
	query := fmt.Sprintf(`
		SELECT mailbox_id, device_id, vendor, metadata, registered_at
		FROM %s WHERE mailbox_id = $1 ORDER BY registered_at
	`, s.devices)
	if err := s.db.SelectContext(ctx, &rows, query, mailboxID); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	devices := make([]store.Device, 0, len(rows))
	for _, r := range rows {
		d := store.Device{ID: r.DeviceID, MailboxID: r.MailboxID, Vendor: r.Vendor, RegisteredAt: r.RegisteredAt}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &d.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}
