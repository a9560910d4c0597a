package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mediator/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AddDevice inserts a device. The unique (mailbox_id, device_id) index rejects duplicates.
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

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.devices.InsertOne(ctx, deviceToDoc(d)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
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

	opts := mongoopts.Find().SetSort(bson.D{{Key: "registered_at", Value: 1}})
	cursor, err := s.devices.Find(ctx, bson.M{"mailbox_id": mailboxID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []deviceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}

	devices := make([]store.Device, 0, len(docs))
	for i := range docs {
		devices = append(devices, docs[i].toDevice())
	}
	return devices, nil
}
