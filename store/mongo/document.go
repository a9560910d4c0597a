package mongo

import (
	"maps"
	"time"

	"github.com/rbaliyan/mediator/store"
)

type routeDoc struct {
	RelayKey  string    `bson:"_id"`
	MailboxID string    `bson:"mailbox_id"`
	CreatedAt time.Time `bson:"created_at"`
}

type mailboxDoc struct {
	ID          string    `bson:"_id"`
	PartitionID string    `bson:"partition_id"`
	StorageType string    `bson:"storage_type,omitempty"`
	InboxKey    string    `bson:"inbox_key"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d *mailboxDoc) toMailbox() store.Mailbox {
	return store.Mailbox{
		ID:          d.ID,
		Partition:   store.PartitionConfig{ID: d.PartitionID, StorageType: d.StorageType},
		Credentials: store.Credentials{Key: d.InboxKey},
		CreatedAt:   d.CreatedAt.UTC(),
	}
}

func mailboxToDoc(mb store.Mailbox) *mailboxDoc {
	return &mailboxDoc{
		ID:          mb.ID,
		PartitionID: mb.Partition.ID,
		StorageType: mb.Partition.StorageType,
		InboxKey:    mb.Credentials.Key,
		CreatedAt:   mb.CreatedAt,
	}
}

type partitionDoc struct {
	ID           string    `bson:"_id"`
	StorageType  string    `bson:"storage_type,omitempty"`
	KeyHash      []byte    `bson:"key_hash"`
	NextSequence int64     `bson:"next_sequence"`
	CreatedAt    time.Time `bson:"created_at"`
}

type itemDoc struct {
	ID          string    `bson:"_id"`
	PartitionID string    `bson:"partition_id"`
	Sequence    int64     `bson:"sequence"`
	Payload     []byte    `bson:"payload"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d *itemDoc) toItem() store.Item {
	return store.Item{
		ID:        d.ID,
		Payload:   d.Payload,
		Sequence:  uint64(d.Sequence),
		CreatedAt: d.CreatedAt.UTC(),
	}
}

type deviceDoc struct {
	MailboxID    string            `bson:"mailbox_id"`
	DeviceID     string            `bson:"device_id"`
	Vendor       string            `bson:"vendor,omitempty"`
	Metadata     map[string]string `bson:"metadata,omitempty"`
	RegisteredAt time.Time         `bson:"registered_at"`
}

func (d *deviceDoc) toDevice() store.Device {
	return store.Device{
		ID:           d.DeviceID,
		MailboxID:    d.MailboxID,
		Vendor:       d.Vendor,
		Metadata:     maps.Clone(d.Metadata),
		RegisteredAt: d.RegisteredAt.UTC(),
	}
}

func deviceToDoc(d store.Device) *deviceDoc {
	return &deviceDoc{
		MailboxID:    d.MailboxID,
		DeviceID:     d.ID,
		Vendor:       d.Vendor,
		Metadata:     maps.Clone(d.Metadata),
		RegisteredAt: d.RegisteredAt,
	}
}
