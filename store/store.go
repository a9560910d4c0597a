// Package store provides interfaces and types for mediator storage.
// Implementations are in store/memory, store/postgres and store/mongo; route-only
// implementations are in store/redis and store/dynamo.
//
// # Concurrency Without Global Locks
//
// Every mailbox is an isolated partition. Ordering inside a partition is decided by
// the partition itself, never by a process-wide lock:
//
//  1. Sequence Allocation: Append assigns the next sequence with a per-partition
//     serialization point. The memory store uses a mutex per partition, PostgreSQL
//     uses UPDATE ... RETURNING on the partition row inside a transaction, and
//     MongoDB uses findOneAndUpdate with $inc.
//
//  2. Unique Constraints: duplicate devices and duplicate blob keys are rejected
//     by the backend (primary keys, unique indexes, conditional writes) and
//     surface as ErrDuplicateEntry.
//
//  3. Atomic Swaps: AddRoute replaces a binding and returns the previous one in a
//     single backend operation, so a rebind can be observed without a read-then-write.
//
// Example - concurrent appends to one mailbox:
//
//	p, _ := st.OpenPartition(ctx, mb.Partition, mb.Credentials)
//	item, _ := p.Append(ctx, payload) // item.Sequence is unique and increasing
package store

import (
	"context"
	"io"
	"iter"
)

// Store is the storage interface for the mediator.
// It combines route, mailbox and device persistence behind one lifecycle.
//
// All operations must be safe for concurrent use.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	RouteStore
	MailboxStore
	DeviceStore
}

// RouteStore maps relay keys to mailbox ids.
type RouteStore interface {
	// AddRoute binds relayKey to mailboxID, replacing any existing binding.
	// Returns the previously bound mailbox id, or "" if there was none.
	AddRoute(ctx context.Context, relayKey, mailboxID string) (previous string, err error)

	// FindRoute returns the mailbox id bound to relayKey.
	// Returns ErrNotFound if no binding exists.
	FindRoute(ctx context.Context, relayKey string) (string, error)
}

// MailboxStore owns mailbox records and their isolated partitions.
type MailboxStore interface {
	// CreatePartition allocates a new, empty partition protected by creds.
	// Returns ErrDuplicateEntry if a partition with the same id exists.
	CreatePartition(ctx context.Context, cfg PartitionConfig, creds Credentials) error

	// OpenPartition returns a handle to an existing partition.
	// Returns ErrNotFound if it does not exist and ErrInvalidCredentials
	// if creds do not match the ones it was created with.
	OpenPartition(ctx context.Context, cfg PartitionConfig, creds Credentials) (Partition, error)

	// AddMailbox persists the mediator-local mailbox record.
	AddMailbox(ctx context.Context, mb Mailbox) error

	// GetMailbox returns the mailbox record for id.
	// Returns ErrNotFound if it does not exist.
	GetMailbox(ctx context.Context, id string) (Mailbox, error)
}

// Partition is an open handle on one mailbox's items.
// Handles are safe for concurrent use and may be cached by callers.
type Partition interface {
	// Append persists payload as a new item and assigns the next sequence.
	Append(ctx context.Context, payload []byte) (Item, error)

	// List returns every item in the partition. Order is not guaranteed.
	List(ctx context.Context) ([]Item, error)

	// Delete removes an item. Deleting a missing item is not an error.
	Delete(ctx context.Context, itemID string) error
}

// DeviceStore tracks devices registered against mailboxes.
type DeviceStore interface {
	// AddDevice registers a device.
	// Returns ErrDuplicateEntry if the device id is already registered for the mailbox.
	AddDevice(ctx context.Context, d Device) error

	// ListDevices returns copies of all devices registered for the mailbox.
	ListDevices(ctx context.Context, mailboxID string) ([]Device, error)
}

// BlobStore is a flat key/value object store used for backups.
// Implementations exist for memory, bbolt, S3 and GCS.
type BlobStore interface {
	// Put writes content under key. It must not overwrite: if key already
	// exists, Put returns ErrDuplicateEntry.
	Put(ctx context.Context, key, contentType string, content io.Reader) error

	// Get returns a reader for key. Returns ErrNotFound if the key does not exist.
	// Caller is responsible for closing the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List lazily enumerates keys starting with prefix.
	// Each call starts a fresh enumeration.
	List(ctx context.Context, prefix string) iter.Seq2[string, error]
}

// BackupStore keeps versioned, immutable attachment snapshots per backup id.
type BackupStore interface {
	// StoreBackup appends a new version and returns its timestamp.
	StoreBackup(ctx context.Context, backupID string, attachments []Attachment) (int64, error)

	// RetrieveBackup returns the attachments of the latest version.
	RetrieveBackup(ctx context.Context, backupID string) ([]Attachment, error)

	// RetrieveBackupAt returns the attachments of the version stored at exactly timestamp.
	RetrieveBackupAt(ctx context.Context, backupID string, timestamp int64) ([]Attachment, error)

	// ListBackups enumerates version identifiers for backupID.
	ListBackups(ctx context.Context, backupID string) iter.Seq2[string, error]
}
