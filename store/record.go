package store

import (
	"maps"
	"time"
)

// Route binds a relay key to a mailbox.
type Route struct {
	RelayKey  string
	MailboxID string
	CreatedAt time.Time
}

// PartitionConfig identifies a mailbox's isolated partition.
type PartitionConfig struct {
	ID          string `json:"id"`
	StorageType string `json:"storage_type,omitempty"`
}

// Credentials protect a partition.
type Credentials struct {
	Key string `json:"key"`
}

// Mailbox is the mediator-local record of a tenant mailbox.
// It carries everything needed to reopen the mailbox's partition.
type Mailbox struct {
	ID          string
	Partition   PartitionConfig
	Credentials Credentials
	CreatedAt   time.Time
}

// Item is one queued payload in a mailbox.
type Item struct {
	ID        string
	Payload   []byte
	Sequence  uint64
	CreatedAt time.Time
}

// Device is a client device registered against a mailbox.
type Device struct {
	ID           string
	MailboxID    string
	Vendor       string
	Metadata     map[string]string
	RegisteredAt time.Time
}

// Clone returns a deep copy of the device.
func (d Device) Clone() Device {
	d.Metadata = maps.Clone(d.Metadata)
	return d
}

// Attachment is one entry of a backup version.
type Attachment struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data"`
}

// BackupVersion is an immutable snapshot of attachments.
type BackupVersion struct {
	BackupID    string       `json:"backup_id"`
	Timestamp   int64        `json:"timestamp"`
	Attachments []Attachment `json:"attachments"`
}
