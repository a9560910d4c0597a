package mediator

import (
	"cmp"
	"context"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mediator/retry"
	"github.com/rbaliyan/mediator/store"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// MailboxIDPrefix starts every mailbox id.
	MailboxIDPrefix = "Edge"

	// DefaultStorageType is recorded on new partitions.
	DefaultStorageType = "default"
)

// MailboxManager owns tenant mailboxes and their queued items.
type MailboxManager interface {
	// CreateMailbox allocates a mailbox with a fresh isolated partition.
	CreateMailbox(ctx context.Context) (store.Mailbox, error)
	// AppendItem queues payload and assigns the next sequence.
	AppendItem(ctx context.Context, mailboxID string, payload []byte) (store.Item, error)
	// ListItems returns every queued item in ascending sequence order.
	ListItems(ctx context.Context, mailboxID string) ([]store.Item, error)
	// DeleteItem removes an item. Deleting a missing item is not an error.
	DeleteItem(ctx context.Context, mailboxID, itemID string) error
}

// newMailboxID returns "Edge" followed by 32 hex digits.
func newMailboxID() string {
	u := uuid.New()
	return MailboxIDPrefix + hex.EncodeToString(u[:])
}

// CreateMailbox allocates a new mailbox.
func (s *service) CreateMailbox(ctx context.Context) (store.Mailbox, error) {
	return s.createMailbox(ctx, "")
}

func (s *service) createMailbox(ctx context.Context, channelID string) (mb store.Mailbox, err error) {
	if err := s.checkConnected(); err != nil {
		return store.Mailbox{}, err
	}

	ctx, done := s.otel.instrument(ctx, opCreateMailbox)
	defer func() { done(err) }()

	mb = store.Mailbox{
		ID:          newMailboxID(),
		Partition:   store.PartitionConfig{ID: uuid.NewString(), StorageType: DefaultStorageType},
		Credentials: store.Credentials{Key: uuid.NewString()},
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreatePartition(ctx, mb.Partition, mb.Credentials); err != nil {
		return store.Mailbox{}, fmt.Errorf("create partition: %w", err)
	}
	if err := s.store.AddMailbox(ctx, mb); err != nil {
		s.logger.Warn("partition created without a mailbox record",
			"partition_id", mb.Partition.ID, "error", err)
		return store.Mailbox{}, fmt.Errorf("add mailbox: %w", err)
	}

	s.logger.Info("mailbox created", "mailbox_id", mb.ID, "channel_id", channelID)
	publish(ctx, s, "MailboxCreated", s.events.MailboxCreated, MailboxCreatedEvent{
		MailboxID: mb.ID,
		ChannelID: channelID,
		CreatedAt: mb.CreatedAt,
	})
	return mb, nil
}

// partition returns the cached handle for mailboxID, opening it on first use.
// Concurrent first opens of one mailbox share a single open.
func (s *service) partition(ctx context.Context, mailboxID string) (store.Partition, error) {
	if v, ok := s.partitions.Load(mailboxID); ok {
		return v.(store.Partition), nil
	}

	// The open is shared by every caller waiting on mailboxID, so it must not
	// inherit the cancellation of whichever caller started it.
	ch := s.opens.DoChan(mailboxID, func() (any, error) {
		if v, ok := s.partitions.Load(mailboxID); ok {
			return v, nil
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.openTimeout)
		defer cancel()

		mb, err := s.store.GetMailbox(ctx, mailboxID)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, ErrMailboxNotFound
			}
			return nil, fmt.Errorf("get mailbox: %w", err)
		}

		p, err := retry.Do(ctx, s.opts.openPolicy, func(ctx context.Context) (store.Partition, error) {
			return s.store.OpenPartition(ctx, mb.Partition, mb.Credentials)
		})
		if err != nil {
			return nil, &StorageError{MailboxID: mailboxID, Op: "open", Err: err}
		}

		s.partitions.Store(mailboxID, p)
		s.logger.Debug("partition opened", "mailbox_id", mailboxID)
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(store.Partition), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AppendItem queues payload in the mailbox.
func (s *service) AppendItem(ctx context.Context, mailboxID string, payload []byte) (store.Item, error) {
	if err := s.checkConnected(); err != nil {
		return store.Item{}, err
	}
	return s.appendItem(ctx, mailboxID, payload)
}

// appendItem skips the connection check so forwards admitted before Close
// can finish their append.
func (s *service) appendItem(ctx context.Context, mailboxID string, payload []byte) (item store.Item, err error) {
	if mailboxID == "" {
		return store.Item{}, ErrInvalidID
	}

	ctx, done := s.otel.instrument(ctx, opAppend, attribute.Int("payload_size", len(payload)))
	defer func() { done(err) }()

	p, err := s.partition(ctx, mailboxID)
	if err != nil {
		return store.Item{}, err
	}
	item, err = p.Append(ctx, payload)
	if err != nil {
		return store.Item{}, fmt.Errorf("append item: %w", err)
	}

	s.logger.Debug("item appended",
		"mailbox_id", mailboxID,
		"item_id", item.ID,
		"sequence", item.Sequence,
	)
	return item, nil
}

// ListItems returns the mailbox's items ordered by sequence,
// whatever order the backend returned them in.
func (s *service) ListItems(ctx context.Context, mailboxID string) (items []store.Item, err error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if mailboxID == "" {
		return nil, ErrInvalidID
	}

	ctx, done := s.otel.instrument(ctx, opList)
	defer func() { done(err) }()

	p, err := s.partition(ctx, mailboxID)
	if err != nil {
		return nil, err
	}
	items, err = p.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	slices.SortFunc(items, func(a, b store.Item) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return items, nil
}

// DeleteItem removes one item. Missing items are ignored.
func (s *service) DeleteItem(ctx context.Context, mailboxID, itemID string) (err error) {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if mailboxID == "" || itemID == "" {
		return ErrInvalidID
	}

	ctx, done := s.otel.instrument(ctx, opDelete)
	defer func() { done(err) }()

	p, err := s.partition(ctx, mailboxID)
	if err != nil {
		return err
	}
	if err := p.Delete(ctx, itemID); err != nil && !store.IsNotFound(err) {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}
