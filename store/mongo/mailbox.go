package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mediator/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreatePartition inserts a partition document with a zero sequence counter.
func (s *Store) CreatePartition(ctx context.Context, cfg store.PartitionConfig, creds store.Credentials) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if cfg.ID == "" {
		return store.ErrInvalidID
	}

	hash, err := store.HashCredentials(creds, s.opts.hashCost)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := &partitionDoc{ID: cfg.ID, StorageType: cfg.StorageType, KeyHash: hash, CreatedAt: time.Now().UTC()}
	if _, err := s.partitions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("create partition: %w", err)
	}
	return nil
}

// OpenPartition checks creds against the stored hash.
func (s *Store) OpenPartition(ctx context.Context, cfg store.PartitionConfig, creds store.Credentials) (store.Partition, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc partitionDoc
	if err := s.partitions.FindOne(ctx, bson.M{"_id": cfg.ID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("open partition: %w", err)
	}
	if err := store.VerifyCredentials(doc.KeyHash, creds); err != nil {
		return nil, err
	}
	return &partition{s: s, id: cfg.ID}, nil
}

// AddMailbox inserts a mailbox record.
func (s *Store) AddMailbox(ctx context.Context, mb store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if mb.ID == "" {
		return store.ErrInvalidID
	}
	if mb.CreatedAt.IsZero() {
		mb.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.mailboxes.InsertOne(ctx, mailboxToDoc(mb)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("add mailbox: %w", err)
	}
	return nil
}

// GetMailbox returns a mailbox record.
func (s *Store) GetMailbox(ctx context.Context, id string) (store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return store.Mailbox{}, err
	}
	if id == "" {
		return store.Mailbox{}, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc mailboxDoc
	if err := s.mailboxes.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.Mailbox{}, store.ErrNotFound
		}
		return store.Mailbox{}, fmt.Errorf("get mailbox: %w", err)
	}
	return doc.toMailbox(), nil
}

// partition is the store.Partition returned by OpenPartition.
type partition struct {
	s  *Store
	id string
}

// Append takes the next sequence with an atomic $inc, then inserts the item.
// A failed insert leaves a gap in the sequence, never a duplicate.
func (p *partition) Append(ctx context.Context, payload []byte) (store.Item, error) {
	s := p.s
	if err := s.checkConnected(); err != nil {
		return store.Item{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := mongoopts.FindOneAndUpdate().SetReturnDocument(mongoopts.After)
	var counter partitionDoc
	err := s.partitions.FindOneAndUpdate(ctx,
		bson.M{"_id": p.id},
		bson.M{"$inc": bson.M{"next_sequence": 1}},
		opts,
	).Decode(&counter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.Item{}, store.ErrNotFound
		}
		return store.Item{}, fmt.Errorf("allocate sequence: %w", err)
	}

	doc := &itemDoc{
		ID:          uuid.New().String(),
		PartitionID: p.id,
		Sequence:    counter.NextSequence,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.items.InsertOne(ctx, doc); err != nil {
		return store.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return doc.toItem(), nil
}

// List returns every item of the partition.
func (p *partition) List(ctx context.Context) ([]store.Item, error) {
	s := p.s
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	cursor, err := s.items.Find(ctx, bson.M{"partition_id": p.id})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []itemDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	items := make([]store.Item, 0, len(docs))
	for i := range docs {
		items = append(items, docs[i].toItem())
	}
	return items, nil
}

// Delete removes an item; missing items are ignored.
func (p *partition) Delete(ctx context.Context, itemID string) error {
	s := p.s
	if err := s.checkConnected(); err != nil {
		return err
	}
	if itemID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.items.DeleteOne(ctx, bson.M{"_id": itemID, "partition_id": p.id}); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}
