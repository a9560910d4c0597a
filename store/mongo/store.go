// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/mediator/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Collection names, before the configured prefix.
const (
	routesCollection     = "routes"
	mailboxesCollection  = "mailboxes"
	partitionsCollection = "partitions"
	itemsCollection      = "items"
	devicesCollection    = "devices"
)

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	opts      *options
	connected int32
	logger    *slog.Logger

	routes     *mongo.Collection
	mailboxes  *mongo.Collection
	partitions *mongo.Collection
	items      *mongo.Collection
	devices    *mongo.Collection
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the collections and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	db := s.client.Database(s.opts.database)
	s.routes = db.Collection(s.opts.prefix + routesCollection)
	s.mailboxes = db.Collection(s.opts.prefix + mailboxesCollection)
	s.partitions = db.Collection(s.opts.prefix + partitionsCollection)
	s.items = db.Collection(s.opts.prefix + itemsCollection)
	s.devices = db.Collection(s.opts.prefix + devicesCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
// Routes, mailboxes and partitions are keyed by _id and need none.
func (s *Store) ensureIndexes(ctx context.Context) error {
	items := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "partition_id", Value: 1},
				{Key: "sequence", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
	}
	if _, err := s.items.Indexes().CreateMany(ctx, items); err != nil {
		return fmt.Errorf("items: %w", err)
	}

	devices := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "mailbox_id", Value: 1},
				{Key: "device_id", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
	}
	if _, err := s.devices.Indexes().CreateMany(ctx, devices); err != nil {
		return fmt.Errorf("devices: %w", err)
	}
	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}
