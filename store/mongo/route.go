package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mediator/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AddRoute upserts the binding and returns the document it replaced.
func (s *Store) AddRoute(ctx context.Context, relayKey, mailboxID string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	if relayKey == "" || mailboxID == "" {
		return "", store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"mailbox_id": mailboxID, "created_at": time.Now().UTC()}}
	opts := mongoopts.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(mongoopts.Before)

	var prev routeDoc
	err := s.routes.FindOneAndUpdate(ctx, bson.M{"_id": relayKey}, update, opts).Decode(&prev)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", fmt.Errorf("add route: %w", err)
	}
	return prev.MailboxID, nil
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

	var doc routeDoc
	if err := s.routes.FindOne(ctx, bson.M{"_id": relayKey}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("find route: %w", err)
	}
	return doc.MailboxID, nil
}
