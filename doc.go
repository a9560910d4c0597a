// Package mediator implements the inbox and forwarding core of a
// store-and-forward messaging mediator.
//
// The mediator relays envelopes for clients that are not always online. A
// client creates a mailbox over a secure channel, binds relay keys to it and
// registers its devices. Envelopes addressed to a bound relay key are queued
// in the mailbox; the client lists and deletes them later. After queuing, the
// mailbox's active device is nudged through a notification channel.
//
// # Basic Usage
//
//	svc, err := mediator.NewService(
//	    mediator.WithStore(memory.New()),
//	    mediator.WithSecrets("s3cret"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	// Management requests arrive on a secure channel.
//	sess := mediator.NewSession(channelID, mediator.StateConnected)
//	resp, err := svc.Handle(ctx, sess, mediator.CreateMailboxRequest{
//	    Metadata: map[string]string{mediator.SecretMetadataKey: "s3cret"},
//	})
//	_, err = svc.Handle(ctx, sess, mediator.AddRouteRequest{RelayKey: key})
//
//	// Envelopes for the relay key are queued in the mailbox.
//	env, err := mediator.ParseForward(body)
//	res, err := svc.Forward(ctx, env)
//
// # Ordering
//
// Items carry a sequence assigned by the mailbox's partition, strictly
// increasing per mailbox. Deletes never renumber. ListItems and
// GetInboxItems always return ascending sequence order.
//
// # Best-effort Steps
//
// Device registration, per-item deletion and notification dispatch never
// fail the request that triggered them. Their outcome is returned as a
// diagnostic (DispatchResult, BulkResult) and logged.
//
// # Storage Backends
//
//   - In-memory (store/memory) - for tests and single-node use
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - Redis (store/redis) and DynamoDB (store/dynamo) - route stores for WithRouteStore
//
// Backups (package backup) are kept on a store.BlobStore: memory, bbolt, S3
// or GCS, optionally behind a local file cache and OTel instrumentation.
//
// # Events
//
// Each service has its own event bus (github.com/rbaliyan/event/v3). Pass
// WithRedisClient or WithEventTransport to deliver events outside the process:
//
//	svc.Events().ItemQueued.Subscribe(ctx, handler)
//
// Available events:
//   - ItemQueued - after an envelope is queued
//   - MailboxCreated - when a mailbox is created
//   - RouteAdded - when a relay key is bound
package mediator
