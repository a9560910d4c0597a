// Package dynamo provides a DynamoDB implementation of store.RouteStore.
//
// Routes live in one table keyed by the string attribute "relay_key".
// AddRoute is a single PutItem with ReturnValues ALL_OLD, so the replaced
// binding comes back from the write itself.
package dynamo

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rbaliyan/mediator/store"
)

// Compile-time check
var _ store.RouteStore = (*Store)(nil)

// Attribute names.
const (
	attrRelayKey  = "relay_key"
	attrMailboxID = "mailbox_id"
	attrCreatedAt = "created_at"
)

// DefaultTimeout bounds each DynamoDB call.
const DefaultTimeout = 5 * time.Second

// Client is the subset of the DynamoDB API used by the store.
// *dynamodb.Client satisfies it.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Store implements store.RouteStore on a DynamoDB table.
type Store struct {
	client         Client
	table          string
	timeout        time.Duration
	consistentRead bool
	logger         *slog.Logger
}

// Option configures a DynamoDB route store.
type Option func(*Store)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithConsistentRead makes FindRoute use strongly consistent reads.
func WithConsistentRead(enabled bool) Option {
	return func(s *Store) {
		s.consistentRead = enabled
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a route store over table.
func New(client Client, table string, opts ...Option) *Store {
	s := &Store{
		client:         client,
		table:          table,
		timeout:        DefaultTimeout,
		consistentRead: true,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(relayKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrRelayKey: &types.AttributeValueMemberS{Value: relayKey},
	}
}

// stringAttr returns the string value of name, or "".
func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// AddRoute writes the binding and returns the one it replaced.
func (s *Store) AddRoute(ctx context.Context, relayKey, mailboxID string) (string, error) {
	if relayKey == "" || mailboxID == "" {
		return "", store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrRelayKey:  &types.AttributeValueMemberS{Value: relayKey},
			attrMailboxID: &types.AttributeValueMemberS{Value: mailboxID},
			attrCreatedAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UnixMilli(), 10)},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return "", fmt.Errorf("add route: %w", err)
	}
	return stringAttr(out.Attributes, attrMailboxID), nil
}

// FindRoute returns the mailbox bound to relayKey.
func (s *Store) FindRoute(ctx context.Context, relayKey string) (string, error) {
	if relayKey == "" {
		return "", store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(relayKey),
		ConsistentRead: aws.Bool(s.consistentRead),
	})
	if err != nil {
		return "", fmt.Errorf("find route: %w", err)
	}
	mailboxID := stringAttr(out.Item, attrMailboxID)
	if mailboxID == "" {
		return "", store.ErrNotFound
	}
	return mailboxID, nil
}
