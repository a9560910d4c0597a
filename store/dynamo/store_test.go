package dynamo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rbaliyan/mediator/store"
)

// fakeClient is an in-memory single-table DynamoDB.
type fakeClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	puts  []*dynamodb.PutItemInput
	gets  []*dynamodb.GetItemInput
	err   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, in)
	k := stringAttr(in.Item, attrRelayKey)
	old := f.items[k]
	f.items[k] = in.Item
	out := &dynamodb.PutItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.gets = append(f.gets, in)
	return &dynamodb.GetItemOutput{Item: f.items[stringAttr(in.Key, attrRelayKey)]}, nil
}

func TestRoutes(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := New(client, "routes")

	if _, err := s.FindRoute(ctx, "k1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	prev, err := s.AddRoute(ctx, "k1", "mb1")
	if err != nil || prev != "" {
		t.Fatalf("AddRoute = %q, %v", prev, err)
	}
	prev, err = s.AddRoute(ctx, "k1", "mb2")
	if err != nil || prev != "mb1" {
		t.Fatalf("AddRoute = %q, %v; want mb1", prev, err)
	}
	if got, err := s.FindRoute(ctx, "k1"); err != nil || got != "mb2" {
		t.Errorf("FindRoute = %q, %v", got, err)
	}

	put := client.puts[0]
	if aws.ToString(put.TableName) != "routes" || put.ReturnValues != types.ReturnValueAllOld {
		t.Errorf("unexpected put %+v", put)
	}
	if _, ok := put.Item[attrCreatedAt].(*types.AttributeValueMemberN); !ok {
		t.Error("expected numeric created_at")
	}
	if get := client.gets[len(client.gets)-1]; !aws.ToBool(get.ConsistentRead) {
		t.Error("expected consistent reads by default")
	}
}

func TestInvalidAndFailing(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := New(client, "routes", WithConsistentRead(false))

	if _, err := s.AddRoute(ctx, "k", ""); !errors.Is(err, store.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
	if _, err := s.FindRoute(ctx, ""); !errors.Is(err, store.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}

	cause := errors.New("throttled")
	client.err = cause
	if _, err := s.AddRoute(ctx, "k", "mb"); !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if _, err := s.FindRoute(ctx, "k"); !errors.Is(err, cause) || errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}
