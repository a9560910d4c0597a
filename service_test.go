package mediator

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/event/v3/transport/channel"
	"github.com/rbaliyan/mediator/retry"
	"github.com/rbaliyan/mediator/store"
	"github.com/rbaliyan/mediator/store/memory"
)

// newTestService returns a connected service over a fresh memory store.
func newTestService(t *testing.T, opts ...Option) (Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc, err := NewService(append([]Option{WithStore(st)}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc, st
}

func mustCreateMailbox(t *testing.T, svc Service) store.Mailbox {
	t.Helper()
	mb, err := svc.CreateMailbox(context.Background())
	if err != nil {
		t.Fatalf("create mailbox: %v", err)
	}
	return mb
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates service with store", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected non-nil service")
		}
		if svc.IsConnected() {
			t.Error("new service should not be connected")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("connect and close", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()), WithEventTransport(channel.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !svc.IsConnected() {
			t.Error("expected connected")
		}
		if svc.Events() == nil {
			t.Error("expected events after connect")
		}
		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}

		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if svc.IsConnected() {
			t.Error("expected disconnected after close")
		}
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close should be a no-op, got %v", err)
		}
	})

	t.Run("close releases the default event bus", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for round := range 2 {
			if err := svc.Connect(ctx); err != nil {
				t.Fatalf("connect %d: %v", round, err)
			}
			if svc.(*service).eventBus == nil {
				t.Fatalf("connect %d: expected an event bus", round)
			}
			if _, err := svc.CreateMailbox(ctx); err != nil {
				t.Fatalf("create mailbox %d: %v", round, err)
			}
			if err := svc.Close(ctx); err != nil {
				t.Fatalf("close %d: %v", round, err)
			}
			if svc.(*service).eventBus != nil {
				t.Errorf("close %d: expected the event bus to be closed and released", round)
			}
		}
	})

	t.Run("operations require connection", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.FindRoute(ctx, "k"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("FindRoute: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.CreateMailbox(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("CreateMailbox: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.Forward(ctx, Envelope{To: "k", Payload: []byte("{}")}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Forward: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.Handle(ctx, NewSession("c", StateConnected), GetInboxItemsRequest{}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Handle: expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("failed channel init rolls back", func(t *testing.T) {
		first := &recordingChannel{name: "first"}
		failing := &recordingChannel{name: "failing", initErr: errors.New("boom")}
		svc, err := NewService(WithStore(memory.New()), WithChannel(first), WithChannel(failing))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		err = svc.Connect(ctx)
		if ce, ok := IsChannelError(err); !ok || ce.Channel != "failing" || ce.Op != "init" {
			t.Fatalf("expected init ChannelError for failing, got %v", err)
		}
		if svc.IsConnected() {
			t.Error("service should stay disconnected")
		}
		if first.closed.Load() != 1 {
			t.Errorf("expected first channel closed during rollback, got %d closes", first.closed.Load())
		}

		// The store was closed by the rollback, so a retry can connect again.
		failing.initErr = nil
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("reconnect failed: %v", err)
		}
		svc.Close(ctx)
	})
}

func TestRoutes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	t.Run("unknown relay key", func(t *testing.T) {
		_, err := svc.FindRoute(ctx, "missing")
		if !errors.Is(err, ErrRouteNotFound) {
			t.Errorf("expected ErrRouteNotFound, got %v", err)
		}
		if !errors.Is(err, ErrNotFound) || !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected error to match the NotFound kind, got %v", err)
		}
	})

	t.Run("last writer wins", func(t *testing.T) {
		for _, mb := range []string{"m1", "m2", "m3"} {
			if err := svc.AddRoute(ctx, "key", mb); err != nil {
				t.Fatalf("add route %s: %v", mb, err)
			}
			got, err := svc.FindRoute(ctx, "key")
			if err != nil {
				t.Fatalf("find route: %v", err)
			}
			if got != mb {
				t.Errorf("expected %s, got %s", mb, got)
			}
		}
	})

	t.Run("empty ids rejected", func(t *testing.T) {
		if err := svc.AddRoute(ctx, "", "m"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
		if err := svc.AddRoute(ctx, "k", ""); !errors.Is(err, ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})
}

// separateRoutes is a route store with its own lifecycle.
type separateRoutes struct {
	*memory.Store
	connects atomic.Int32
	closes   atomic.Int32
}

func (r *separateRoutes) Connect(ctx context.Context) error {
	r.connects.Add(1)
	return r.Store.Connect(ctx)
}

func (r *separateRoutes) Close(ctx context.Context) error {
	r.closes.Add(1)
	return r.Store.Close(ctx)
}

func TestSeparateRouteStore(t *testing.T) {
	ctx := context.Background()
	routes := &separateRoutes{Store: memory.New()}
	svc, _ := newTestService(t, WithRouteStore(routes))

	if routes.connects.Load() != 1 {
		t.Fatalf("expected route store connected once, got %d", routes.connects.Load())
	}
	if err := svc.AddRoute(ctx, "k", "m"); err != nil {
		t.Fatalf("add route: %v", err)
	}
	if got, err := routes.FindRoute(ctx, "k"); err != nil || got != "m" {
		t.Errorf("expected route in the separate store, got %q, %v", got, err)
	}

	svc.Close(ctx)
	if routes.closes.Load() != 1 {
		t.Errorf("expected route store closed once, got %d", routes.closes.Load())
	}
}

func TestMailboxes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	t.Run("create", func(t *testing.T) {
		mb := mustCreateMailbox(t, svc)
		if !regexp.MustCompile(`^Edge[0-9a-f]{32}$`).MatchString(mb.ID) {
			t.Errorf("unexpected mailbox id %q", mb.ID)
		}
		if mb.Credentials.Key == "" {
			t.Error("expected a partition key")
		}
		other := mustCreateMailbox(t, svc)
		if other.ID == mb.ID || other.Partition.ID == mb.Partition.ID {
			t.Error("mailboxes must not share ids or partitions")
		}
	})

	t.Run("append list delete", func(t *testing.T) {
		mb := mustCreateMailbox(t, svc)

		var ids []string
		for i, payload := range []string{"a", "b", "c"} {
			item, err := svc.AppendItem(ctx, mb.ID, []byte(payload))
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			if item.Sequence != uint64(i+1) {
				t.Errorf("expected sequence %d, got %d", i+1, item.Sequence)
			}
			ids = append(ids, item.ID)
		}

		if err := svc.DeleteItem(ctx, mb.ID, ids[1]); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := svc.DeleteItem(ctx, mb.ID, ids[1]); err != nil {
			t.Errorf("deleting twice should be a no-op, got %v", err)
		}
		if err := svc.DeleteItem(ctx, mb.ID, "never-existed"); err != nil {
			t.Errorf("deleting a missing item should be a no-op, got %v", err)
		}

		items, err := svc.ListItems(ctx, mb.ID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 2 || items[0].ID != ids[0] || items[1].ID != ids[2] {
			t.Fatalf("unexpected items after delete: %+v", items)
		}

		next, err := svc.AppendItem(ctx, mb.ID, []byte("d"))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if next.Sequence != 4 {
			t.Errorf("deletes must not renumber: expected 4, got %d", next.Sequence)
		}
	})

	t.Run("unknown mailbox", func(t *testing.T) {
		_, err := svc.AppendItem(ctx, "Edge-missing", []byte("x"))
		if !errors.Is(err, ErrMailboxNotFound) {
			t.Errorf("expected ErrMailboxNotFound, got %v", err)
		}
		if _, err := svc.ListItems(ctx, "Edge-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound kind, got %v", err)
		}
	})
}

// shuffledStore returns partition listings in descending sequence order.
type shuffledStore struct {
	*memory.Store
	openErr   error
	openCalls atomic.Int32
}

func (s *shuffledStore) OpenPartition(ctx context.Context, cfg store.PartitionConfig, creds store.Credentials) (store.Partition, error) {
	s.openCalls.Add(1)
	if s.openErr != nil {
		return nil, s.openErr
	}
	p, err := s.Store.OpenPartition(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}
	return reversed{p}, nil
}

type reversed struct{ store.Partition }

func (r reversed) List(ctx context.Context) ([]store.Item, error) {
	items, err := r.Partition.List(ctx)
	slices.SortFunc(items, func(a, b store.Item) int { return int(b.Sequence) - int(a.Sequence) })
	return items, err
}

func TestListItemsOrdersBySequence(t *testing.T) {
	ctx := context.Background()
	st := &shuffledStore{Store: memory.New()}
	svc, err := NewService(WithStore(st))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(ctx)

	mb := mustCreateMailbox(t, svc)
	for i := 0; i < 5; i++ {
		if _, err := svc.AppendItem(ctx, mb.ID, []byte{byte('a' + i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	items, err := svc.ListItems(ctx, mb.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, it := range items {
		if it.Sequence != uint64(i+1) {
			t.Fatalf("expected ascending sequences, got %+v", items)
		}
	}
	if n := st.openCalls.Load(); n != 1 {
		t.Errorf("expected the partition handle to be cached, got %d opens", n)
	}
}

func TestStorageUnavailable(t *testing.T) {
	ctx := context.Background()
	st := &shuffledStore{Store: memory.New()}
	svc, err := NewService(
		WithStore(st),
		WithPartitionOpenPolicy(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(ctx)

	mb := mustCreateMailbox(t, svc)
	st.openErr = errors.New("connection reset")

	_, err = svc.AppendItem(ctx, mb.ID, []byte("x"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	se, ok := IsStorageError(err)
	if !ok || se.MailboxID != mb.ID {
		t.Errorf("expected StorageError for %s, got %v", mb.ID, err)
	}
	if n := st.openCalls.Load(); n != 3 {
		t.Errorf("expected 3 open attempts, got %d", n)
	}

	st.openErr = nil
	if _, err := svc.AppendItem(ctx, mb.ID, []byte("x")); err != nil {
		t.Errorf("failed opens must not be cached: %v", err)
	}
}
