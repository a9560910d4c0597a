package mediator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rbaliyan/mediator/store"
	"github.com/rbaliyan/mediator/store/memory"
)

// recordingChannel is a notification channel that remembers what it was sent.
type recordingChannel struct {
	name      string
	notifyErr error
	initErr   error

	mu    sync.Mutex
	sent  []Notification
	inits atomic.Int32

	closed atomic.Int32
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Notify(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.notifyErr
}

func (c *recordingChannel) Init(context.Context) error {
	c.inits.Add(1)
	return c.initErr
}

func (c *recordingChannel) Close(context.Context) error {
	c.closed.Add(1)
	return nil
}

func (c *recordingChannel) notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.sent...)
}

func TestForward(t *testing.T) {
	ctx := context.Background()
	push := &recordingChannel{name: "FCM"}
	svc, _ := newTestService(t, WithChannel(push))

	mb := mustCreateMailbox(t, svc)
	if err := svc.AddRoute(ctx, "relay-1", mb.ID); err != nil {
		t.Fatalf("add route: %v", err)
	}

	t.Run("unbound relay key queues nothing", func(t *testing.T) {
		_, err := svc.Forward(ctx, Envelope{To: "unbound", Payload: []byte(`{"ciphertext":"x"}`)})
		if !errors.Is(err, ErrRouteNotFound) {
			t.Fatalf("expected ErrRouteNotFound, got %v", err)
		}
		items, err := svc.ListItems(ctx, mb.ID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 0 {
			t.Errorf("expected no queued items, got %d", len(items))
		}
	})

	t.Run("invalid envelope", func(t *testing.T) {
		if _, err := svc.Forward(ctx, Envelope{Payload: []byte("{}")}); !errors.Is(err, ErrInvalidEnvelope) {
			t.Errorf("expected ErrInvalidEnvelope, got %v", err)
		}
	})

	t.Run("no devices still queues", func(t *testing.T) {
		res, err := svc.Forward(ctx, Envelope{To: "relay-1", Payload: []byte("one")})
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		if res.MailboxID != mb.ID || res.Item.Sequence != 1 {
			t.Errorf("unexpected result %+v", res)
		}
		if res.Dispatch.Device != nil || res.Dispatch.Err != nil || res.Dispatch.Delivered() {
			t.Errorf("expected no dispatch, got %+v", res.Dispatch)
		}
	})

	t.Run("device without push uses polling", func(t *testing.T) {
		if err := svc.AddDevice(ctx, mb.ID, DeviceInfo{ID: "d1"}); err != nil {
			t.Fatalf("add device: %v", err)
		}
		res, err := svc.Forward(ctx, Envelope{To: "relay-1", Payload: []byte("two")})
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		if res.Dispatch.Channel != PollingChannel || !res.Dispatch.Delivered() {
			t.Errorf("expected polling dispatch, got %+v", res.Dispatch)
		}
	})

	t.Run("registered push channel is notified", func(t *testing.T) {
		mb2 := mustCreateMailbox(t, svc)
		if err := svc.AddRoute(ctx, "relay-2", mb2.ID); err != nil {
			t.Fatalf("add route: %v", err)
		}
		if err := svc.AddDevice(ctx, mb2.ID, DeviceInfo{ID: "phone", Vendor: "acme", Metadata: map[string]string{"Push": "FCM"}}); err != nil {
			t.Fatalf("add device: %v", err)
		}

		res, err := svc.Forward(ctx, Envelope{To: "relay-2", Payload: []byte("hello")})
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		if !res.Dispatch.Delivered() || res.Dispatch.Channel != "FCM" {
			t.Fatalf("expected FCM dispatch, got %+v", res.Dispatch)
		}
		sent := push.notifications()
		if len(sent) != 1 || sent[0].DeviceID != "phone" || sent[0].ItemID != res.Item.ID || sent[0].MailboxID != mb2.ID {
			t.Errorf("unexpected notifications %+v", sent)
		}
	})

	t.Run("unsupported channel is not fatal", func(t *testing.T) {
		mb3 := mustCreateMailbox(t, svc)
		if err := svc.AddRoute(ctx, "relay-3", mb3.ID); err != nil {
			t.Fatalf("add route: %v", err)
		}
		if err := svc.AddDevice(ctx, mb3.ID, DeviceInfo{ID: "phone", Metadata: map[string]string{"Push": "APNS"}}); err != nil {
			t.Fatalf("add device: %v", err)
		}

		res, err := svc.Forward(ctx, Envelope{To: "relay-3", Payload: []byte("x")})
		if err != nil {
			t.Fatalf("forward must succeed, got %v", err)
		}
		if !errors.Is(res.Dispatch.Err, ErrUnsupportedChannel) {
			t.Errorf("expected ErrUnsupportedChannel in dispatch, got %v", res.Dispatch.Err)
		}
		items, _ := svc.ListItems(ctx, mb3.ID)
		if len(items) != 1 {
			t.Errorf("item must stay queued, got %d items", len(items))
		}
	})

	t.Run("failing channel is not fatal", func(t *testing.T) {
		failing := &recordingChannel{name: "Broken", notifyErr: errors.New("provider down")}
		svc, _ := newTestService(t, WithChannel(failing))
		mb := mustCreateMailbox(t, svc)
		svc.AddRoute(ctx, "k", mb.ID)
		svc.AddDevice(ctx, mb.ID, DeviceInfo{ID: "d", Metadata: map[string]string{"Push": "Broken"}})

		res, err := svc.Forward(ctx, Envelope{To: "k", Payload: []byte("x")})
		if err != nil {
			t.Fatalf("forward must succeed, got %v", err)
		}
		ce, ok := IsChannelError(res.Dispatch.Err)
		if !ok || ce.Channel != "Broken" || ce.Op != "notify" {
			t.Errorf("expected notify ChannelError, got %v", res.Dispatch.Err)
		}
	})
}

// cancelingStore cancels the caller's context while an append is in flight,
// the way a client disconnect would.
type cancelingStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (s *cancelingStore) OpenPartition(ctx context.Context, cfg store.PartitionConfig, creds store.Credentials) (store.Partition, error) {
	p, err := s.Store.OpenPartition(ctx, cfg, creds)
	if err != nil {
		return nil, err
	}
	return cancelingPartition{Partition: p, cancel: s.cancel}, nil
}

type cancelingPartition struct {
	store.Partition
	cancel context.CancelFunc
}

func (p cancelingPartition) Append(ctx context.Context, payload []byte) (store.Item, error) {
	p.cancel()
	if ctx.Err() != nil {
		return store.Item{}, ctx.Err()
	}
	return p.Partition.Append(ctx, payload)
}

func TestForwardSurvivesCallerCancel(t *testing.T) {
	bg := context.Background()
	ctx, cancel := context.WithCancel(bg)
	defer cancel()

	push := &recordingChannel{name: "FCM"}
	st := &cancelingStore{Store: memory.New(), cancel: cancel}
	svc, err := NewService(WithStore(st), WithChannel(push))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Connect(bg); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(bg)

	mb := mustCreateMailbox(t, svc)
	svc.AddRoute(bg, "k", mb.ID)
	svc.AddDevice(bg, mb.ID, DeviceInfo{ID: "d", Metadata: map[string]string{"Push": "FCM"}})

	res, err := svc.Forward(ctx, Envelope{To: "k", Payload: []byte("x")})
	if err != nil {
		t.Fatalf("forward must complete after the caller goes away: %v", err)
	}
	if !res.Dispatch.Skipped {
		t.Errorf("expected notification to be skipped, got %+v", res.Dispatch)
	}
	if len(push.notifications()) != 0 {
		t.Error("no notification expected")
	}

	items, err := svc.ListItems(bg, mb.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != res.Item.ID {
		t.Errorf("expected the item to be durable, got %+v", items)
	}
}

func TestChannelRegistryLookup(t *testing.T) {
	r := newChannelRegistry(nil)
	custom := &recordingChannel{name: "FCM"}
	r.register(custom)

	if c, ok := r.lookup(PollingChannel); !ok || c.Name() != PollingChannel {
		t.Errorf("expected built-in polling channel, got %v, %v", c, ok)
	}
	if c, ok := r.lookup("FCM"); !ok || c != Channel(custom) {
		t.Errorf("expected registered channel, got %v, %v", c, ok)
	}
	if _, ok := r.lookup(""); ok {
		t.Error("empty name is resolved by the caller, not the registry")
	}
	if _, ok := r.lookup("APNS"); ok {
		t.Error("expected unknown channel to be missing")
	}
}
