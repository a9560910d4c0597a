package mediator

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/rbaliyan/mediator/backup"
	"github.com/rbaliyan/mediator/store"
	blobmemory "github.com/rbaliyan/mediator/store/blob/memory"
	"github.com/rbaliyan/mediator/store/memory"
)

const testSecret = "mobiletoken"

func createRequest(secret string) CreateMailboxRequest {
	return CreateMailboxRequest{Metadata: map[string]string{SecretMetadataKey: secret}}
}

// countingStore counts partition creations.
type countingStore struct {
	*memory.Store
	created atomic.Int32
}

func (s *countingStore) CreatePartition(ctx context.Context, cfg store.PartitionConfig, creds store.Credentials) error {
	s.created.Add(1)
	return s.Store.CreatePartition(ctx, cfg, creds)
}

func TestHandleSessionState(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, WithSecrets(testSecret))

	multi := NewSession("multi", StateConnected)
	multi.MultiParty = true

	tests := []struct {
		name string
		sess *Session
	}{
		{"nil session", nil},
		{"negotiating", NewSession("c1", StateNegotiating)},
		{"closed", NewSession("c2", StateClosed)},
		{"multi-party", multi},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Handle(ctx, tt.sess, createRequest(testSecret))
			if !errors.Is(err, ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
			if tt.sess != nil && tt.sess.MailboxID() != "" {
				t.Error("session must not be bound")
			}
		})
	}

	t.Run("nil request", func(t *testing.T) {
		_, err := svc.Handle(ctx, NewSession("c", StateConnected), nil)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})

	t.Run("unbound session", func(t *testing.T) {
		sess := NewSession("fresh", StateConnected)
		for _, req := range []Request{
			AddRouteRequest{RelayKey: "k"},
			AddDeviceInfoRequest{DeviceID: "d"},
			GetInboxItemsRequest{},
			DeleteInboxItemsRequest{ItemIDs: []string{"x"}},
		} {
			if _, err := svc.Handle(ctx, sess, req); !errors.Is(err, ErrInvalidState) {
				t.Errorf("%s: expected ErrInvalidState, got %v", req.Kind(), err)
			}
		}
	})
}

func TestCreateMailboxAuthorization(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{Store: memory.New()}
	svc, err := NewService(WithStore(st), WithSecrets("alpha", testSecret))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer svc.Close(ctx)

	for _, req := range []CreateMailboxRequest{
		createRequest("unlisted"),
		createRequest(""),
		{},
		{Metadata: map[string]string{"Other": testSecret}},
	} {
		sess := NewSession("c", StateConnected)
		_, err := svc.Handle(ctx, sess, req)
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%+v: expected ErrUnauthorized, got %v", req.Metadata, err)
		}
		if sess.MailboxID() != "" {
			t.Error("rejected request must not bind the session")
		}
	}
	if n := st.created.Load(); n != 0 {
		t.Errorf("expected no partitions created, got %d", n)
	}

	t.Run("no secrets configured rejects all", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.Handle(ctx, NewSession("c", StateConnected), createRequest(testSecret))
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestInboxScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, WithSecrets(testSecret))
	sess := NewSession("chan-1", StateConnected)

	resp, err := svc.Handle(ctx, sess, createRequest(testSecret))
	if err != nil {
		t.Fatalf("create mailbox: %v", err)
	}
	created, ok := resp.(CreateMailboxResponse)
	if !ok {
		t.Fatalf("expected CreateMailboxResponse, got %T", resp)
	}
	if !regexp.MustCompile(`^Edge[0-9a-f]{32}$`).MatchString(created.MailboxID) {
		t.Errorf("unexpected mailbox id %q", created.MailboxID)
	}
	if created.MailboxKey == "" {
		t.Error("expected a mailbox key")
	}
	if sess.MailboxID() != created.MailboxID {
		t.Fatalf("session bound to %q, want %q", sess.MailboxID(), created.MailboxID)
	}

	if resp, err := svc.Handle(ctx, sess, AddRouteRequest{RelayKey: "key1"}); err != nil || resp != nil {
		t.Fatalf("add route: %v, %v", resp, err)
	}
	got, err := svc.FindRoute(ctx, "key1")
	if err != nil || got != created.MailboxID {
		t.Fatalf("FindRoute = %q, %v; want %q", got, err, created.MailboxID)
	}

	if _, err := svc.Handle(ctx, sess, AddRouteRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty relay key: expected ErrInvalidRequest, got %v", err)
	}

	t.Run("device registration never fails", func(t *testing.T) {
		req := AddDeviceInfoRequest{DeviceID: "phone", Vendor: "acme", Metadata: map[string]string{"Push": "Polling"}}
		for i := 0; i < 2; i++ {
			resp, err := svc.Handle(ctx, sess, req)
			if err != nil || resp != nil {
				t.Errorf("attempt %d: expected nil response and error, got %v, %v", i, resp, err)
			}
		}
		if _, err := svc.Handle(ctx, sess, AddDeviceInfoRequest{}); err != nil {
			t.Errorf("invalid device must be absorbed, got %v", err)
		}
	})

	var ids []string
	for _, payload := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		res, err := svc.Forward(ctx, Envelope{To: "key1", Payload: []byte(payload)})
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		ids = append(ids, res.Item.ID)
	}

	t.Run("items in ascending order", func(t *testing.T) {
		resp, err := svc.Handle(ctx, sess, GetInboxItemsRequest{})
		if err != nil {
			t.Fatalf("get items: %v", err)
		}
		items := resp.(GetInboxItemsResponse).Items
		if len(items) != 3 {
			t.Fatalf("expected 3 items, got %d", len(items))
		}
		for i, it := range items {
			if it.ID != ids[i] || it.Sequence != uint64(i+1) {
				t.Errorf("item %d: got %+v", i, it)
			}
		}
		if items[0].Data != `{"n":1}` {
			t.Errorf("unexpected data %q", items[0].Data)
		}
	})

	t.Run("delete absorbs failures", func(t *testing.T) {
		resp, err := svc.Handle(ctx, sess, DeleteInboxItemsRequest{ItemIDs: []string{ids[0], "", "unknown", ids[2]}})
		if err != nil || resp != nil {
			t.Fatalf("expected nil response and error, got %v, %v", resp, err)
		}
		items, err := svc.ListItems(ctx, created.MailboxID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 1 || items[0].ID != ids[1] {
			t.Errorf("expected only the middle item, got %+v", items)
		}
	})

	t.Run("second create orphans the first mailbox", func(t *testing.T) {
		resp, err := svc.Handle(ctx, sess, createRequest(testSecret))
		if err != nil {
			t.Fatalf("create mailbox: %v", err)
		}
		second := resp.(CreateMailboxResponse)
		if second.MailboxID == created.MailboxID {
			t.Fatal("expected a new mailbox")
		}
		if sess.MailboxID() != second.MailboxID {
			t.Error("session must be bound to the newest mailbox")
		}
		if got, _ := svc.FindRoute(ctx, "key1"); got != created.MailboxID {
			t.Error("existing routes must keep pointing at the first mailbox")
		}
	})
}

func TestDeleteItemsDiagnostic(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	s := svc.(*service)
	mb := mustCreateMailbox(t, svc)
	item, err := svc.AppendItem(ctx, mb.ID, []byte("x"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	res := s.deleteItems(ctx, mb.ID, []string{item.ID, "", "gone"})
	if res.TotalCount() != 3 || res.SuccessCount() != 2 {
		t.Errorf("unexpected counts: total %d, success %d", res.TotalCount(), res.SuccessCount())
	}
	if failed := res.FailedIDs(); len(failed) != 1 || failed[0] != "" {
		t.Errorf("expected the empty id to fail, got %v", failed)
	}
	var bulkErr *BulkOperationError
	if !errors.As(res.Err(), &bulkErr) || !errors.Is(res.Err(), ErrInvalidID) {
		t.Errorf("expected BulkOperationError wrapping ErrInvalidID, got %v", res.Err())
	}

	var empty *BulkResult
	if empty.HasFailures() || empty.Err() != nil || empty.TotalCount() != 0 {
		t.Error("nil BulkResult must report nothing")
	}
}

func TestBackupRequests(t *testing.T) {
	ctx := context.Background()
	sess := NewSession("c", StateConnected)

	t.Run("not configured", func(t *testing.T) {
		svc, _ := newTestService(t)
		for _, req := range []Request{
			StoreBackupRequest{BackupID: "b"},
			RetrieveBackupRequest{BackupID: "b"},
			ListBackupsRequest{BackupID: "b"},
		} {
			if _, err := svc.Handle(ctx, sess, req); !errors.Is(err, ErrBackupStoreNotConfigured) {
				t.Errorf("%s: expected ErrBackupStoreNotConfigured, got %v", req.Kind(), err)
			}
		}
	})

	svc, _ := newTestService(t, WithBackupStore(backup.New(blobmemory.New())))
	if svc.Backups() == nil {
		t.Fatal("expected backup store")
	}

	store1 := []store.Attachment{{ID: "a", Data: []byte("first")}}
	store2 := []store.Attachment{{ID: "b", Data: []byte("second")}}

	resp, err := svc.Handle(ctx, sess, StoreBackupRequest{BackupID: "wallet", Attachments: store1})
	if err != nil {
		t.Fatalf("store backup: %v", err)
	}
	t1 := resp.(StoreBackupResponse).Timestamp
	if _, err := svc.Handle(ctx, sess, StoreBackupRequest{BackupID: "wallet", Attachments: store2}); err != nil {
		t.Fatalf("store backup: %v", err)
	}

	t.Run("latest", func(t *testing.T) {
		resp, err := svc.Handle(ctx, sess, RetrieveBackupRequest{BackupID: "wallet"})
		if err != nil {
			t.Fatalf("retrieve: %v", err)
		}
		got := resp.(RetrieveBackupResponse).Attachments
		if len(got) != 1 || got[0].ID != "b" {
			t.Errorf("expected latest version, got %+v", got)
		}
	})

	t.Run("exact version", func(t *testing.T) {
		resp, err := svc.Handle(ctx, sess, RetrieveBackupRequest{BackupID: "wallet", Timestamp: t1})
		if err != nil {
			t.Fatalf("retrieve: %v", err)
		}
		got := resp.(RetrieveBackupResponse).Attachments
		if len(got) != 1 || string(got[0].Data) != "first" {
			t.Errorf("expected first version, got %+v", got)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := svc.Handle(ctx, sess, RetrieveBackupRequest{BackupID: "nope"})
		if !errors.Is(err, ErrBackupNotFound) || !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrBackupNotFound, got %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		resp, err := svc.Handle(ctx, sess, ListBackupsRequest{BackupID: "wallet"})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if v := resp.(ListBackupsResponse).Versions; len(v) != 2 {
			t.Errorf("expected 2 versions, got %v", v)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		if _, err := svc.Handle(ctx, sess, StoreBackupRequest{}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})
}
