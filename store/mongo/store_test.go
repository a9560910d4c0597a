package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/mediator/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestRequiresConnect(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	if err := s.Connect(ctx); err == nil {
		t.Error("expected error without a client")
	}
	if _, err := s.FindRoute(ctx, "k"); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := s.AddDevice(ctx, store.Device{ID: "d", MailboxID: "m"}); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	p := &partition{s: s, id: "p"}
	if _, err := p.Append(ctx, []byte("x")); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("mailbox", func(t *testing.T) {
		mb := store.Mailbox{
			ID:          "Edge1",
			Partition:   store.PartitionConfig{ID: "p1", StorageType: "default"},
			Credentials: store.Credentials{Key: "k"},
			CreatedAt:   created,
		}
		data, err := bson.Marshal(mailboxToDoc(mb))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var raw bson.M
		if err := bson.Unmarshal(data, &raw); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if raw["_id"] != "Edge1" || raw["inbox_key"] != "k" {
			t.Errorf("unexpected document %v", raw)
		}

		var doc mailboxDoc
		if err := bson.Unmarshal(data, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got := doc.toMailbox(); got != mb {
			t.Errorf("got %+v, want %+v", got, mb)
		}
	})

	t.Run("device metadata is copied", func(t *testing.T) {
		meta := map[string]string{"Push": "FCM"}
		doc := deviceToDoc(store.Device{ID: "d", MailboxID: "m", Metadata: meta, RegisteredAt: created})
		meta["Push"] = "changed"
		if doc.Metadata["Push"] != "FCM" {
			t.Error("document must not share the caller's map")
		}
		d := doc.toDevice()
		if d.ID != "d" || d.MailboxID != "m" || !d.RegisteredAt.Equal(created) {
			t.Errorf("unexpected device %+v", d)
		}
	})

	t.Run("item sequence", func(t *testing.T) {
		doc := itemDoc{ID: "i", Sequence: 42, Payload: []byte("x"), CreatedAt: created}
		if it := doc.toItem(); it.Sequence != 42 || string(it.Payload) != "x" {
			t.Errorf("unexpected item %+v", it)
		}
	})
}
