package bolt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbaliyan/mediator/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "blobs.db"), WithNoSync(true))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Put(ctx, "a/1", "application/json", strings.NewReader("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}

	t.Run("read back", func(t *testing.T) {
		r, err := s.Get(ctx, "a/1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer r.Close()
		data, _ := io.ReadAll(r)
		if string(data) != "hello" {
			t.Errorf("expected hello, got %q", data)
		}
	})

	t.Run("no overwrite", func(t *testing.T) {
		err := s.Put(ctx, "a/1", "", strings.NewReader("other"))
		if !errors.Is(err, store.ErrDuplicateEntry) {
			t.Errorf("expected ErrDuplicateEntry, got %v", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "a/2")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestListPaged(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	const n = listPageSize*2 + 7
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("b/%05d", i)
		if err := s.Put(ctx, key, "", strings.NewReader("x")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := s.Put(ctx, "c/0", "", strings.NewReader("x")); err != nil {
		t.Fatalf("put: %v", err)
	}

	var got []string
	for key, err := range s.List(ctx, "b/") {
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		got = append(got, key)
	}
	if len(got) != n {
		t.Fatalf("expected %d keys, got %d", n, len(got))
	}
	for i, key := range got {
		if want := fmt.Sprintf("b/%05d", i); key != want {
			t.Fatalf("key %d: expected %s, got %s", i, want, key)
		}
	}

	t.Run("early stop", func(t *testing.T) {
		count := 0
		for range s.List(ctx, "b/") {
			count++
			if count == 3 {
				break
			}
		}
		if count != 3 {
			t.Errorf("expected to stop after 3, got %d", count)
		}
	})
}
