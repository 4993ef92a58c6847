package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"catalogcore/internal/blob/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payload := []byte(`{"id":"a"}`)

	info, err := s.Put(ctx, "archive/a.json", strings.NewReader(string(payload)), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"origin": "replace"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != int64(len(payload)) {
		t.Fatalf("size = %d", info.Size)
	}
	sum := sha256.Sum256(payload)
	if info.ETag != hex.EncodeToString(sum[:]) {
		t.Fatalf("etag = %s", info.ETag)
	}

	got, rc, err := s.Get(ctx, "archive/a.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != string(payload) {
		t.Fatalf("content = %q", b)
	}
	if got.ContentType != "application/json" || got.Metadata["origin"] != "replace" {
		t.Fatalf("sidecar info lost: %+v", got)
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", strings.NewReader("one"), core.PutOptions{}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if _, err := s.Put(ctx, "k", strings.NewReader("two"), core.PutOptions{}); err == nil {
		t.Fatal("overwrite succeeded")
	}
}

func TestKeyValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"", "  ", "/abs", "../escape", "a/../../b"} {
		if _, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}

func TestHeadAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", strings.NewReader("data"), core.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	info, err := s.Head(ctx, "k")
	if err != nil || info.Size != 4 {
		t.Fatalf("Head: info=%+v err=%v", info, err)
	}
	existed, err := s.Delete(ctx, "k")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	existed, err = s.Delete(ctx, "k")
	if err != nil || existed {
		t.Fatalf("repeated Delete: existed=%v err=%v", existed, err)
	}
	if _, err := s.Head(ctx, "k"); err == nil {
		t.Fatal("Head after delete succeeded")
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"archive/b.json", "archive/a.json", "other/c.json"} {
		if _, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	infos, err := s.List(ctx, "archive/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "archive/a.json" || infos[1].Key != "archive/b.json" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
	all, err := s.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("full listing: %d err=%v", len(all), err)
	}
}

func TestPresignURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url, err := s.PresignURL(ctx, "k", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("PresignURL: %v", err)
	}
	if url != "http://local.blob/k" {
		t.Fatalf("url = %s", url)
	}
	if _, err := s.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); err != core.ErrUnsupported {
		t.Fatalf("PUT presign: %v", err)
	}
}

func TestDriver(t *testing.T) {
	if got := newTestStore(t).Driver(); got != core.DriverFilesystem {
		t.Fatalf("driver = %s", got)
	}
}
