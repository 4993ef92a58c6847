package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"catalogcore/internal/blob/core"
)

func TestMockPutGetRoundTrip(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()

	info, err := s.Put(ctx, "archive/a.json", strings.NewReader(`{"id":"a"}`), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != 10 || info.ContentType != "application/json" {
		t.Fatalf("info = %+v", info)
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
	if string(b) != `{"id":"a"}` {
		t.Fatalf("content = %q", b)
	}
	if got.ETag != "mock-etag" {
		t.Fatalf("etag = %q", got.ETag)
	}
}

func TestMockPutIsCreateOnly(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", strings.NewReader("one"), core.PutOptions{}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if _, err := s.Put(ctx, "k", strings.NewReader("two"), core.PutOptions{}); err == nil {
		t.Fatal("overwrite succeeded")
	}
}

func TestMockHeadMissingKey(t *testing.T) {
	s := NewMockForTests()
	if _, err := s.Head(context.Background(), "absent"); err == nil {
		t.Fatal("Head on missing key succeeded")
	}
}

func TestMockDeleteThenGet(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	existed, err := s.Delete(ctx, "k")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	if _, _, err := s.Get(ctx, "k"); err == nil {
		t.Fatal("Get after delete succeeded")
	}
}

func TestMockListPrefix(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()
	for _, key := range []string{"archive/b", "archive/a", "other/c"} {
		if _, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	infos, err := s.List(ctx, "archive/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "archive/a" || infos[1].Key != "archive/b" {
		t.Fatalf("listing: %+v", infos)
	}
}

func TestPresignURLIsSignedLocally(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()
	url, err := s.PresignURL(ctx, "archive/a.json", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("PresignURL: %v", err)
	}
	if !strings.Contains(url, "archive/a.json") || !strings.Contains(url, "X-Amz-Signature") {
		t.Fatalf("url = %s", url)
	}
	if _, err := s.PresignURL(ctx, "k", core.SignedURLOptions{Method: "DELETE"}); err != core.ErrUnsupported {
		t.Fatalf("DELETE presign: %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("missing bucket accepted")
	}
}

func TestDriver(t *testing.T) {
	if got := NewMockForTests().Driver(); got != core.DriverS3 {
		t.Fatalf("driver = %s", got)
	}
}
