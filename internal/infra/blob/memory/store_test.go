package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"blobkit/internal/blob/blobtest"
	"blobkit/internal/blob/core"
)

func newStore(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	b, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestConformance(t *testing.T) {
	blobtest.Run(t, func(t *testing.T) core.Backend {
		return newStore(t, WithSigningKey("AKIAMEM", "mem-secret"))
	}, blobtest.Options{CanSign: true})
}

func TestConformanceWithoutKey(t *testing.T) {
	blobtest.Run(t, func(t *testing.T) core.Backend { return newStore(t) }, blobtest.Options{})
}

func TestETagsCountFromOne(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	if _, err := store.CreateContainer(ctx, "demo", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err := store.CreateOverwriteBlob(ctx, core.ParsePath("demo/x"), core.CreateOptions{})
	if err != nil || c.ETag != "1" {
		t.Fatalf("create etag: %+v %v", c, err)
	}
	w, err := store.SetOverwriteBlobContents(ctx, core.ParsePath("demo/x"), "a", core.WriteOptions{ETag: "1"})
	if err != nil || w.ETag != "2" {
		t.Fatalf("write etag: %+v %v", w, err)
	}
	// Reads leave the token alone.
	got, _ := store.BlobContents(ctx, core.ParsePath("demo/x"))
	if got.ETag != "2" {
		t.Fatalf("read changed etag: %s", got.ETag)
	}
	if _, err := store.DeleteBlob(ctx, core.ParsePath("demo/x")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Tokens are never reused after a delete.
	c, _ = store.CreateOverwriteBlob(ctx, core.ParsePath("demo/x"), core.CreateOptions{})
	if c.ETag != "3" {
		t.Fatalf("recreate etag: %s", c.ETag)
	}
}

func TestDefaultAccountURL(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	u, err := store.BlobURL(ctx, core.ParsePath("demo/x.txt"), core.URLOptions{})
	if err != nil || u != DefaultAccountURL+"demo/x.txt" {
		t.Fatalf("blob url: %s %v", u, err)
	}
	store = newStore(t, WithAccountURL("https://acct.example/base?sv=1"))
	u, _ = store.ContainerURL(ctx, "demo", core.URLOptions{})
	if u != "https://acct.example/base/demo" {
		t.Fatalf("container url: %s", u)
	}
	if _, err := New(WithAccountURL("relative/path")); err == nil {
		t.Fatalf("expected error for relative account url")
	}
}

func TestSignedURLKeepsBaseQuery(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC))
	store := newStore(t, WithAccountURL("https://acct.example/?tenant=a"), WithSigningKey("id", "secret"), WithClock(clock))
	u, err := store.BlobURL(ctx, core.ParsePath("demo/x.txt"), core.URLOptions{IncludeSignature: true})
	if err != nil {
		t.Fatalf("signed: %v", err)
	}
	if !strings.Contains(u, "tenant=a") || !strings.Contains(u, "X-Amz-Date=20250304T050607Z") || !strings.Contains(u, "X-Amz-Expires=3600") {
		t.Fatalf("signed url: %s", u)
	}
	unsigned, _ := store.BlobURL(ctx, core.ParsePath("demo/x.txt"), core.URLOptions{})
	if strings.Contains(unsigned, "?") {
		t.Fatalf("unsigned url kept query: %s", unsigned)
	}
}

func TestLastModifiedFollowsClock(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := newStore(t, WithClock(clock))
	if _, err := store.CreateContainer(ctx, "demo", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateAppendBlob(ctx, core.ParsePath("demo/log"), core.CreateOptions{}); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := store.AppendBlobContents(ctx, core.ParsePath("demo/log"), "x", core.AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	props, _ := store.BlobProperties(ctx, core.ParsePath("demo/log"))
	if !props.LastModified.Equal(clock.Now().UTC()) {
		t.Fatalf("last modified %v, want %v", props.LastModified, clock.Now())
	}
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := newStore(t)
	if _, err := src.CreateContainer(ctx, "snap", core.AccessContainerReadable); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := src.CreateAppendBlob(ctx, core.ParsePath("snap/log"), core.CreateOptions{}); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	a, _ := src.AppendBlobContents(ctx, core.ParsePath("snap/log"), "abc", core.AppendOptions{})
	snap := src.Snapshot()
	// The snapshot is a copy.
	if _, err := src.AppendBlobContents(ctx, core.ParsePath("snap/log"), "def", core.AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	dst := newStore(t)
	dst.Restore(snap)
	got, err := dst.BlobContents(ctx, core.ParsePath("snap/log"))
	if err != nil || got.Contents != "abc" || got.ETag != a.ETag {
		t.Fatalf("restored contents: %+v %v", got, err)
	}
	if p, _ := dst.ContainerAccessPolicy(ctx, "snap"); p != core.AccessContainerReadable {
		t.Fatalf("restored policy: %s", p)
	}
	w, _ := dst.SetOverwriteBlobContents(ctx, core.ParsePath("snap/other"), "x", core.WriteOptions{})
	if w.ETag == a.ETag || w.ETag == "1" {
		t.Fatalf("restored counter reused etag %s", w.ETag)
	}
}

func TestUnknownPolicyRejected(t *testing.T) {
	store := newStore(t)
	if _, err := store.CreateContainer(context.Background(), "demo", core.AccessPolicy("public")); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
