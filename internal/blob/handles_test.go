package blob

import (
	"context"
	"errors"
	"testing"
)

func TestHandlesDeriveConcatenatedPaths(t *testing.T) {
	acct := NewAccount(NewMemory())
	c := acct.Container("demo")
	if c.Path() != (Path{Container: "demo"}) {
		t.Fatalf("container path: %+v", c.Path())
	}
	p := c.Prefix("logs/")
	if got := p.Blob("a.txt").Path(); got != ParsePath("demo/logs/a.txt") {
		t.Fatalf("prefix blob: %+v", got)
	}
	// Names are appended verbatim, so the caller supplies separators.
	if got := p.Prefix("2024").BlockBlob("-01.txt").Path(); got != ParsePath("demo/logs/2024-01.txt") {
		t.Fatalf("nested prefix: %+v", got)
	}
	if got := acct.AppendBlob("/demo/x/y").Path(); got != (Path{Container: "demo", Object: "x/y"}) {
		t.Fatalf("account append blob: %+v", got)
	}
	if got := acct.BlobAt(Path{Container: "demo", Object: "z"}).Container().Name(); got != "demo" {
		t.Fatalf("blob container: %s", got)
	}
	if got := p.Container().Name(); got != "demo" {
		t.Fatalf("prefix container: %s", got)
	}
	if acct.PrefixAt(p.Path()) != acct.Prefix("demo/logs/") {
		t.Fatalf("prefix handles compare structurally")
	}
}

func TestHandlesParityScenario(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]Store{"memory": NewMemory(), "s3": NewMockS3ForTests()} {
		t.Run(name, func(t *testing.T) {
			acct := NewAccount(store)
			demo := acct.Container("demo")
			if created, err := demo.Create(ctx, ""); err != nil || !created {
				t.Fatalf("create container: %v %v", created, err)
			}
			x := demo.BlockBlob("x.txt")
			res, err := x.Create(ctx, CreateOptions{ContentType: "text/plain"})
			if err != nil || !res.Created {
				t.Fatalf("create blob: %+v %v", res, err)
			}
			if _, err := x.SetContents(ctx, "hello", WriteOptions{}); err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := x.Contents(ctx)
			if err != nil || got.Contents != "hello" {
				t.Fatalf("read: %+v %v", got, err)
			}
			_, err = demo.Blob("missing.txt").Contents(ctx)
			if !errors.Is(err, ErrBlobNotFound) {
				t.Fatalf("expected BlobNotFound, got %v", err)
			}
			containers, err := acct.Containers(ctx)
			if err != nil || len(containers) != 1 || containers[0].Name() != "demo" {
				t.Fatalf("containers: %+v %v", containers, err)
			}
		})
	}
}

func TestHandlesForwardEveryOperation(t *testing.T) {
	ctx := context.Background()
	acct := NewAccount(NewMemory())
	c := acct.Container("ops")
	if _, err := c.Create(ctx, AccessObjectReadable); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := c.Exists(ctx); err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}
	if err := c.SetAccessPolicy(ctx, AccessContainerReadable); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	if p, err := c.AccessPolicy(ctx); err != nil || p != AccessContainerReadable {
		t.Fatalf("policy: %s %v", p, err)
	}

	log := c.Prefix("logs/").AppendBlob("app.log")
	if _, err := log.Create(ctx, CreateOptions{}); err != nil {
		t.Fatalf("create append: %v", err)
	}
	first, err := log.Append(ctx, "a", AppendOptions{})
	if err != nil {
		t.Fatalf("append a: %v", err)
	}
	if _, err := log.Append(ctx, "b", AppendOptions{ETag: first.ETag}); err != nil {
		t.Fatalf("append b: %v", err)
	}
	if _, err := log.Append(ctx, "c", AppendOptions{ETag: first.ETag}); !IsKind(err, KindConditionNotMet) {
		t.Fatalf("stale append: %v", err)
	}
	if got, _ := log.Contents(ctx); got.Contents != "ab" {
		t.Fatalf("append contents: %q", got.Contents)
	}
	if err := log.SetContentType(ctx, "text/plain"); err != nil {
		t.Fatalf("set content type: %v", err)
	}
	if ct, err := log.ContentType(ctx); err != nil || ct != "text/plain" {
		t.Fatalf("content type: %q %v", ct, err)
	}
	props, err := log.Properties(ctx)
	if err != nil || props.BlobType != BlobTypeAppend || props.Size != 2 {
		t.Fatalf("properties: %+v %v", props, err)
	}
	infos, err := c.Prefix("logs/").Blobs(ctx)
	if err != nil || len(infos) != 1 || infos[0].Path != log.Path() {
		t.Fatalf("prefix blobs: %+v %v", infos, err)
	}
	if infos, err := c.Blobs(ctx, "nope"); err != nil || len(infos) != 0 {
		t.Fatalf("filtered blobs: %+v %v", infos, err)
	}
	if u, err := log.URL(ctx, URLOptions{}); err != nil || u != "https://fake.storage.example/ops/logs/app.log" {
		t.Fatalf("blob url: %s %v", u, err)
	}
	if u, err := c.URL(ctx, URLOptions{}); err != nil || u != "https://fake.storage.example/ops" {
		t.Fatalf("container url: %s %v", u, err)
	}
	if u, err := acct.URL(ctx, URLOptions{}); err != nil || u != "https://fake.storage.example/" {
		t.Fatalf("account url: %s %v", u, err)
	}
	if _, err := log.URL(ctx, URLOptions{IncludeSignature: true}); !errors.Is(err, ErrSigningKeyRequired) {
		t.Fatalf("expected signing key error, got %v", err)
	}
	if ok, err := log.Delete(ctx); err != nil || !ok {
		t.Fatalf("delete blob: %v %v", ok, err)
	}
	if ok, err := log.Exists(ctx); err != nil || ok {
		t.Fatalf("exists after delete: %v %v", ok, err)
	}
	if ok, err := c.Delete(ctx); err != nil || !ok {
		t.Fatalf("delete container: %v %v", ok, err)
	}
}
