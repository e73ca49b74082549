// Package blobtest holds the behaviour every core.Backend must share. Driver
// packages run it against their own constructors so the in-memory simulation
// and the remote drivers stay interchangeable.
package blobtest

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"blobkit/internal/blob/core"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) core.Backend

// Options describes known, documented differences between drivers.
type Options struct {
	// ListingsOmitMetadata marks drivers whose listings carry only path, size
	// and modification time; blob type, content type and ETag stay empty.
	ListingsOmitMetadata bool
	// CanSign is set when the factory configures a signing key.
	CanSign bool
}

// Run executes the conformance suite.
func Run(t *testing.T, newBackend Factory, opts Options) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, core.Backend, Options)
	}{
		{"ExistenceChecksNeverFail", testExistence},
		{"InvalidContainerName", testInvalidContainerName},
		{"EmptyObjectName", testEmptyObjectName},
		{"ContainerLifecycle", testContainerLifecycle},
		{"AccessPolicy", testAccessPolicy},
		{"CreateIsNotClobber", testCreateIsNotClobber},
		{"VersionMonotonicity", testVersionMonotonicity},
		{"IdenticalRewriteChangesVersion", testIdenticalRewrite},
		{"ConditionalWriteMissingBlob", testConditionalWriteMissing},
		{"AppendOnly", testAppendOnly},
		{"AppendPreconditions", testAppendPreconditions},
		{"MissingContainerReadsAsBlobNotFound", testMissingContainerReads},
		{"WriteToMissingContainer", testWriteMissingContainer},
		{"ContentType", testContentType},
		{"DeleteBlob", testDeleteBlob},
		{"ListBlobs", testListBlobs},
		{"URLs", testURLs},
		{"ParityScenario", testParity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newBackend(t), opts)
		})
	}
}

// Container creates name and removes it again when the test ends.
func Container(t *testing.T, b core.Backend, name string, policy core.AccessPolicy) {
	t.Helper()
	ctx := context.Background()
	created, err := b.CreateContainer(ctx, name, policy)
	if err != nil {
		t.Fatalf("create container %s: %v", name, err)
	}
	if !created {
		t.Fatalf("container %s already existed", name)
	}
	t.Cleanup(func() { _, _ = b.DeleteContainer(context.Background(), name) })
}

func wantKind(t *testing.T, err error, kind core.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", kind)
	}
	if got := core.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
	if !strings.Contains(err.Error(), string(kind)) {
		t.Fatalf("message %q does not name %s", err.Error(), kind)
	}
}

func path(s string) core.Path { return core.ParsePath(s) }

func testExistence(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	ok, err := b.ContainerExists(ctx, "nothere")
	if err != nil || ok {
		t.Fatalf("ContainerExists missing: %v %v", ok, err)
	}
	ok, err = b.BlobExists(ctx, path("nothere/x.txt"))
	if err != nil || ok {
		t.Fatalf("BlobExists missing container: %v %v", ok, err)
	}
	Container(t, b, "exists", "")
	ok, err = b.BlobExists(ctx, path("exists/x.txt"))
	if err != nil || ok {
		t.Fatalf("BlobExists missing blob: %v %v", ok, err)
	}
	deleted, err := b.DeleteBlob(ctx, path("exists/x.txt"))
	if err != nil || deleted {
		t.Fatalf("DeleteBlob missing: %v %v", deleted, err)
	}
	deleted, err = b.DeleteContainer(ctx, "nothere")
	if err != nil || deleted {
		t.Fatalf("DeleteContainer missing: %v %v", deleted, err)
	}
}

func testInvalidContainerName(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	_, err := b.CreateContainer(ctx, "Demo", core.AccessPrivate)
	wantKind(t, err, core.KindInvalidResourceName)
	Container(t, b, "demo", "")
	// A lower-cased twin existing changes nothing.
	_, err = b.ContainerExists(ctx, "Demo")
	wantKind(t, err, core.KindInvalidResourceName)
	_, err = b.BlobContents(ctx, path("Demo/x.txt"))
	wantKind(t, err, core.KindInvalidResourceName)
	_, err = b.CreateContainer(ctx, "", core.AccessPrivate)
	wantKind(t, err, core.KindInvalidResourceName)
}

func testEmptyObjectName(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "demo", "")
	_, err := b.CreateOverwriteBlob(ctx, path("demo"), core.CreateOptions{})
	wantKind(t, err, core.KindInvalidURI)
	_, err = b.SetOverwriteBlobContents(ctx, path("demo/"), "x", core.WriteOptions{})
	wantKind(t, err, core.KindInvalidURI)
	_, err = b.AppendBlobContents(ctx, path("demo"), "x", core.AppendOptions{})
	wantKind(t, err, core.KindInvalidURI)
	_, err = b.DeleteBlob(ctx, path("demo"))
	wantKind(t, err, core.KindInvalidURI)
}

func testContainerLifecycle(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	created, err := b.CreateContainer(ctx, "lifecycle", core.AccessPrivate)
	if err != nil || !created {
		t.Fatalf("create: %v %v", created, err)
	}
	created, err = b.CreateContainer(ctx, "lifecycle", core.AccessPrivate)
	if err != nil || created {
		t.Fatalf("second create should report false: %v %v", created, err)
	}
	if _, err := b.CreateOverwriteBlob(ctx, path("lifecycle/a/b.txt"), core.CreateOptions{}); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	list, err := b.ListContainers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, c := range list {
		found = found || c.Name == "lifecycle"
	}
	if !found {
		t.Fatalf("lifecycle missing from %+v", list)
	}
	deleted, err := b.DeleteContainer(ctx, "lifecycle")
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	if ok, _ := b.ContainerExists(ctx, "lifecycle"); ok {
		t.Fatalf("container survived delete")
	}
	if ok, _ := b.BlobExists(ctx, path("lifecycle/a/b.txt")); ok {
		t.Fatalf("blob survived container delete")
	}
}

func testAccessPolicy(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "policy", core.AccessObjectReadable)
	got, err := b.ContainerAccessPolicy(ctx, "policy")
	if err != nil || got != core.AccessObjectReadable {
		t.Fatalf("policy after create: %q %v", got, err)
	}
	for _, p := range []core.AccessPolicy{core.AccessContainerReadable, core.AccessPrivate} {
		if err := b.SetContainerAccessPolicy(ctx, "policy", p); err != nil {
			t.Fatalf("set %s: %v", p, err)
		}
		got, err := b.ContainerAccessPolicy(ctx, "policy")
		if err != nil || got != p {
			t.Fatalf("policy: want %s got %q %v", p, got, err)
		}
	}
	_, err = b.ContainerAccessPolicy(ctx, "nopolicy")
	wantKind(t, err, core.KindContainerNotFound)
	err = b.SetContainerAccessPolicy(ctx, "nopolicy", core.AccessPrivate)
	wantKind(t, err, core.KindContainerNotFound)
}

func testCreateIsNotClobber(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "demo", "")
	p := path("demo/x.txt")
	first, err := b.CreateOverwriteBlob(ctx, p, core.CreateOptions{})
	if err != nil || !first.Created || first.ETag == "" {
		t.Fatalf("first create: %+v %v", first, err)
	}
	if _, err := b.SetOverwriteBlobContents(ctx, p, "keep", core.WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	second, err := b.CreateOverwriteBlob(ctx, p, core.CreateOptions{})
	if err != nil || second.Created {
		t.Fatalf("second create: %+v %v", second, err)
	}
	again, err := b.CreateAppendBlob(ctx, p, core.CreateOptions{})
	if err != nil || again.Created {
		t.Fatalf("append create over existing: %+v %v", again, err)
	}
	got, err := b.BlobContents(ctx, p)
	if err != nil || got.Contents != "keep" {
		t.Fatalf("content clobbered: %+v %v", got, err)
	}
}

func testVersionMonotonicity(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "demo", "")
	p := path("demo/v.txt")
	w1, err := b.SetOverwriteBlobContents(ctx, p, "v1", core.WriteOptions{})
	if err != nil || !w1.Created {
		t.Fatalf("first write: %+v %v", w1, err)
	}
	w2, err := b.SetOverwriteBlobContents(ctx, p, "v2", core.WriteOptions{ETag: w1.ETag})
	if err != nil || w2.Created {
		t.Fatalf("conditional write: %+v %v", w2, err)
	}
	if w2.ETag == w1.ETag {
		t.Fatalf("etag did not change: %s", w2.ETag)
	}
	_, err = b.SetOverwriteBlobContents(ctx, p, "v3", core.WriteOptions{ETag: w1.ETag})
	wantKind(t, err, core.KindConditionNotMet)
	got, err := b.BlobContents(ctx, p)
	if err != nil || got.Contents != "v2" || got.ETag != w2.ETag {
		t.Fatalf("rejected write applied: %+v %v", got, err)
	}
	props, err := b.BlobProperties(ctx, p)
	if err != nil || props.ETag != w2.ETag || props.Size != 2 {
		t.Fatalf("properties: %+v %v", props, err)
	}
}

func testIdenticalRewrite(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "demo", "")
	p := path("demo/same.txt")
	w1, err := b.SetOverwriteBlobContents(ctx, p, "same", core.WriteOptions{})
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	w2, err := b.SetOverwriteBlobContents(ctx, p, "same", core.WriteOptions{ETag: w1.ETag})
	if err != nil {
		t.Fatalf("identical rewrite: %v", err)
	}
	if w2.ETag == w1.ETag {
		t.Fatalf("identical rewrite kept etag %s", w1.ETag)
	}
	_, err = b.SetOverwriteBlobContents(ctx, p, "same", core.WriteOptions{ETag: w1.ETag})
	wantKind(t, err, core.KindConditionNotMet)
}

func testConditionalWriteMissing(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "demo", "")
	_, err := b.SetOverwriteBlobContents(ctx, path("demo/none.txt"), "x", core.WriteOptions{ETag: "1"})
	wantKind(t, err, core.KindConditionNotMet)
	if ok, _ := b.BlobExists(ctx, path("demo/none.txt")); ok {
		t.Fatalf("rejected write created the blob")
	}
}

func testAppendOnly(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "demo", "")
	p := path("demo/log.txt")
	res, err := b.CreateAppendBlob(ctx, p, core.CreateOptions{ContentType: "text/plain"})
	if err != nil || !res.Created {
		t.Fatalf("create append: %+v %v", res, err)
	}
	a, err := b.AppendBlobContents(ctx, p, "a", core.AppendOptions{})
	if err != nil {
		t.Fatalf("append a: %v", err)
	}
	bb, err := b.AppendBlobContents(ctx, p, "b", core.AppendOptions{ETag: a.ETag})
	if err != nil {
		t.Fatalf("append b: %v", err)
	}
	if bb.ETag == a.ETag {
		t.Fatalf("append kept etag %s", a.ETag)
	}
	got, err := b.BlobContents(ctx, p)
	if err != nil || got.Contents != "ab" {
		t.Fatalf("want ab, got %+v %v", got, err)
	}
	props, err := b.BlobProperties(ctx, p)
	if err != nil || props.BlobType != core.BlobTypeAppend || props.ContentType != "text/plain" {
		t.Fatalf("append blob properties: %+v %v", props, err)
	}
	// Overwriting turns the blob into an overwrite blob.
	if _, err := b.SetOverwriteBlobContents(ctx, p, "reset", core.WriteOptions{}); err != nil {
		t.Fatalf("overwrite append blob: %v", err)
	}
	_, err = b.AppendBlobContents(ctx, p, "c", core.AppendOptions{})
	wantKind(t, err, core.KindInvalidBlobType)
}

func testAppendPreconditions(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "demo", "")
	_, err := b.AppendBlobContents(ctx, path("demo/none.txt"), "x", core.AppendOptions{})
	wantKind(t, err, core.KindBlobNotFound)

	if _, err := b.CreateOverwriteBlob(ctx, path("demo/plain.txt"), core.CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = b.AppendBlobContents(ctx, path("demo/plain.txt"), "x", core.AppendOptions{})
	wantKind(t, err, core.KindInvalidBlobType)

	p := path("demo/log.txt")
	res, err := b.CreateAppendBlob(ctx, p, core.CreateOptions{})
	if err != nil {
		t.Fatalf("create append: %v", err)
	}
	if _, err := b.AppendBlobContents(ctx, p, "a", core.AppendOptions{ETag: res.ETag}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, err = b.AppendBlobContents(ctx, p, "b", core.AppendOptions{ETag: res.ETag})
	wantKind(t, err, core.KindConditionNotMet)
	got, _ := b.BlobContents(ctx, p)
	if got.Contents != "a" {
		t.Fatalf("stale append applied: %q", got.Contents)
	}
}

func testMissingContainerReads(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	p := path("ghost/x.txt")
	_, err := b.BlobProperties(ctx, p)
	wantKind(t, err, core.KindBlobNotFound)
	_, err = b.BlobContents(ctx, p)
	wantKind(t, err, core.KindBlobNotFound)
	_, err = b.BlobContentType(ctx, p)
	wantKind(t, err, core.KindBlobNotFound)
	if !errors.Is(err, core.ErrBlobNotFound) {
		t.Fatalf("errors.Is ErrBlobNotFound failed for %v", err)
	}
}

func testWriteMissingContainer(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	_, err := b.CreateOverwriteBlob(ctx, path("ghost/x.txt"), core.CreateOptions{})
	wantKind(t, err, core.KindContainerNotFound)
	_, err = b.SetOverwriteBlobContents(ctx, path("ghost/x.txt"), "x", core.WriteOptions{})
	wantKind(t, err, core.KindContainerNotFound)
	_, err = b.ListBlobs(ctx, "ghost", "")
	wantKind(t, err, core.KindContainerNotFound)
}

func testContentType(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "demo", "")
	p := path("demo/page.html")
	if _, err := b.CreateOverwriteBlob(ctx, p, core.CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	ct, err := b.BlobContentType(ctx, p)
	if err != nil || ct != core.DefaultContentType {
		t.Fatalf("default content type: %q %v", ct, err)
	}
	before, _ := b.BlobProperties(ctx, p)
	if err := b.SetBlobContentType(ctx, p, "text/html"); err != nil {
		t.Fatalf("set content type: %v", err)
	}
	ct, err = b.BlobContentType(ctx, p)
	if err != nil || ct != "text/html" {
		t.Fatalf("content type: %q %v", ct, err)
	}
	after, _ := b.BlobProperties(ctx, p)
	if after.ETag == before.ETag {
		t.Fatalf("content type change kept etag %s", after.ETag)
	}
	// A write without a type keeps the stored one.
	if _, err := b.SetOverwriteBlobContents(ctx, p, "<p>", core.WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ct, _ := b.BlobContentType(ctx, p); ct != "text/html" {
		t.Fatalf("write dropped content type: %q", ct)
	}
	if _, err := b.SetOverwriteBlobContents(ctx, p, "{}", core.WriteOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ct, _ := b.BlobContentType(ctx, p); ct != "application/json" {
		t.Fatalf("write ignored content type: %q", ct)
	}
	err = b.SetBlobContentType(ctx, path("demo/none"), "text/plain")
	wantKind(t, err, core.KindBlobNotFound)
}

func testDeleteBlob(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	Container(t, b, "demo", "")
	p := path("demo/gone.txt")
	if _, err := b.SetOverwriteBlobContents(ctx, p, "bye", core.WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	deleted, err := b.DeleteBlob(ctx, p)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = b.DeleteBlob(ctx, p)
	if err != nil || deleted {
		t.Fatalf("second delete: %v %v", deleted, err)
	}
	_, err = b.BlobContents(ctx, p)
	wantKind(t, err, core.KindBlobNotFound)
}

func testListBlobs(t *testing.T, b core.Backend, opts Options) {
	ctx := context.Background()
	Container(t, b, "listing", "")
	for _, name := range []string{"a/1", "a/2", "a/3", "b/1"} {
		if _, err := b.SetOverwriteBlobContents(ctx, path("listing/"+name), name, core.WriteOptions{}); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	all, err := b.ListBlobs(ctx, "listing", "")
	if err != nil || len(all) != 4 {
		t.Fatalf("list all: %d %v", len(all), err)
	}
	sub, err := b.ListBlobs(ctx, "listing", "a/")
	if err != nil || len(sub) != 3 {
		t.Fatalf("list prefix: %+v %v", sub, err)
	}
	for i, want := range []string{"a/1", "a/2", "a/3"} {
		if sub[i].Path != path("listing/"+want) {
			t.Fatalf("entry %d: %+v", i, sub[i].Path)
		}
		if sub[i].Size != int64(len(want)) {
			t.Fatalf("entry %d size: %+v", i, sub[i].Properties)
		}
		if opts.ListingsOmitMetadata {
			if sub[i].ETag != "" || sub[i].BlobType != "" {
				t.Fatalf("entry %d carries metadata the listing cannot know: %+v", i, sub[i].Properties)
			}
			continue
		}
		if sub[i].ETag == "" || sub[i].BlobType != core.BlobTypeOverwrite {
			t.Fatalf("entry %d properties: %+v", i, sub[i].Properties)
		}
	}
}

func testURLs(t *testing.T, b core.Backend, opts Options) {
	ctx := context.Background()
	p := path("demo/dir/a b.txt")
	raw, err := b.BlobURL(ctx, p, core.URLOptions{})
	if err != nil {
		t.Fatalf("blob url: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	if !strings.HasSuffix(u.Path, "/demo/dir/a b.txt") || u.RawQuery != "" {
		t.Fatalf("unexpected url %s", raw)
	}
	enc, err := b.BlobURL(ctx, p, core.URLOptions{EncodeObjectName: true})
	if err != nil || !strings.HasSuffix(enc, "/demo/dir/a%20b.txt") {
		t.Fatalf("encoded url %s %v", enc, err)
	}
	back, err := core.PathFromURL(strings.TrimSuffix(raw, "demo/dir/a%20b.txt"), enc)
	if err != nil || back != p {
		t.Fatalf("decode %s: %+v %v", enc, back, err)
	}
	cu, err := b.ContainerURL(ctx, "demo", core.URLOptions{})
	if err != nil || !strings.HasSuffix(cu, "/demo") {
		t.Fatalf("container url %s %v", cu, err)
	}
	au, err := b.AccountURL(ctx, core.URLOptions{})
	if err != nil || !strings.HasSuffix(au, "/") {
		t.Fatalf("account url %s %v", au, err)
	}
	_, err = b.BlobURL(ctx, path("demo"), core.URLOptions{})
	wantKind(t, err, core.KindInvalidURI)

	start := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	signed, err := b.BlobURL(ctx, p, core.URLOptions{IncludeSignature: true, Start: start, Expiry: 30 * time.Minute})
	if !opts.CanSign {
		if !errors.Is(err, core.ErrSigningKeyRequired) {
			t.Fatalf("expected ErrSigningKeyRequired, got %v", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("signed url: %v", err)
	}
	su, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse %s: %v", signed, err)
	}
	q := su.Query()
	for _, k := range []string{"X-Amz-Algorithm", "X-Amz-Credential", "X-Amz-Date", "X-Amz-Expires", "X-Amz-SignedHeaders", "X-Amz-Signature"} {
		if q.Get(k) == "" {
			t.Fatalf("signed url %s lacks %s", signed, k)
		}
	}
	if q.Get("X-Amz-Date") != "20300102T030405Z" || q.Get("X-Amz-Expires") != "1800" {
		t.Fatalf("signature window: %s", su.RawQuery)
	}
}

func testParity(t *testing.T, b core.Backend, _ Options) {
	ctx := context.Background()
	created, err := b.CreateContainer(ctx, "demo", core.AccessPrivate)
	if err != nil || !created {
		t.Fatalf("create container: %v %v", created, err)
	}
	t.Cleanup(func() { _, _ = b.DeleteContainer(context.Background(), "demo") })
	res, err := b.CreateOverwriteBlob(ctx, path("demo/x.txt"), core.CreateOptions{})
	if err != nil || !res.Created {
		t.Fatalf("create blob: %+v %v", res, err)
	}
	if _, err := b.SetOverwriteBlobContents(ctx, path("demo/x.txt"), "hello", core.WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := b.BlobContents(ctx, path("demo/x.txt"))
	if err != nil || got.Contents != "hello" {
		t.Fatalf("read: %+v %v", got, err)
	}
	_, err = b.BlobContents(ctx, path("demo/missing.txt"))
	wantKind(t, err, core.KindBlobNotFound)
}
