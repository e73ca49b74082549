package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"blobkit/internal/blob/blobtest"
	"blobkit/internal/blob/core"
	"blobkit/internal/infra/blob/memory"
)

func openBackend(t *testing.T, path string) core.Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), path, zerolog.Nop(), memory.WithSigningKey("AKIASQL", "sql-secret"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return b
}

func TestConformance(t *testing.T) {
	blobtest.Run(t, func(t *testing.T) core.Backend {
		return openBackend(t, filepath.Join(t.TempDir(), "state.db"))
	}, blobtest.Options{CanSign: true})
}

func TestSQLiteBackendPersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	first := openBackend(t, path)
	if first.Driver() != core.DriverSQLite {
		t.Fatalf("driver = %s", first.Driver())
	}
	if _, err := first.CreateContainer(ctx, "persist", core.AccessContainerReadable); err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := first.SetOverwriteBlobContents(ctx, core.ParsePath("persist/a.txt"), "hello", core.WriteOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	second := openBackend(t, path)
	got, err := second.BlobContents(ctx, core.ParsePath("persist/a.txt"))
	if err != nil {
		t.Fatalf("read after reload: %v", err)
	}
	if got.Contents != "hello" || got.ETag != w.ETag {
		t.Fatalf("unexpected contents after reload: %+v", got)
	}
	if ct, err := second.BlobContentType(ctx, core.ParsePath("persist/a.txt")); err != nil || ct != "text/plain" {
		t.Fatalf("content type after reload: %q %v", ct, err)
	}
	policy, err := second.ContainerAccessPolicy(ctx, "persist")
	if err != nil || policy != core.AccessContainerReadable {
		t.Fatalf("policy after reload: %s %v", policy, err)
	}
	// Version tokens keep counting from the persisted sequence.
	w2, err := second.SetOverwriteBlobContents(ctx, core.ParsePath("persist/a.txt"), "again", core.WriteOptions{ETag: w.ETag})
	if err != nil || w2.ETag == w.ETag {
		t.Fatalf("write after reload: %+v %v", w2, err)
	}
}

func TestSQLiteBackendDropsDeletedContainers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	b := openBackend(t, path)
	for _, name := range []string{"keep", "drop"} {
		if _, err := b.CreateContainer(ctx, name, ""); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if deleted, err := b.DeleteContainer(ctx, "drop"); err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	var n int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM blob_state WHERE container = ?`, "drop").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected deleted container row to be removed, found %d", n)
	}
	reloaded := openBackend(t, path)
	infos, err := reloaded.ListContainers(ctx)
	if err != nil || len(infos) != 1 || infos[0].Name != "keep" {
		t.Fatalf("containers after reload: %+v %v", infos, err)
	}
}

func TestSQLiteStoreDefaultPath(t *testing.T) {
	t.Chdir(t.TempDir())
	store, err := Open("")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if store.Path() != DefaultPath {
		t.Fatalf("path = %s", store.Path())
	}
}
