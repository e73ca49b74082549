package snapshot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"blobkit/internal/blob/blobtest"
	"blobkit/internal/blob/core"
	"blobkit/internal/infra/blob/memory"
)

type recordingSaver struct {
	mu      sync.Mutex
	initial memory.Snapshot
	saves   []memory.Snapshot
	loadErr error
	saveErr error
}

func (r *recordingSaver) Load(context.Context) (memory.Snapshot, error) {
	return r.initial, r.loadErr
}

func (r *recordingSaver) Save(_ context.Context, s memory.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves = append(r.saves, s)
	return nil
}

func (r *recordingSaver) last(t *testing.T) memory.Snapshot {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saves) == 0 {
		t.Fatalf("nothing saved")
	}
	return r.saves[len(r.saves)-1]
}

func TestConformance(t *testing.T) {
	blobtest.Run(t, func(t *testing.T) core.Backend {
		b, err := New(context.Background(), core.DriverSQLite, &recordingSaver{}, zerolog.Nop(), memory.WithSigningKey("AKIASNAP", "snap-secret"))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return b
	}, blobtest.Options{CanSign: true})
}

func TestEveryAcceptedMutationSaves(t *testing.T) {
	ctx := context.Background()
	saver := &recordingSaver{}
	b, err := New(ctx, core.DriverPostgres, saver, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := core.ParsePath("box/item")
	steps := []func() error{
		func() error { _, err := b.CreateContainer(ctx, "box", ""); return err },
		func() error { return b.SetContainerAccessPolicy(ctx, "box", core.AccessObjectReadable) },
		func() error { _, err := b.CreateOverwriteBlob(ctx, p, core.CreateOptions{}); return err },
		func() error { _, err := b.SetOverwriteBlobContents(ctx, p, "x", core.WriteOptions{}); return err },
		func() error { return b.SetBlobContentType(ctx, p, "text/plain") },
		func() error { _, err := b.DeleteBlob(ctx, p); return err },
		func() error { _, err := b.CreateAppendBlob(ctx, p, core.CreateOptions{}); return err },
		func() error { _, err := b.AppendBlobContents(ctx, p, "y", core.AppendOptions{}); return err },
		func() error { _, err := b.DeleteContainer(ctx, "box"); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if len(saver.saves) != i+1 {
			t.Fatalf("step %d: expected %d saves, got %d", i, i+1, len(saver.saves))
		}
	}
	if got := saver.last(t); len(got.Containers) != 0 || got.Seq == 0 {
		t.Fatalf("final snapshot: %+v", got)
	}
}

func TestRejectedMutationsDoNotSave(t *testing.T) {
	ctx := context.Background()
	saver := &recordingSaver{}
	b, err := New(ctx, core.DriverSQLite, saver, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.SetOverwriteBlobContents(ctx, core.ParsePath("nope/x"), "x", core.WriteOptions{}); !core.IsKind(err, core.KindContainerNotFound) {
		t.Fatalf("expected ContainerNotFound, got %v", err)
	}
	if _, err := b.DeleteContainer(ctx, "nope"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if len(saver.saves) != 0 {
		t.Fatalf("expected no saves, got %d", len(saver.saves))
	}
}

func TestNewRestoresSavedState(t *testing.T) {
	ctx := context.Background()
	src, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if _, err := src.CreateContainer(ctx, "kept", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := src.SetOverwriteBlobContents(ctx, core.ParsePath("kept/a"), "abc", core.WriteOptions{})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := New(ctx, core.DriverSQLite, &recordingSaver{initial: src.Snapshot()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := b.BlobContents(ctx, core.ParsePath("kept/a"))
	if err != nil || got.Contents != "abc" || got.ETag != w.ETag {
		t.Fatalf("restored contents: %+v %v", got, err)
	}
}

func TestSaveAndLoadErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, core.DriverSQLite, &recordingSaver{loadErr: errors.New("disk gone")}, zerolog.Nop()); err == nil {
		t.Fatalf("expected load error")
	}
	b, err := New(ctx, core.DriverSQLite, &recordingSaver{saveErr: errors.New("disk full")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = b.CreateContainer(ctx, "full", "")
	if err == nil || core.KindOf(err) != core.KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if ok, _ := b.ContainerExists(ctx, "full"); !ok {
		t.Fatalf("in-memory mutation should stand after a failed save")
	}
}

func TestRowsRoundTripAndStale(t *testing.T) {
	snap := memory.Snapshot{Seq: 7, Containers: map[string]memory.ContainerSnapshot{
		"a": {Policy: core.AccessPrivate},
		"b": {Policy: core.AccessContainerReadable},
	}}
	rows, err := Rows(snap)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if _, ok := rows[MetaKey]; !ok || len(rows) != 3 {
		t.Fatalf("rows: %v", rows)
	}
	rows["empty"] = nil
	back, err := FromRows(rows)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	if back.Seq != 7 || len(back.Containers) != 2 || back.Containers["b"].Policy != core.AccessContainerReadable {
		t.Fatalf("round trip: %+v", back)
	}
	stale := Stale(map[string]bool{"a": true, "gone": true, "old": true}, rows)
	sort.Strings(stale)
	if len(stale) != 2 || stale[0] != "gone" || stale[1] != "old" {
		t.Fatalf("stale: %v", stale)
	}
}
