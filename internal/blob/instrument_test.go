package blob

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type observation struct {
	driver, op, outcome string
}

type captureRecorder struct {
	mu  sync.Mutex
	obs []observation
}

func (c *captureRecorder) Observe(_ context.Context, driver, operation, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = append(c.obs, observation{driver, operation, outcome})
}

func (c *captureRecorder) has(op, outcome string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.obs {
		if o.op == op && o.outcome == outcome && o.driver == string(DriverMemory) {
			return true
		}
	}
	return false
}

func TestInstrumentRecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	rec := &captureRecorder{}
	var buf bytes.Buffer
	store := Instrument(NewMemory(), rec, zerolog.New(&buf).Level(zerolog.WarnLevel))

	if _, err := store.CreateContainer(ctx, "metrics", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.BlobContents(ctx, ParsePath("metrics/missing")); !IsKind(err, KindBlobNotFound) {
		t.Fatalf("expected BlobNotFound, got %v", err)
	}
	if _, err := store.CreateContainer(ctx, "Bad", ""); !IsKind(err, KindInvalidResourceName) {
		t.Fatalf("expected InvalidResourceName, got %v", err)
	}
	if ok, err := store.BlobExists(ctx, ParsePath("metrics/missing")); err != nil || ok {
		t.Fatalf("exists: %v %v", ok, err)
	}

	for _, want := range []observation{
		{op: "CreateContainer", outcome: OutcomeOK},
		{op: "BlobContents", outcome: string(KindBlobNotFound)},
		{op: "CreateContainer", outcome: string(KindInvalidResourceName)},
		{op: "BlobExists", outcome: OutcomeOK},
	} {
		if !rec.has(want.op, want.outcome) {
			t.Fatalf("missing observation %+v in %+v", want, rec.obs)
		}
	}
	logs := buf.String()
	if strings.Count(logs, "blob call failed") != 2 || !strings.Contains(logs, `"kind":"BlobNotFound"`) {
		t.Fatalf("unexpected logs: %s", logs)
	}
}

func TestInstrumentWrapsHandles(t *testing.T) {
	ctx := context.Background()
	rec := &captureRecorder{}
	acct := NewAccount(Instrument(NewMemory(), rec, zerolog.Nop()))
	if _, err := acct.Container("wrapped").Create(ctx, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	b := acct.BlockBlob("wrapped/a")
	if _, err := b.SetContents(ctx, "x", WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !rec.has("SetOverwriteBlobContents", OutcomeOK) {
		t.Fatalf("handle calls should pass through the wrapper: %+v", rec.obs)
	}
	if acct.Store().Driver() != DriverMemory {
		t.Fatalf("wrapper keeps the driver")
	}
}

func TestInstrumentWithoutRecorder(t *testing.T) {
	store := Instrument(NewMemory(), nil, zerolog.Nop())
	if _, err := store.ListContainers(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
}
