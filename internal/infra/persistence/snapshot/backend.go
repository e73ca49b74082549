// Package snapshot makes the in-memory simulation durable: every accepted
// mutation hands the full state to a Saver, and construction reloads it.
package snapshot

import (
	"blobkit/internal/blob/core"
	"blobkit/internal/infra/blob/memory"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Saver stores and reloads memory snapshots.
type Saver interface {
	Load(ctx context.Context) (memory.Snapshot, error)
	Save(ctx context.Context, s memory.Snapshot) error
}

// Backend is a memory.Backend whose state survives restarts. Reads are
// served from memory; a failed save is returned to the caller even though
// the in-memory mutation stands.
type Backend struct {
	*memory.Backend
	driver core.Driver
	saver  Saver
	mu     sync.Mutex
	log    zerolog.Logger
}

// Compile-time contract assertion.
var _ core.Backend = (*Backend)(nil)

// New loads the saved state into a fresh memory backend.
func New(ctx context.Context, driver core.Driver, saver Saver, log zerolog.Logger, opts ...memory.Option) (*Backend, error) {
	mem, err := memory.New(append([]memory.Option{memory.WithLogger(log)}, opts...)...)
	if err != nil {
		return nil, err
	}
	snap, err := saver.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	mem.Restore(snap)
	log.Debug().Str("driver", string(driver)).Int("containers", len(snap.Containers)).Msg("snapshot loaded")
	return &Backend{Backend: mem, driver: driver, saver: saver, log: log}, nil
}

func (b *Backend) Driver() core.Driver { return b.driver }

func (b *Backend) persist(ctx context.Context, op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.saver.Save(ctx, b.Snapshot()); err != nil {
		b.log.Error().Err(err).Str("op", op).Msg("snapshot save failed")
		return core.Errorf(op, fmt.Errorf("save snapshot: %w", err))
	}
	return nil
}

func (b *Backend) CreateContainer(ctx context.Context, name string, policy core.AccessPolicy) (bool, error) {
	created, err := b.Backend.CreateContainer(ctx, name, policy)
	if err != nil || !created {
		return created, err
	}
	return true, b.persist(ctx, "CreateContainer")
}

func (b *Backend) DeleteContainer(ctx context.Context, name string) (bool, error) {
	deleted, err := b.Backend.DeleteContainer(ctx, name)
	if err != nil || !deleted {
		return deleted, err
	}
	return true, b.persist(ctx, "DeleteContainer")
}

func (b *Backend) SetContainerAccessPolicy(ctx context.Context, name string, policy core.AccessPolicy) error {
	if err := b.Backend.SetContainerAccessPolicy(ctx, name, policy); err != nil {
		return err
	}
	return b.persist(ctx, "SetContainerAccessPolicy")
}

func (b *Backend) CreateOverwriteBlob(ctx context.Context, p core.Path, opts core.CreateOptions) (core.CreateResult, error) {
	res, err := b.Backend.CreateOverwriteBlob(ctx, p, opts)
	if err != nil || !res.Created {
		return res, err
	}
	return res, b.persist(ctx, "CreateOverwriteBlob")
}

func (b *Backend) CreateAppendBlob(ctx context.Context, p core.Path, opts core.CreateOptions) (core.CreateResult, error) {
	res, err := b.Backend.CreateAppendBlob(ctx, p, opts)
	if err != nil || !res.Created {
		return res, err
	}
	return res, b.persist(ctx, "CreateAppendBlob")
}

func (b *Backend) SetOverwriteBlobContents(ctx context.Context, p core.Path, content string, opts core.WriteOptions) (core.WriteResult, error) {
	res, err := b.Backend.SetOverwriteBlobContents(ctx, p, content, opts)
	if err != nil {
		return res, err
	}
	return res, b.persist(ctx, "SetOverwriteBlobContents")
}

func (b *Backend) AppendBlobContents(ctx context.Context, p core.Path, content string, opts core.AppendOptions) (core.AppendResult, error) {
	res, err := b.Backend.AppendBlobContents(ctx, p, content, opts)
	if err != nil {
		return res, err
	}
	return res, b.persist(ctx, "AppendBlobContents")
}

func (b *Backend) SetBlobContentType(ctx context.Context, p core.Path, contentType string) error {
	if err := b.Backend.SetBlobContentType(ctx, p, contentType); err != nil {
		return err
	}
	return b.persist(ctx, "SetBlobContentType")
}

func (b *Backend) DeleteBlob(ctx context.Context, p core.Path) (bool, error) {
	deleted, err := b.Backend.DeleteBlob(ctx, p)
	if err != nil || !deleted {
		return deleted, err
	}
	return true, b.persist(ctx, "DeleteBlob")
}

// MetaKey is the row key holding backend-wide state. Container names cannot
// contain '$', so it never collides with a container row.
const MetaKey = "$meta"

type metaRow struct {
	Seq uint64 `json:"seq"`
}

// Rows splits a snapshot into one JSON payload per container plus MetaKey.
func Rows(s memory.Snapshot) (map[string][]byte, error) {
	rows := make(map[string][]byte, len(s.Containers)+1)
	for name, c := range s.Containers {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("encode container %s: %w", name, err)
		}
		rows[name] = b
	}
	meta, err := json.Marshal(metaRow{Seq: s.Seq})
	if err != nil {
		return nil, err
	}
	rows[MetaKey] = meta
	return rows, nil
}

// FromRows is the inverse of Rows. Empty payloads are skipped.
func FromRows(rows map[string][]byte) (memory.Snapshot, error) {
	s := memory.Snapshot{Containers: make(map[string]memory.ContainerSnapshot, len(rows))}
	for key, payload := range rows {
		if len(payload) == 0 {
			continue
		}
		if key == MetaKey {
			var m metaRow
			if err := json.Unmarshal(payload, &m); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode %s: %w", MetaKey, err)
			}
			s.Seq = m.Seq
			continue
		}
		var c memory.ContainerSnapshot
		if err := json.Unmarshal(payload, &c); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode container %s: %w", key, err)
		}
		s.Containers[key] = c
	}
	return s, nil
}

// Stale lists keys present in saved but absent from rows.
func Stale(saved map[string]bool, rows map[string][]byte) []string {
	var out []string
	for k := range saved {
		if _, ok := rows[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
