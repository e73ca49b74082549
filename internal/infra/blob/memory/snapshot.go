package memory

import (
	"blobkit/internal/blob/core"
	"time"
)

// Snapshot is a deep copy of the backend state, suitable for JSON encoding.
type Snapshot struct {
	Seq        uint64                       `json:"seq"`
	Containers map[string]ContainerSnapshot `json:"containers"`
}

// ContainerSnapshot is the persisted form of one container.
type ContainerSnapshot struct {
	Policy  core.AccessPolicy       `json:"policy"`
	Created time.Time               `json:"created"`
	Blobs   map[string]BlobSnapshot `json:"blobs"`
}

// BlobSnapshot is the persisted form of one blob.
type BlobSnapshot struct {
	Data        []byte        `json:"data"`
	ContentType string        `json:"content_type"`
	BlobType    core.BlobType `json:"blob_type"`
	ETag        string        `json:"etag"`
	Modified    time.Time     `json:"modified"`
}

// Snapshot returns a deep copy of the current state.
func (b *Backend) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := Snapshot{Seq: b.seq, Containers: make(map[string]ContainerSnapshot, len(b.containers))}
	for name, c := range b.containers {
		cs := ContainerSnapshot{Policy: c.policy, Created: c.created, Blobs: make(map[string]BlobSnapshot, len(c.blobs))}
		for obj, e := range c.blobs {
			cs.Blobs[obj] = BlobSnapshot{
				Data:        append([]byte(nil), e.data...),
				ContentType: e.contentType,
				BlobType:    e.blobType,
				ETag:        e.etag,
				Modified:    e.modified,
			}
		}
		out.Containers[name] = cs
	}
	return out
}

// Restore replaces the current state with s.
func (b *Backend) Restore(s Snapshot) {
	containers := make(map[string]*containerEntry, len(s.Containers))
	for name, cs := range s.Containers {
		c := &containerEntry{policy: cs.Policy, created: cs.Created, blobs: make(map[string]*blobEntry, len(cs.Blobs))}
		if c.policy == "" {
			c.policy = core.AccessPrivate
		}
		for obj, bs := range cs.Blobs {
			c.blobs[obj] = &blobEntry{
				data:        append([]byte(nil), bs.Data...),
				contentType: bs.ContentType,
				blobType:    bs.BlobType,
				etag:        bs.ETag,
				modified:    bs.Modified,
			}
		}
		containers[name] = c
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.containers = containers
	b.seq = s.Seq
}
