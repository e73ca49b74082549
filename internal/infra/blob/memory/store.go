// Package memory implements an in-memory blob backend for tests. It
// reproduces the remote service's error kinds and version-token behaviour so
// it can stand in for it.
package memory

import (
	"blobkit/internal/blob/core"
	"blobkit/internal/infra/blob/sigv4"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultAccountURL is the synthetic base for URL-shaped outputs. Nothing
// listens there.
const DefaultAccountURL = "https://fake.storage.example/"

type blobEntry struct {
	data        []byte
	contentType string
	blobType    core.BlobType
	etag        string
	modified    time.Time
}

type containerEntry struct {
	policy  core.AccessPolicy
	created time.Time
	blobs   map[string]*blobEntry
}

// Backend implements core.Backend backed by process memory.
// The mutex only keeps the maps consistent; conditional writes remain the
// sole concurrency control visible to callers.
type Backend struct {
	mu         sync.RWMutex
	containers map[string]*containerEntry
	seq        uint64

	base   *url.URL
	signer sigv4.Signer
	clock  clockwork.Clock
	log    zerolog.Logger
}

// Option configures a Backend.
type Option func(*Backend) error

// WithAccountURL overrides the synthetic account URL.
func WithAccountURL(raw string) Option {
	return func(b *Backend) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("account url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("account url %q must be absolute", raw)
		}
		b.base = u
		return nil
	}
}

// WithSigningKey lets the backend mint signed URLs.
func WithSigningKey(id, secret string) Option {
	return func(b *Backend) error {
		b.signer.Key = sigv4.Key{ID: id, Secret: secret}
		return nil
	}
}

// WithClock sets the clock used for modification times and signatures.
func WithClock(c clockwork.Clock) Option {
	return func(b *Backend) error {
		b.clock = c
		b.signer.Clock = c
		return nil
	}
}

// WithLogger sets the backend logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) error {
		b.log = l
		return nil
	}
}

// New returns an empty in-memory backend.
func New(opts ...Option) (*Backend, error) {
	base, _ := url.Parse(DefaultAccountURL)
	clock := clockwork.NewRealClock()
	b := &Backend{
		containers: make(map[string]*containerEntry),
		base:       base,
		signer:     sigv4.Signer{Region: sigv4.DefaultRegion, Clock: clock},
		clock:      clock,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Driver returns the blob driver identifier.
func (b *Backend) Driver() core.Driver { return core.DriverMemory }

// nextETag must be called with mu held for writing.
func (b *Backend) nextETag() string {
	b.seq++
	return strconv.FormatUint(b.seq, 10)
}

// AccountURL returns the configured base URL, signed on request.
func (b *Backend) AccountURL(ctx context.Context, opts core.URLOptions) (string, error) {
	return b.signer.BuildURL(ctx, b.base, "", "", opts)
}

// ContainerURL returns the URL of a container under the base URL.
func (b *Backend) ContainerURL(ctx context.Context, name string, opts core.URLOptions) (string, error) {
	if err := core.ValidateContainerName("ContainerURL", name); err != nil {
		return "", err
	}
	return b.signer.BuildURL(ctx, b.base, name, "", opts)
}

// BlobURL returns the URL of a blob. Signing needs WithSigningKey.
func (b *Backend) BlobURL(ctx context.Context, p core.Path, opts core.URLOptions) (string, error) {
	if err := core.ValidateBlobPath("BlobURL", p); err != nil {
		return "", err
	}
	return b.signer.BuildURL(ctx, b.base, p.Container, p.Object, opts)
}

// ContainerExists reports whether the container is held in memory.
func (b *Backend) ContainerExists(_ context.Context, name string) (bool, error) {
	if err := core.ValidateContainerName("ContainerExists", name); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.containers[name]
	return ok, nil
}

// CreateContainer adds an empty container. It returns false, leaving the
// existing policy alone, when the name is taken.
func (b *Backend) CreateContainer(_ context.Context, name string, policy core.AccessPolicy) (bool, error) {
	if err := core.ValidateContainerName("CreateContainer", name); err != nil {
		return false, err
	}
	policy, err := core.NormalizePolicy(policy)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.containers[name]; ok {
		return false, nil
	}
	b.containers[name] = &containerEntry{policy: policy, created: b.clock.Now().UTC(), blobs: make(map[string]*blobEntry)}
	b.log.Debug().Str("container", name).Str("policy", string(policy)).Msg("container created")
	return true, nil
}

// DeleteContainer drops the container together with its blobs.
func (b *Backend) DeleteContainer(_ context.Context, name string) (bool, error) {
	if err := core.ValidateContainerName("DeleteContainer", name); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[name]
	if !ok {
		return false, nil
	}
	delete(b.containers, name)
	b.log.Debug().Str("container", name).Int("blobs", len(c.blobs)).Msg("container deleted")
	return true, nil
}

// ListContainers returns containers ordered by name, as the service does.
func (b *Backend) ListContainers(_ context.Context) ([]core.ContainerInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.ContainerInfo, 0, len(b.containers))
	for name, c := range b.containers {
		out = append(out, core.ContainerInfo{Name: name, LastModified: c.created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ContainerAccessPolicy returns the policy recorded at creation or by the
// last SetContainerAccessPolicy.
func (b *Backend) ContainerAccessPolicy(_ context.Context, name string) (core.AccessPolicy, error) {
	if err := core.ValidateContainerName("ContainerAccessPolicy", name); err != nil {
		return "", err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.containers[name]
	if !ok {
		return "", core.NewError(core.KindContainerNotFound, "ContainerAccessPolicy", name, nil)
	}
	return c.policy, nil
}

// SetContainerAccessPolicy replaces the container policy.
func (b *Backend) SetContainerAccessPolicy(_ context.Context, name string, policy core.AccessPolicy) error {
	if err := core.ValidateContainerName("SetContainerAccessPolicy", name); err != nil {
		return err
	}
	policy, err := core.NormalizePolicy(policy)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[name]
	if !ok {
		return core.NewError(core.KindContainerNotFound, "SetContainerAccessPolicy", name, nil)
	}
	c.policy = policy
	return nil
}

// ListBlobs returns the blobs whose name starts with prefix, ordered by name.
func (b *Backend) ListBlobs(_ context.Context, container, prefix string) ([]core.BlobInfo, error) {
	if err := core.ValidateContainerName("ListBlobs", container); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.containers[container]
	if !ok {
		return nil, core.NewError(core.KindContainerNotFound, "ListBlobs", container, nil)
	}
	out := make([]core.BlobInfo, 0, len(c.blobs))
	for name, e := range c.blobs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, core.BlobInfo{Path: core.Path{Container: container, Object: name}, Properties: e.properties()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.Object < out[j].Path.Object })
	return out, nil
}

// BlobExists is false for a missing container as well as a missing blob.
func (b *Backend) BlobExists(_ context.Context, p core.Path) (bool, error) {
	if err := core.ValidateBlobPath("BlobExists", p); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.lookup(p)
	return ok, nil
}

// BlobProperties returns a copy of the blob metadata.
func (b *Backend) BlobProperties(_ context.Context, p core.Path) (core.Properties, error) {
	e, err := b.read("BlobProperties", p)
	if err != nil {
		return core.Properties{}, err
	}
	return e.properties(), nil
}

// BlobContents returns the content with the ETag it was read at.
func (b *Backend) BlobContents(_ context.Context, p core.Path) (core.Contents, error) {
	e, err := b.read("BlobContents", p)
	if err != nil {
		return core.Contents{}, err
	}
	return core.Contents{Contents: string(e.data), ETag: e.etag}, nil
}

// BlobContentType returns the stored content type.
func (b *Backend) BlobContentType(_ context.Context, p core.Path) (string, error) {
	e, err := b.read("BlobContentType", p)
	if err != nil {
		return "", err
	}
	return e.contentType, nil
}

// CreateOverwriteBlob creates an empty overwrite blob unless the name is taken.
func (b *Backend) CreateOverwriteBlob(_ context.Context, p core.Path, opts core.CreateOptions) (core.CreateResult, error) {
	return b.create("CreateOverwriteBlob", p, core.BlobTypeOverwrite, opts)
}

// CreateAppendBlob creates an empty append blob unless the name is taken.
func (b *Backend) CreateAppendBlob(_ context.Context, p core.Path, opts core.CreateOptions) (core.CreateResult, error) {
	return b.create("CreateAppendBlob", p, core.BlobTypeAppend, opts)
}

// SetOverwriteBlobContents replaces the blob, creating it when absent. The
// stored content type survives unless opts names a new one.
func (b *Backend) SetOverwriteBlobContents(_ context.Context, p core.Path, content string, opts core.WriteOptions) (core.WriteResult, error) {
	const op = "SetOverwriteBlobContents"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return core.WriteResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[p.Container]
	if !ok {
		return core.WriteResult{}, core.NewError(core.KindContainerNotFound, op, p.Container, nil)
	}
	prev := c.blobs[p.Object]
	if opts.ETag != "" && (prev == nil || prev.etag != opts.ETag) {
		return core.WriteResult{}, core.NewError(core.KindConditionNotMet, op, p.String(), nil)
	}
	ct := opts.ContentType
	if ct == "" && prev != nil {
		ct = prev.contentType
	}
	if ct == "" {
		ct = core.DefaultContentType
	}
	e := &blobEntry{
		data:        []byte(content),
		contentType: ct,
		blobType:    core.BlobTypeOverwrite,
		etag:        b.nextETag(),
		modified:    b.clock.Now().UTC(),
	}
	c.blobs[p.Object] = e
	return core.WriteResult{Created: prev == nil, ETag: e.etag}, nil
}

// AppendBlobContents extends an append blob in place.
func (b *Backend) AppendBlobContents(_ context.Context, p core.Path, content string, opts core.AppendOptions) (core.AppendResult, error) {
	const op = "AppendBlobContents"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return core.AppendResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[p.Container]
	if !ok {
		return core.AppendResult{}, core.NewError(core.KindContainerNotFound, op, p.Container, nil)
	}
	e, ok := c.blobs[p.Object]
	if !ok {
		return core.AppendResult{}, core.NewError(core.KindBlobNotFound, op, p.String(), nil)
	}
	if opts.ETag != "" && e.etag != opts.ETag {
		return core.AppendResult{}, core.NewError(core.KindConditionNotMet, op, p.String(), nil)
	}
	if e.blobType != core.BlobTypeAppend {
		return core.AppendResult{}, core.NewError(core.KindInvalidBlobType, op, p.String(), nil)
	}
	data := make([]byte, 0, len(e.data)+len(content))
	data = append(append(data, e.data...), content...)
	e.data = data
	e.etag = b.nextETag()
	e.modified = b.clock.Now().UTC()
	return core.AppendResult{ETag: e.etag}, nil
}

// SetBlobContentType changes the content type and issues a new ETag.
func (b *Backend) SetBlobContentType(_ context.Context, p core.Path, contentType string) error {
	const op = "SetBlobContentType"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.lookup(p)
	if !ok {
		return core.NewError(core.KindBlobNotFound, op, p.String(), nil)
	}
	e.contentType = contentType
	e.etag = b.nextETag()
	e.modified = b.clock.Now().UTC()
	return nil
}

// DeleteBlob reports false when there was nothing to delete.
func (b *Backend) DeleteBlob(_ context.Context, p core.Path) (bool, error) {
	if err := core.ValidateBlobPath("DeleteBlob", p); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[p.Container]
	if !ok {
		return false, nil
	}
	if _, ok := c.blobs[p.Object]; !ok {
		return false, nil
	}
	delete(c.blobs, p.Object)
	return true, nil
}

func (b *Backend) create(op string, p core.Path, typ core.BlobType, opts core.CreateOptions) (core.CreateResult, error) {
	if err := core.ValidateBlobPath(op, p); err != nil {
		return core.CreateResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[p.Container]
	if !ok {
		return core.CreateResult{}, core.NewError(core.KindContainerNotFound, op, p.Container, nil)
	}
	if _, exists := c.blobs[p.Object]; exists {
		return core.CreateResult{Created: false}, nil
	}
	ct := opts.ContentType
	if ct == "" {
		ct = core.DefaultContentType
	}
	e := &blobEntry{contentType: ct, blobType: typ, etag: b.nextETag(), modified: b.clock.Now().UTC()}
	c.blobs[p.Object] = e
	return core.CreateResult{Created: true, ETag: e.etag}, nil
}

// read validates p and returns a copy of its entry. A missing container is
// reported as BlobNotFound, matching the service's blob endpoint.
func (b *Backend) read(op string, p core.Path) (blobEntry, error) {
	if err := core.ValidateBlobPath(op, p); err != nil {
		return blobEntry{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.lookup(p)
	if !ok {
		return blobEntry{}, core.NewError(core.KindBlobNotFound, op, p.String(), nil)
	}
	cp := *e
	cp.data = append([]byte(nil), e.data...)
	return cp, nil
}

// lookup must be called with mu held.
func (b *Backend) lookup(p core.Path) (*blobEntry, bool) {
	c, ok := b.containers[p.Container]
	if !ok {
		return nil, false
	}
	e, ok := c.blobs[p.Object]
	return e, ok
}

func (e *blobEntry) properties() core.Properties {
	return core.Properties{
		ETag:         e.etag,
		ContentType:  e.contentType,
		BlobType:     e.blobType,
		Size:         int64(len(e.data)),
		LastModified: e.modified,
	}
}
