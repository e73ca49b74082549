// Package fs implements core.Backend on the local filesystem for development.
//
// Layout under the root:
//
//	<container>/container.json   access policy and creation time
//	<container>/data/<object>    blob content
//	<container>/meta/<object>.json  content type, blob type, etag
package fs

import (
	"blobkit/internal/blob/core"
	"blobkit/internal/infra/blob/sigv4"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultAccountURL is the pseudo base for URLs handed out by the driver.
const DefaultAccountURL = "http://local.blob/"

const (
	containerFile = "container.json"
	dataDir       = "data"
	metaDir       = "meta"
	metaSuffix    = ".json"
)

// Store implements core.Backend using the local filesystem. The mutex
// serialises writers within one process only; separate processes sharing a
// root are not coordinated.
type Store struct {
	root   string
	mu     sync.Mutex
	base   *url.URL
	signer sigv4.Signer
	clock  clockwork.Clock
	log    zerolog.Logger
}

// Option configures a Store.
type Option func(*Store) error

// WithAccountURL overrides DefaultAccountURL.
func WithAccountURL(raw string) Option {
	return func(s *Store) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("account url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("account url %q must be absolute", raw)
		}
		s.base = u
		return nil
	}
}

// WithSigningKey lets the store mint signed URLs.
func WithSigningKey(id, secret string) Option {
	return func(s *Store) error {
		s.signer.Key = sigv4.Key{ID: id, Secret: secret}
		return nil
	}
}

// WithClock sets the clock used for modification times and signatures.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) error {
		s.clock = c
		s.signer.Clock = c
		return nil
	}
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) error {
		s.log = l
		return nil
	}
}

// New returns a filesystem-backed blob store rooted at root, creating it if needed.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	base, _ := url.Parse(DefaultAccountURL)
	clock := clockwork.NewRealClock()
	s := &Store{
		root:   root,
		base:   base,
		signer: sigv4.Signer{Region: sigv4.DefaultRegion, Clock: clock},
		clock:  clock,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Driver reports core.DriverFilesystem.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

type containerMeta struct {
	Policy  core.AccessPolicy `json:"policy"`
	Created time.Time         `json:"created"`
}

type blobMeta struct {
	ContentType string        `json:"content_type"`
	BlobType    core.BlobType `json:"blob_type"`
	ETag        string        `json:"etag"`
	Size        int64         `json:"size"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (m blobMeta) properties() core.Properties {
	return core.Properties{ETag: m.ETag, ContentType: m.ContentType, BlobType: m.BlobType, Size: m.Size, LastModified: m.UpdatedAt}
}

// sanitizeObject keeps object names inside the container directory.
func sanitizeObject(op string, p core.Path) (string, error) {
	if err := core.ValidateBlobPath(op, p); err != nil {
		return "", err
	}
	key := p.Object
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") || strings.Contains(key, "\\") {
		return "", core.NewError(core.KindInvalidURI, op, p.String(), errors.New("object name not representable on disk"))
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", core.NewError(core.KindInvalidURI, op, p.String(), errors.New("path traversal"))
		}
	}
	return filepath.FromSlash(key), nil
}

func (s *Store) containerDir(name string) string { return filepath.Join(s.root, name) }

func (s *Store) paths(container, rel string) (data, meta string) {
	dir := s.containerDir(container)
	return filepath.Join(dir, dataDir, rel), filepath.Join(dir, metaDir, rel+metaSuffix)
}

func (s *Store) readContainer(name string) (containerMeta, bool, error) {
	var cm containerMeta
	err := readJSON(filepath.Join(s.containerDir(name), containerFile), &cm)
	if errors.Is(err, fs.ErrNotExist) {
		return containerMeta{}, false, nil
	}
	if err != nil {
		return containerMeta{}, false, err
	}
	return cm, true, nil
}

// AccountURL returns the configured base URL, signed on request.
func (s *Store) AccountURL(ctx context.Context, opts core.URLOptions) (string, error) {
	return s.signer.BuildURL(ctx, s.base, "", "", opts)
}

// ContainerURL returns the URL of a container under the base URL.
func (s *Store) ContainerURL(ctx context.Context, name string, opts core.URLOptions) (string, error) {
	if err := core.ValidateContainerName("ContainerURL", name); err != nil {
		return "", err
	}
	return s.signer.BuildURL(ctx, s.base, name, "", opts)
}

// BlobURL returns the URL of a blob. Signing needs WithSigningKey.
func (s *Store) BlobURL(ctx context.Context, p core.Path, opts core.URLOptions) (string, error) {
	if err := core.ValidateBlobPath("BlobURL", p); err != nil {
		return "", err
	}
	return s.signer.BuildURL(ctx, s.base, p.Container, p.Object, opts)
}

// ContainerExists looks for the container marker file.
func (s *Store) ContainerExists(_ context.Context, name string) (bool, error) {
	const op = "ContainerExists"
	if err := core.ValidateContainerName(op, name); err != nil {
		return false, err
	}
	_, ok, err := s.readContainer(name)
	if err != nil {
		return false, core.Errorf(op, err)
	}
	return ok, nil
}

// CreateContainer lays out the data and meta directories and writes the
// container marker last, so a half-created container reads as absent.
func (s *Store) CreateContainer(_ context.Context, name string, policy core.AccessPolicy) (bool, error) {
	const op = "CreateContainer"
	if err := core.ValidateContainerName(op, name); err != nil {
		return false, err
	}
	policy, err := core.NormalizePolicy(policy)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.readContainer(name); err != nil || ok {
		return false, core.Errorf(op, err)
	}
	dir := s.containerDir(name)
	for _, sub := range []string{dataDir, metaDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return false, core.Errorf(op, err)
		}
	}
	if err := writeJSON(filepath.Join(dir, containerFile), containerMeta{Policy: policy, Created: s.clock.Now().UTC()}); err != nil {
		return false, core.Errorf(op, err)
	}
	s.log.Info().Str("container", name).Str("root", s.root).Msg("container created")
	return true, nil
}

// DeleteContainer removes the container directory and everything in it.
func (s *Store) DeleteContainer(_ context.Context, name string) (bool, error) {
	const op = "DeleteContainer"
	if err := core.ValidateContainerName(op, name); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.readContainer(name); err != nil || !ok {
		return false, core.Errorf(op, err)
	}
	if err := os.RemoveAll(s.containerDir(name)); err != nil {
		return false, core.Errorf(op, err)
	}
	s.log.Info().Str("container", name).Msg("container deleted")
	return true, nil
}

// ListContainers returns the directories under the root that carry a
// container marker, in name order.
func (s *Store) ListContainers(_ context.Context) ([]core.ContainerInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, core.Errorf("ListContainers", err)
	}
	var out []core.ContainerInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cm, ok, err := s.readContainer(e.Name())
		if err != nil {
			return nil, core.Errorf("ListContainers", err)
		}
		if ok {
			out = append(out, core.ContainerInfo{Name: e.Name(), LastModified: cm.Created})
		}
	}
	return out, nil
}

// ContainerAccessPolicy reads the policy from the container marker.
func (s *Store) ContainerAccessPolicy(_ context.Context, name string) (core.AccessPolicy, error) {
	const op = "ContainerAccessPolicy"
	if err := core.ValidateContainerName(op, name); err != nil {
		return "", err
	}
	cm, ok, err := s.readContainer(name)
	if err != nil {
		return "", core.Errorf(op, err)
	}
	if !ok {
		return "", core.NewError(core.KindContainerNotFound, op, name, nil)
	}
	return cm.Policy, nil
}

// SetContainerAccessPolicy rewrites the container marker with policy.
func (s *Store) SetContainerAccessPolicy(_ context.Context, name string, policy core.AccessPolicy) error {
	const op = "SetContainerAccessPolicy"
	if err := core.ValidateContainerName(op, name); err != nil {
		return err
	}
	policy, err := core.NormalizePolicy(policy)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cm, ok, err := s.readContainer(name)
	if err != nil {
		return core.Errorf(op, err)
	}
	if !ok {
		return core.NewError(core.KindContainerNotFound, op, name, nil)
	}
	cm.Policy = policy
	return core.Errorf(op, writeJSON(filepath.Join(s.containerDir(name), containerFile), cm))
}

// ListBlobs walks the metadata tree of the container.
func (s *Store) ListBlobs(_ context.Context, container, prefix string) ([]core.BlobInfo, error) {
	const op = "ListBlobs"
	if err := core.ValidateContainerName(op, container); err != nil {
		return nil, err
	}
	if _, ok, err := s.readContainer(container); err != nil || !ok {
		if err != nil {
			return nil, core.Errorf(op, err)
		}
		return nil, core.NewError(core.KindContainerNotFound, op, container, nil)
	}
	root := filepath.Join(s.containerDir(container), metaDir)
	var infos []core.BlobInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(root, strings.TrimSuffix(path, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		var m blobMeta
		if err := readJSON(path, &m); err != nil {
			return err
		}
		infos = append(infos, core.BlobInfo{Path: core.Path{Container: container, Object: key}, Properties: m.properties()})
		return nil
	})
	if err != nil {
		return nil, core.Errorf(op, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path.Object < infos[j].Path.Object })
	return infos, nil
}

// BlobExists is false for a missing container as well as a missing blob.
func (s *Store) BlobExists(_ context.Context, p core.Path) (bool, error) {
	const op = "BlobExists"
	rel, err := sanitizeObject(op, p)
	if err != nil {
		return false, err
	}
	_, ok, err := s.readBlobMeta(p.Container, rel)
	if err != nil {
		return false, core.Errorf(op, err)
	}
	return ok, nil
}

// BlobProperties reads the metadata sidecar of the blob.
func (s *Store) BlobProperties(_ context.Context, p core.Path) (core.Properties, error) {
	m, err := s.mustMeta("BlobProperties", p)
	if err != nil {
		return core.Properties{}, err
	}
	return m.properties(), nil
}

// BlobContents reads the data file and the ETag from its sidecar.
func (s *Store) BlobContents(_ context.Context, p core.Path) (core.Contents, error) {
	const op = "BlobContents"
	rel, err := sanitizeObject(op, p)
	if err != nil {
		return core.Contents{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok, err := s.readBlobMeta(p.Container, rel)
	if err != nil {
		return core.Contents{}, core.Errorf(op, err)
	}
	if !ok {
		return core.Contents{}, core.NewError(core.KindBlobNotFound, op, p.String(), nil)
	}
	data, _ := s.paths(p.Container, rel)
	b, err := os.ReadFile(data)
	if err != nil {
		return core.Contents{}, core.Errorf(op, err)
	}
	return core.Contents{Contents: string(b), ETag: m.ETag}, nil
}

// BlobContentType reads the content type from the sidecar.
func (s *Store) BlobContentType(_ context.Context, p core.Path) (string, error) {
	m, err := s.mustMeta("BlobContentType", p)
	if err != nil {
		return "", err
	}
	return m.ContentType, nil
}

// CreateOverwriteBlob creates an empty overwrite blob unless the name is taken.
func (s *Store) CreateOverwriteBlob(_ context.Context, p core.Path, opts core.CreateOptions) (core.CreateResult, error) {
	return s.create("CreateOverwriteBlob", p, core.BlobTypeOverwrite, opts)
}

// CreateAppendBlob creates an empty append blob unless the name is taken.
func (s *Store) CreateAppendBlob(_ context.Context, p core.Path, opts core.CreateOptions) (core.CreateResult, error) {
	return s.create("CreateAppendBlob", p, core.BlobTypeAppend, opts)
}

func (s *Store) create(op string, p core.Path, typ core.BlobType, opts core.CreateOptions) (core.CreateResult, error) {
	rel, err := sanitizeObject(op, p)
	if err != nil {
		return core.CreateResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireContainer(op, p.Container); err != nil {
		return core.CreateResult{}, err
	}
	if _, ok, err := s.readBlobMeta(p.Container, rel); err != nil || ok {
		return core.CreateResult{Created: false}, core.Errorf(op, err)
	}
	ct := opts.ContentType
	if ct == "" {
		ct = core.DefaultContentType
	}
	m, err := s.write(p.Container, rel, nil, ct, typ)
	if err != nil {
		return core.CreateResult{}, core.Errorf(op, err)
	}
	return core.CreateResult{Created: true, ETag: m.ETag}, nil
}

// SetOverwriteBlobContents replaces the data file and issues a new ETag.
// The stored content type survives unless opts names a new one.
func (s *Store) SetOverwriteBlobContents(_ context.Context, p core.Path, content string, opts core.WriteOptions) (core.WriteResult, error) {
	const op = "SetOverwriteBlobContents"
	rel, err := sanitizeObject(op, p)
	if err != nil {
		return core.WriteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireContainer(op, p.Container); err != nil {
		return core.WriteResult{}, err
	}
	prev, exists, err := s.readBlobMeta(p.Container, rel)
	if err != nil {
		return core.WriteResult{}, core.Errorf(op, err)
	}
	if opts.ETag != "" && (!exists || prev.ETag != opts.ETag) {
		return core.WriteResult{}, core.NewError(core.KindConditionNotMet, op, p.String(), nil)
	}
	ct := opts.ContentType
	if ct == "" {
		ct = prev.ContentType
	}
	if ct == "" {
		ct = core.DefaultContentType
	}
	m, err := s.write(p.Container, rel, []byte(content), ct, core.BlobTypeOverwrite)
	if err != nil {
		return core.WriteResult{}, core.Errorf(op, err)
	}
	return core.WriteResult{Created: !exists, ETag: m.ETag}, nil
}

// AppendBlobContents appends to the data file of an append blob.
func (s *Store) AppendBlobContents(_ context.Context, p core.Path, content string, opts core.AppendOptions) (core.AppendResult, error) {
	const op = "AppendBlobContents"
	rel, err := sanitizeObject(op, p)
	if err != nil {
		return core.AppendResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireContainer(op, p.Container); err != nil {
		return core.AppendResult{}, err
	}
	prev, ok, err := s.readBlobMeta(p.Container, rel)
	if err != nil {
		return core.AppendResult{}, core.Errorf(op, err)
	}
	if !ok {
		return core.AppendResult{}, core.NewError(core.KindBlobNotFound, op, p.String(), nil)
	}
	if opts.ETag != "" && prev.ETag != opts.ETag {
		return core.AppendResult{}, core.NewError(core.KindConditionNotMet, op, p.String(), nil)
	}
	if prev.BlobType != core.BlobTypeAppend {
		return core.AppendResult{}, core.NewError(core.KindInvalidBlobType, op, p.String(), nil)
	}
	data, _ := s.paths(p.Container, rel)
	f, err := os.OpenFile(data, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return core.AppendResult{}, core.Errorf(op, err)
	}
	n, werr := f.WriteString(content)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return core.AppendResult{}, core.Errorf(op, werr)
	}
	prev.Size += int64(n)
	prev.ETag = uuid.NewString()
	prev.UpdatedAt = s.clock.Now().UTC()
	if err := s.writeBlobMeta(p.Container, rel, prev); err != nil {
		return core.AppendResult{}, core.Errorf(op, err)
	}
	return core.AppendResult{ETag: prev.ETag}, nil
}

// SetBlobContentType rewrites the sidecar with a new content type and ETag.
func (s *Store) SetBlobContentType(_ context.Context, p core.Path, contentType string) error {
	const op = "SetBlobContentType"
	rel, err := sanitizeObject(op, p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok, err := s.readBlobMeta(p.Container, rel)
	if err != nil {
		return core.Errorf(op, err)
	}
	if !ok {
		return core.NewError(core.KindBlobNotFound, op, p.String(), nil)
	}
	m.ContentType = contentType
	m.ETag = uuid.NewString()
	m.UpdatedAt = s.clock.Now().UTC()
	return core.Errorf(op, s.writeBlobMeta(p.Container, rel, m))
}

// DeleteBlob removes the sidecar first so an interrupted delete leaves no
// visible blob.
func (s *Store) DeleteBlob(_ context.Context, p core.Path) (bool, error) {
	const op = "DeleteBlob"
	rel, err := sanitizeObject(op, p)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.readBlobMeta(p.Container, rel); err != nil || !ok {
		return false, core.Errorf(op, err)
	}
	data, meta := s.paths(p.Container, rel)
	if err := os.Remove(meta); err != nil {
		return false, core.Errorf(op, err)
	}
	if err := os.Remove(data); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, core.Errorf(op, err)
	}
	return true, nil
}

func (s *Store) requireContainer(op, name string) error {
	_, ok, err := s.readContainer(name)
	if err != nil {
		return core.Errorf(op, err)
	}
	if !ok {
		return core.NewError(core.KindContainerNotFound, op, name, nil)
	}
	return nil
}

// mustMeta reads blob metadata, reporting a missing container as a missing
// blob.
func (s *Store) mustMeta(op string, p core.Path) (blobMeta, error) {
	rel, err := sanitizeObject(op, p)
	if err != nil {
		return blobMeta{}, err
	}
	m, ok, err := s.readBlobMeta(p.Container, rel)
	if err != nil {
		return blobMeta{}, core.Errorf(op, err)
	}
	if !ok {
		return blobMeta{}, core.NewError(core.KindBlobNotFound, op, p.String(), nil)
	}
	return m, nil
}

func (s *Store) readBlobMeta(container, rel string) (blobMeta, bool, error) {
	_, meta := s.paths(container, rel)
	var m blobMeta
	err := readJSON(meta, &m)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return blobMeta{}, false, nil
	}
	if err != nil {
		return blobMeta{}, false, err
	}
	return m, true, nil
}

func (s *Store) writeBlobMeta(container, rel string, m blobMeta) error {
	_, meta := s.paths(container, rel)
	if err := os.MkdirAll(filepath.Dir(meta), 0o755); err != nil {
		return err
	}
	return writeJSON(meta, m)
}

// write replaces the content of a blob through a temp file and rename, then
// records fresh metadata.
func (s *Store) write(container, rel string, content []byte, contentType string, typ core.BlobType) (blobMeta, error) {
	data, _ := s.paths(container, rel)
	if err := os.MkdirAll(filepath.Dir(data), 0o755); err != nil {
		return blobMeta{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(data), ".tmp-*")
	if err != nil {
		return blobMeta{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return blobMeta{}, err
	}
	if err := tmp.Close(); err != nil {
		return blobMeta{}, err
	}
	if err := os.Rename(tmp.Name(), data); err != nil {
		return blobMeta{}, err
	}
	m := blobMeta{
		ContentType: contentType,
		BlobType:    typ,
		ETag:        uuid.NewString(),
		Size:        int64(len(content)),
		UpdatedAt:   s.clock.Now().UTC(),
	}
	return m, s.writeBlobMeta(container, rel, m)
}

func writeJSON(path string, v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return jsonUnmarshal(b, v)
}

// isolate json usage to allow later replacement minimal diff.
var (
	jsonMarshal   = func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
	jsonUnmarshal = func(b []byte, v any) error { return json.Unmarshal(b, v) }
)
