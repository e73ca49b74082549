package blob

import (
	"context"
)

// Account is the root handle over a Store. Handles are plain values holding
// a Store and a Path; they cache nothing and validate nothing.
type Account struct {
	store Store
}

// NewAccount binds an account handle to store.
func NewAccount(store Store) Account { return Account{store: store} }

// Store returns the bound backend.
func (a Account) Store() Store { return a.store }

// URL returns the account base URL.
func (a Account) URL(ctx context.Context, opts URLOptions) (string, error) {
	return a.store.AccountURL(ctx, opts)
}

// Container returns a handle for the named container.
func (a Account) Container(name string) Container { return Container{store: a.store, name: name} }

// ContainerAt returns a handle for the container of p.
func (a Account) ContainerAt(p Path) Container { return a.Container(p.Container) }

func (a Account) Blob(path string) Blob             { return a.BlobAt(ParsePath(path)) }
func (a Account) BlobAt(p Path) Blob                { return Blob{store: a.store, path: p} }
func (a Account) BlockBlob(path string) BlockBlob   { return BlockBlob{a.Blob(path)} }
func (a Account) BlockBlobAt(p Path) BlockBlob      { return BlockBlob{a.BlobAt(p)} }
func (a Account) AppendBlob(path string) AppendBlob { return AppendBlob{a.Blob(path)} }
func (a Account) AppendBlobAt(p Path) AppendBlob    { return AppendBlob{a.BlobAt(p)} }
func (a Account) Prefix(path string) Prefix         { return a.PrefixAt(ParsePath(path)) }
func (a Account) PrefixAt(p Path) Prefix            { return Prefix{store: a.store, path: p} }

// Containers lists every container, in the order the backend reports them.
func (a Account) Containers(ctx context.Context) ([]Container, error) {
	infos, err := a.store.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Container, 0, len(infos))
	for _, info := range infos {
		out = append(out, a.Container(info.Name))
	}
	return out, nil
}

// Container addresses one container.
type Container struct {
	store Store
	name  string
}

func (c Container) Name() string { return c.name }
func (c Container) Path() Path   { return Path{Container: c.name} }

func (c Container) Exists(ctx context.Context) (bool, error) {
	return c.store.ContainerExists(ctx, c.name)
}

// Create returns false if the container already exists.
func (c Container) Create(ctx context.Context, policy AccessPolicy) (bool, error) {
	return c.store.CreateContainer(ctx, c.name, policy)
}

// Delete removes the container with its blobs. Returns false if it did not exist.
func (c Container) Delete(ctx context.Context) (bool, error) {
	return c.store.DeleteContainer(ctx, c.name)
}

func (c Container) AccessPolicy(ctx context.Context) (AccessPolicy, error) {
	return c.store.ContainerAccessPolicy(ctx, c.name)
}

func (c Container) SetAccessPolicy(ctx context.Context, policy AccessPolicy) error {
	return c.store.SetContainerAccessPolicy(ctx, c.name, policy)
}

func (c Container) URL(ctx context.Context, opts URLOptions) (string, error) {
	return c.store.ContainerURL(ctx, c.name, opts)
}

// Blobs lists the container's blobs whose names start with prefix.
func (c Container) Blobs(ctx context.Context, prefix string) ([]BlobInfo, error) {
	return c.store.ListBlobs(ctx, c.name, prefix)
}

func (c Container) Blob(name string) Blob             { return c.Prefix("").Blob(name) }
func (c Container) BlockBlob(name string) BlockBlob   { return BlockBlob{c.Blob(name)} }
func (c Container) AppendBlob(name string) AppendBlob { return AppendBlob{c.Blob(name)} }

// Prefix returns a prefix handle rooted in this container.
func (c Container) Prefix(name string) Prefix {
	return Prefix{store: c.store, path: c.Path().Concat(name)}
}

// Prefix is a non-terminal path used to derive further handles. Names are
// appended verbatim; include the separator where one is wanted.
type Prefix struct {
	store Store
	path  Path
}

func (p Prefix) Path() Path { return p.path }

func (p Prefix) Container() Container { return Container{store: p.store, name: p.path.Container} }

func (p Prefix) Blob(name string) Blob             { return Blob{store: p.store, path: p.path.Concat(name)} }
func (p Prefix) BlockBlob(name string) BlockBlob   { return BlockBlob{p.Blob(name)} }
func (p Prefix) AppendBlob(name string) AppendBlob { return AppendBlob{p.Blob(name)} }
func (p Prefix) Prefix(name string) Prefix         { return Prefix{store: p.store, path: p.path.Concat(name)} }

// Blobs lists the blobs under this prefix.
func (p Prefix) Blobs(ctx context.Context) ([]BlobInfo, error) {
	return p.store.ListBlobs(ctx, p.path.Container, p.path.Object)
}

// Blob holds the operations shared by every blob kind.
type Blob struct {
	store Store
	path  Path
}

func (b Blob) Path() Path { return b.path }

func (b Blob) Container() Container { return Container{store: b.store, name: b.path.Container} }

func (b Blob) Exists(ctx context.Context) (bool, error) { return b.store.BlobExists(ctx, b.path) }

func (b Blob) Properties(ctx context.Context) (Properties, error) {
	return b.store.BlobProperties(ctx, b.path)
}

func (b Blob) Contents(ctx context.Context) (Contents, error) {
	return b.store.BlobContents(ctx, b.path)
}

func (b Blob) ContentType(ctx context.Context) (string, error) {
	return b.store.BlobContentType(ctx, b.path)
}

func (b Blob) SetContentType(ctx context.Context, contentType string) error {
	return b.store.SetBlobContentType(ctx, b.path, contentType)
}

// Delete returns false if the blob did not exist.
func (b Blob) Delete(ctx context.Context) (bool, error) { return b.store.DeleteBlob(ctx, b.path) }

func (b Blob) URL(ctx context.Context, opts URLOptions) (string, error) {
	return b.store.BlobURL(ctx, b.path, opts)
}

// BlockBlob is an overwrite-style blob.
type BlockBlob struct {
	Blob
}

// Create makes an empty blob unless one exists; existing content is untouched.
func (b BlockBlob) Create(ctx context.Context, opts CreateOptions) (CreateResult, error) {
	return b.store.CreateOverwriteBlob(ctx, b.path, opts)
}

// SetContents replaces the content wholesale.
func (b BlockBlob) SetContents(ctx context.Context, content string, opts WriteOptions) (WriteResult, error) {
	return b.store.SetOverwriteBlobContents(ctx, b.path, content, opts)
}

// AppendBlob is an append-style blob.
type AppendBlob struct {
	Blob
}

// Create makes an empty append blob unless one exists.
func (b AppendBlob) Create(ctx context.Context, opts CreateOptions) (CreateResult, error) {
	return b.store.CreateAppendBlob(ctx, b.path, opts)
}

// Append concatenates content onto the blob.
func (b AppendBlob) Append(ctx context.Context, content string, opts AppendOptions) (AppendResult, error) {
	return b.store.AppendBlobContents(ctx, b.path, content, opts)
}
