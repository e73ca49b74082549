// Package core defines core abstractions for blob storage backends
// used internally by higher-level services.
package core

import (
	"context"
	"fmt"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3" // S3 / MinIO compatible
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory" // in-memory (tests)
	// DriverSQLite is the in-memory simulation snapshotted to SQLite.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres is the in-memory simulation snapshotted to Postgres.
	DriverPostgres Driver = "postgres"
)

// AccessPolicy controls anonymous read access to a container.
type AccessPolicy string

const (
	AccessPrivate           AccessPolicy = "private"
	AccessObjectReadable    AccessPolicy = "object-readable"
	AccessContainerReadable AccessPolicy = "container-readable"
)

// Valid reports whether p is one of the known policies.
func (p AccessPolicy) Valid() bool {
	switch p {
	case AccessPrivate, AccessObjectReadable, AccessContainerReadable:
		return true
	}
	return false
}

// NormalizePolicy maps the empty policy to AccessPrivate and rejects
// unknown values.
func NormalizePolicy(p AccessPolicy) (AccessPolicy, error) {
	if p == "" {
		return AccessPrivate, nil
	}
	if !p.Valid() {
		return "", fmt.Errorf("unknown access policy %q", p)
	}
	return p, nil
}

// BlobType distinguishes overwrite-style from append-style blobs.
type BlobType string

const (
	// BlobTypeOverwrite blobs have their content replaced wholesale on write.
	BlobTypeOverwrite BlobType = "overwrite"
	// BlobTypeAppend blobs only ever grow; writes are concatenated.
	BlobTypeAppend BlobType = "append"
)

// DefaultContentType is assigned to blobs created without one.
const DefaultContentType = "application/octet-stream"

// Properties describes a stored blob.
type Properties struct {
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type,omitempty"`
	BlobType     BlobType  `json:"blob_type"`
	Size         int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// Contents is a blob's content together with the version it was read at.
type Contents struct {
	Contents string `json:"contents"`
	ETag     string `json:"etag"`
}

// BlobInfo is one entry of a blob listing.
type BlobInfo struct {
	Path Path `json:"path"`
	Properties
}

// ContainerInfo is one entry of a container listing.
type ContainerInfo struct {
	Name         string    `json:"name"`
	LastModified time.Time `json:"last_modified"`
}

// CreateOptions configures blob creation.
type CreateOptions struct {
	ContentType string // MIME type, optional
}

// CreateResult reports whether a create call made a new blob. Created is
// false when a blob already existed; its content is left untouched.
type CreateResult struct {
	Created bool
	ETag    string
}

// WriteOptions configures an overwrite.
type WriteOptions struct {
	ContentType string // replaces the stored type when set
	ETag        string // precondition: current version must match exactly
}

// WriteResult reports the outcome of an overwrite.
type WriteResult struct {
	Created bool
	ETag    string
}

// AppendOptions configures an append.
type AppendOptions struct {
	ETag string // precondition: current version must match exactly
}

// AppendResult carries the version produced by an append.
type AppendResult struct {
	ETag string
}

// URLOptions configures URL construction.
type URLOptions struct {
	// IncludeSignature mints a time-bounded, read-only signature. Requires a
	// key credential. When false any query on the base URL is stripped.
	IncludeSignature bool
	// EncodeObjectName percent-encodes the object segment. The container
	// segment is never encoded.
	EncodeObjectName bool
	// Expiry bounds the signature lifetime (default DefaultSignatureExpiry).
	Expiry time.Duration
	// Start is the signature start time (default now).
	Start time.Time
}

// DefaultSignatureExpiry is used when URLOptions.Expiry is unset.
const DefaultSignatureExpiry = time.Hour

// Backend is the contract every storage backend satisfies. Semantics,
// including the error kind returned for each failure, are identical across
// implementations.
type Backend interface {
	// Driver returns the configured backend driver string.
	Driver() Driver

	// AccountURL returns the base URL of the storage account.
	AccountURL(ctx context.Context, opts URLOptions) (string, error)
	// ContainerURL returns the URL of the named container.
	ContainerURL(ctx context.Context, name string, opts URLOptions) (string, error)
	// BlobURL returns the URL of the blob at p, optionally signed.
	BlobURL(ctx context.Context, p Path, opts URLOptions) (string, error)

	// ContainerExists never fails for a missing container.
	ContainerExists(ctx context.Context, name string) (bool, error)
	// CreateContainer returns false if the container already exists.
	CreateContainer(ctx context.Context, name string, policy AccessPolicy) (bool, error)
	// DeleteContainer removes the container and everything in it. Returns
	// false if it did not exist.
	DeleteContainer(ctx context.Context, name string) (bool, error)
	// ListContainers returns every container in service order.
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	ContainerAccessPolicy(ctx context.Context, name string) (AccessPolicy, error)
	SetContainerAccessPolicy(ctx context.Context, name string, policy AccessPolicy) error

	// ListBlobs returns the blobs of a container whose name has prefix.
	ListBlobs(ctx context.Context, container, prefix string) ([]BlobInfo, error)
	// BlobExists never fails for a missing blob or container.
	BlobExists(ctx context.Context, p Path) (bool, error)
	// BlobProperties fails with BlobNotFound when the blob or its container
	// is missing.
	BlobProperties(ctx context.Context, p Path) (Properties, error)
	// BlobContents fails with BlobNotFound when the blob or its container
	// is missing.
	BlobContents(ctx context.Context, p Path) (Contents, error)
	// CreateOverwriteBlob creates an empty overwrite-style blob unless one
	// exists already. An existing blob is left untouched and reported as
	// Created=false, never as a BlobAlreadyExists error.
	CreateOverwriteBlob(ctx context.Context, p Path, opts CreateOptions) (CreateResult, error)
	// CreateAppendBlob creates an empty append-style blob unless one exists
	// already, with the same Created=false result as CreateOverwriteBlob.
	CreateAppendBlob(ctx context.Context, p Path, opts CreateOptions) (CreateResult, error)
	// SetOverwriteBlobContents replaces the content wholesale.
	SetOverwriteBlobContents(ctx context.Context, p Path, content string, opts WriteOptions) (WriteResult, error)
	// AppendBlobContents concatenates content onto an append-style blob.
	AppendBlobContents(ctx context.Context, p Path, content string, opts AppendOptions) (AppendResult, error)
	BlobContentType(ctx context.Context, p Path) (string, error)
	SetBlobContentType(ctx context.Context, p Path, contentType string) error
	// DeleteBlob returns false if the blob did not exist.
	DeleteBlob(ctx context.Context, p Path) (bool, error)
}
