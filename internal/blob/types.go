// Package blob re-exports core blob abstractions for stable external imports
// and wires the concrete backends. Callers pick a backend explicitly (or via
// Open) and work through the handles in handles.go.
package blob

import (
	"blobkit/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// Store is the interface for blob storage backends.
	Store = core.Backend
	// Path addresses a container or a blob.
	Path = core.Path
	// AccessPolicy controls anonymous read access to a container.
	AccessPolicy = core.AccessPolicy
	// BlobType distinguishes overwrite-style from append-style blobs.
	BlobType = core.BlobType
	// Properties describes stored blob metadata.
	Properties = core.Properties
	// Contents is a blob's content with the version it was read at.
	Contents = core.Contents
	// BlobInfo is one entry of a blob listing.
	BlobInfo = core.BlobInfo
	// ContainerInfo is one entry of a container listing.
	ContainerInfo = core.ContainerInfo
	// CreateOptions configures blob creation.
	CreateOptions = core.CreateOptions
	// CreateResult reports whether a create made a new blob.
	CreateResult = core.CreateResult
	// WriteOptions configures an overwrite.
	WriteOptions = core.WriteOptions
	// WriteResult reports the outcome of an overwrite.
	WriteResult = core.WriteResult
	// AppendOptions configures an append.
	AppendOptions = core.AppendOptions
	// AppendResult carries the version produced by an append.
	AppendResult = core.AppendResult
	// URLOptions configures URL construction.
	URLOptions = core.URLOptions
	// Error is a classified storage failure.
	Error = core.Error
	// ErrorKind classifies a storage failure.
	ErrorKind = core.ErrorKind
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
	// DriverSQLite is the memory driver snapshotted to SQLite.
	DriverSQLite = core.DriverSQLite
	// DriverPostgres is the memory driver snapshotted to Postgres.
	DriverPostgres = core.DriverPostgres
)

const (
	AccessPrivate           = core.AccessPrivate
	AccessObjectReadable    = core.AccessObjectReadable
	AccessContainerReadable = core.AccessContainerReadable

	BlobTypeOverwrite = core.BlobTypeOverwrite
	BlobTypeAppend    = core.BlobTypeAppend
)

const (
	KindInvalidResourceName    = core.KindInvalidResourceName
	KindInvalidURI             = core.KindInvalidURI
	KindContainerNotFound      = core.KindContainerNotFound
	KindContainerAlreadyExists = core.KindContainerAlreadyExists
	KindBlobNotFound           = core.KindBlobNotFound
	KindBlobAlreadyExists      = core.KindBlobAlreadyExists
	KindConditionNotMet        = core.KindConditionNotMet
	KindInvalidBlobType        = core.KindInvalidBlobType
	KindTransport              = core.KindTransport
)

var (
	ErrInvalidResourceName    = core.ErrInvalidResourceName
	ErrInvalidURI             = core.ErrInvalidURI
	ErrContainerNotFound      = core.ErrContainerNotFound
	ErrContainerAlreadyExists = core.ErrContainerAlreadyExists
	ErrBlobNotFound           = core.ErrBlobNotFound
	ErrBlobAlreadyExists      = core.ErrBlobAlreadyExists
	ErrConditionNotMet        = core.ErrConditionNotMet
	ErrInvalidBlobType        = core.ErrInvalidBlobType
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
	// ErrSigningKeyRequired is returned for signed URLs without a key credential.
	ErrSigningKeyRequired = core.ErrSigningKeyRequired
)

// ParsePath splits s on the first separator after an optional leading one.
func ParsePath(s string) Path { return core.ParsePath(s) }

// PathFromURL recovers the path of a blob URL built against base.
func PathFromURL(base, raw string) (Path, error) { return core.PathFromURL(base, raw) }

// KindOf returns the kind of err.
func KindOf(err error) ErrorKind { return core.KindOf(err) }

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool { return core.IsKind(err, kind) }
