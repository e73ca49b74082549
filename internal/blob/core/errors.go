package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a storage failure. Kinds are stable and appear verbatim
// in error messages so callers may match on either.
type ErrorKind string

const (
	KindInvalidResourceName    ErrorKind = "InvalidResourceName"
	KindInvalidURI             ErrorKind = "InvalidUri"
	KindContainerNotFound      ErrorKind = "ContainerNotFound"
	KindContainerAlreadyExists ErrorKind = "ContainerAlreadyExists"
	KindBlobNotFound           ErrorKind = "BlobNotFound"
	// KindBlobAlreadyExists is part of the shared vocabulary but no bundled
	// backend returns it: creating a blob that exists reports Created=false
	// with a nil error. Only third-party Backend implementations may use it.
	KindBlobAlreadyExists ErrorKind = "BlobAlreadyExists"
	KindConditionNotMet   ErrorKind = "ConditionNotMet"
	KindInvalidBlobType   ErrorKind = "InvalidBlobType"
	// KindTransport covers every failure that is not one of the kinds above.
	KindTransport ErrorKind = "TransportError"
)

// Error is a classified storage failure.
type Error struct {
	Kind     ErrorKind
	Op       string // backend operation, e.g. "BlobContents"
	Resource string // container name or container/object path
	Err      error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Resource != "" {
		msg += ": " + e.Resource
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "blob: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of operation or resource.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidResourceName    = &Error{Kind: KindInvalidResourceName}
	ErrInvalidURI             = &Error{Kind: KindInvalidURI}
	ErrContainerNotFound      = &Error{Kind: KindContainerNotFound}
	ErrContainerAlreadyExists = &Error{Kind: KindContainerAlreadyExists}
	ErrBlobNotFound           = &Error{Kind: KindBlobNotFound}
	ErrBlobAlreadyExists      = &Error{Kind: KindBlobAlreadyExists}
	ErrConditionNotMet        = &Error{Kind: KindConditionNotMet}
	ErrInvalidBlobType        = &Error{Kind: KindInvalidBlobType}
)

// ErrUnsupported is returned when an optional capability is not available.
var ErrUnsupported = errors.New("blobstore: unsupported operation")

// ErrSigningKeyRequired is returned when a signed URL is requested from a
// backend that holds no key credential.
var ErrSigningKeyRequired = errors.New("blobstore: signed urls require a shared key credential")

// NewError builds a classified error.
func NewError(kind ErrorKind, op, resource string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Err: cause}
}

// KindOf returns the kind of err. Unclassified non-nil errors are
// KindTransport; nil yields the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool { return err != nil && KindOf(err) == kind }

// Errorf wraps an unclassified cause with the operation name, leaving it a
// transport error.
func Errorf(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
