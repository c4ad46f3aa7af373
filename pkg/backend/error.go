package backend

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error conditions a Backend can report. The
// SFTP handler maps each Kind to an SFTP status code; nothing in this
// package or its callers should construct an error outside this set.
type Kind int

const (
	_ Kind = iota
	NotFound
	PermissionDenied
	AlreadyExists
	NotADirectory
	IsADirectory
	DirectoryNotEmpty
	Io
	Other
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case AlreadyExists:
		return "already exists"
	case NotADirectory:
		return "not a directory"
	case IsADirectory:
		return "is a directory"
	case DirectoryNotEmpty:
		return "directory not empty"
	case Io:
		return "io error"
	case Other:
		return "other error"
	default:
		return "unknown error"
	}
}

// Error is the error type every Backend method returns on failure. Io and
// Other carry a free-form message; the rest are identified by Kind alone.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, backend.ErrNotFound) instead of type-asserting
// and comparing Kind by hand.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind with no message.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Newf constructs an *Error of the given kind with a formatted message.
// Intended for Io and Other, which carry free-form text.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons against a bare Kind.
var (
	ErrNotFound          = New(NotFound)
	ErrPermissionDenied  = New(PermissionDenied)
	ErrAlreadyExists     = New(AlreadyExists)
	ErrNotADirectory     = New(NotADirectory)
	ErrIsADirectory      = New(IsADirectory)
	ErrDirectoryNotEmpty = New(DirectoryNotEmpty)
)

// KindOf extracts the Kind from err if it is (or wraps) a *Error,
// defaulting to Other otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}
