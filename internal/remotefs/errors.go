package remotefs

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how far they propagate.
type ErrorKind int

const (
	// KindConnection is a transport failure; fatal to the session.
	KindConnection ErrorKind = iota + 1
	// KindAuthentication is reported once, at connect time.
	KindAuthentication
	// KindListing is a per-directory failure; the walk continues.
	KindListing
	// KindTransfer is a per-file remote failure, reported on the file's reply.
	KindTransfer
	// KindLocalIO is a per-file local disk failure (disk full, permissions).
	KindLocalIO
	// KindCanceled marks an orderly early stop requested by the caller.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	case KindListing:
		return "listing"
	case KindTransfer:
		return "transfer"
	case KindLocalIO:
		return "local io"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrConnection     = errors.New("connection failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrListing        = errors.New("listing failed")
	ErrTransfer       = errors.New("transfer failed")
	ErrLocalIO        = errors.New("local io failed")
	ErrCanceled       = errors.New("canceled")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindAuthentication:
		return ErrAuthentication
	case KindListing:
		return ErrListing
	case KindTransfer:
		return ErrTransfer
	case KindLocalIO:
		return ErrLocalIO
	case KindCanceled:
		return ErrCanceled
	default:
		return nil
	}
}

// Error is the typed error carried through visitors and reply channels.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

// NewError wraps err with a kind, operation and path.
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Retryable reports whether the caller may reasonably try again with a new
// channel. Nothing in this module retries automatically.
func (e *Error) Retryable() bool {
	return e.Kind == KindConnection
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
