// Package grovefserr defines the error taxonomy shared across grovefs packages.
//
// Every operation-facing error returned by grovefs wraps one of the Kind
// sentinels below so callers can classify failures with errors.Is, while
// still getting a human-readable message and an optional wrapped cause via
// fmt.Errorf("...: %w", err).
package grovefserr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy members from the design's error handling section.
type Kind string

const (
	InvalidPath    Kind = "invalid_path"
	NotFound       Kind = "not_found"
	AlreadyExists  Kind = "already_exists"
	NotADirectory  Kind = "not_a_directory"
	IsDirectory    Kind = "is_directory"
	NotReady       Kind = "not_ready"
	Timeout        Kind = "timeout"
	IDConflict     Kind = "id_conflict"
	MalformedBlock Kind = "malformed_block"
	BundleError    Kind = "bundle_error"
	StorageError   Kind = "storage_error"
	NetworkError   Kind = "network_error"
	Internal       Kind = "internal"
)

// Error is the concrete error type carrying a Kind alongside a message and
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, SomeKind) work by comparing Kind values. We key
// sentinel comparisons off a bare *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// sentinel returns a bare *Error usable as an errors.Is target for a Kind.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

var (
	ErrInvalidPath    = sentinel(InvalidPath)
	ErrNotFound       = sentinel(NotFound)
	ErrAlreadyExists  = sentinel(AlreadyExists)
	ErrNotADirectory  = sentinel(NotADirectory)
	ErrIsDirectory    = sentinel(IsDirectory)
	ErrNotReady       = sentinel(NotReady)
	ErrTimeout        = sentinel(Timeout)
	ErrIDConflict     = sentinel(IDConflict)
	ErrMalformedBlock = sentinel(MalformedBlock)
	ErrBundleError    = sentinel(BundleError)
	ErrStorageError   = sentinel(StorageError)
	ErrNetworkError   = sentinel(NetworkError)
	ErrInternal       = sentinel(Internal)
)

// Of reports the Kind of err if it (or something it wraps) is an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
