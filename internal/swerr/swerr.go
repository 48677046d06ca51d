// Package swerr defines the error-kind vocabulary shared by every
// component in the gateway, so that a single switch at the outermost RPC
// boundary can translate an internal error into a wire status.
package swerr

import (
	"errors"
	"fmt"
)

// Kind names a category of failure. Kinds are not Go types; every Kind
// wraps an arbitrary underlying error.
type Kind string

const (
	Unauthenticated  Kind = "unauthenticated"
	AlreadyExists    Kind = "already_exists"
	NotFound         Kind = "not_found"
	DeadlineExceeded Kind = "deadline_exceeded"
	Unavailable      Kind = "unavailable"
	InvalidArgument  Kind = "invalid_argument"
	Internal         Kind = "internal"
)

// Error is a Kind-tagged error. It wraps an optional cause so errors.Is/As
// continue to work through it.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a Kind-tagged error with no underlying cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: err.Error(), Cause: err}
}

// KindOf extracts the Kind from err, walking the error chain. Returns
// Internal for any error that was never tagged — an untagged error reaching
// an RPC boundary is itself a bug, and Internal is the conservative default.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return Internal
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
