// Package wardenerr defines the typed error kinds surfaced to control plane
// clients. Every error the daemon returns over the wire is wrapped in one of
// these kinds so the client can render a stable, programmatic reason instead
// of parsing free text.
package wardenerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindConflict     Kind = "conflict"
	KindIO           Kind = "io"
	KindTimeout      Kind = "timeout"
	KindInternal     Kind = "internal"
)

// Error wraps an underlying cause with a Kind a client can switch on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func NotFound(op string, err error) *Error     { return New(op, KindNotFound, err) }
func Invalid(op string, err error) *Error      { return New(op, KindInvalidInput, err) }
func Conflict(op string, err error) *Error     { return New(op, KindConflict, err) }
func IOErr(op string, err error) *Error        { return New(op, KindIO, err) }
func Timeout(op string, err error) *Error      { return New(op, KindTimeout, err) }
func Internal(op string, err error) *Error     { return New(op, KindInternal, err) }

// KindOf extracts the Kind from err, defaulting to KindInternal when err was
// not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
