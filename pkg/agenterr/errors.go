// Package agenterr defines the error codes returned by breakpoint, local
// variable and deferred event operations.
package agenterr

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure of an agent operation.
type Code uint16

const (
	None Code = iota
	// NotFound is returned when clearing a breakpoint that was never set.
	NotFound
	// ThreadNotSuspended is returned when a cross-thread operation targets
	// a thread that is currently running.
	ThreadNotSuspended
	// NoSuchFrame is returned for a depth beyond the top of the stack or
	// when an optimized frame could not be materialized.
	NoSuchFrame
	// OpaqueFrame is returned when the frame can not expose its locals,
	// for example a native frame.
	OpaqueFrame
	// InvalidSlot is returned for a slot index outside of the frame or a
	// slot that is not live at the current bytecode offset.
	InvalidSlot
	// TypeMismatch is returned when the requested kind does not agree with
	// the slot kind known to the verifier.
	TypeMismatch
	// InvalidClass is returned when the slot's declared class can not be
	// resolved or the written object is not assignable to it.
	InvalidClass
	InvalidObject
	OutOfMemory
	IllegalArgument
	// Disposed is returned by operations on a closed agent or environment.
	Disposed
)

var codeNames = [...]string{
	None:               "none",
	NotFound:           "not found",
	ThreadNotSuspended: "thread not suspended",
	NoSuchFrame:        "no such frame",
	OpaqueFrame:        "opaque frame",
	InvalidSlot:        "invalid slot",
	TypeMismatch:       "type mismatch",
	InvalidClass:       "invalid class",
	InvalidObject:      "invalid object",
	OutOfMemory:        "out of memory",
	IllegalArgument:    "illegal argument",
	Disposed:           "disposed",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", uint16(c))
}

// Error is the error returned by agent operations.
type Error struct {
	Code   Code
	Op     string // name of the operation that failed
	Detail string
}

// New returns an error with the given code.
func New(code Code, op string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, &agenterr.Error{Code: agenterr.NotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of err, None if err is nil and IllegalArgument if
// err is not an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return None
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return IllegalArgument
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
