// Package kernelerr provides the two-layer error model used across the
// kernel core: a structured Error carrying an OsStatus-style code plus
// context, and a Fatal type reserved for invariant violations that must
// never be triggered by valid user action.
package kernelerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is the OsStatus-style high-level error category returned across
// the syscall boundary.
type Code string

const (
	Success              Code = "success"
	ErrGeneric           Code = "error"
	InvalidParameters    Code = "invalid parameters"
	OutOfMemory          Code = "out of memory"
	Timeout              Code = "timeout"
	DoesNotExist         Code = "does not exist"
	AccessDenied         Code = "access denied"
	DeviceError          Code = "device error"
	NotSupported         Code = "not supported"
	ConnectionRefused    Code = "connection refused"
	ConnectionInProgress Code = "connection in progress"
	AlreadyConnected     Code = "already connected"
	HostUnreachable      Code = "host unreachable"
	Busy                 Code = "busy"
	InvalidProtocol      Code = "invalid protocol"
	Exists               Code = "exists"
	ConnectionAborted    Code = "connection aborted"
)

// Error is a structured local-API error: every public kernel function
// returns one of these (or nil) rather than panicking.
type Error struct {
	Op    string        // operation that failed, e.g. "LoadImage", "ProcessSpawn"
	Code  Code          // high-level category
	Errno syscall.Errno // kernel errno, 0 if not applicable
	Msg   string        // human-readable detail
	Inner error         // wrapped error, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("kernel: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("kernel: %s", msg)
}

// Unwrap supports errors.Is/As against the wrapped inner error.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates a structured error with no errno attached.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewWithErrno creates a structured error carrying a kernel errno.
func NewWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// Wrap wraps an existing error with kernel context, mapping syscall
// errnos to an OsStatus-style Code the way the source's error layer
// does.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ke, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ke.Code, Errno: ke.Errno, Msg: ke.Msg, Inner: ke.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrno(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: ErrGeneric, Msg: inner.Error(), Inner: inner}
}

func mapErrno(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return DoesNotExist
	case syscall.EBUSY:
		return Busy
	case syscall.EINVAL, syscall.E2BIG:
		return InvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return NotSupported
	case syscall.EPERM, syscall.EACCES:
		return AccessDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return OutOfMemory
	case syscall.ETIMEDOUT:
		return Timeout
	case syscall.EEXIST:
		return Exists
	case syscall.ECONNREFUSED:
		return ConnectionRefused
	case syscall.ECONNABORTED:
		return ConnectionAborted
	case syscall.EHOSTUNREACH:
		return HostUnreachable
	case syscall.EALREADY:
		return ConnectionInProgress
	case syscall.EISCONN:
		return AlreadyConnected
	default:
		return DeviceError
	}
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}

// Fatal represents an invariant violation: a condition that must never
// arise from valid user action (a syscall dispatched from a non-process
// context, an unsupported PE relocation type, a scheduler running out of
// queue-head slots). Fatal is raised with panic rather than returned,
// per the two-layer error policy: local API misuse returns an Error,
// kernel invariant violations halt.
type Fatal struct {
	Op  string
	Msg string
}

func (f *Fatal) Error() string {
	return fmt.Sprintf("fatal kernel error in %s: %s", f.Op, f.Msg)
}

// Raise panics with a Fatal describing the invariant violation.
func Raise(op, msg string) {
	panic(&Fatal{Op: op, Msg: msg})
}
