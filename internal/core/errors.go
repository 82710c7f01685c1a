package core

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeWrongThread indicates a disk-synchronous call from the UI-affine loop.
	ErrCodeWrongThread ErrorCode = "WRONG_THREAD"

	// ErrCodeDecode indicates stored bytes could not be decoded into a record.
	ErrCodeDecode ErrorCode = "DECODE"

	// ErrCodeSwapTimeout indicates the double-buffer swap was not acknowledged in time.
	ErrCodeSwapTimeout ErrorCode = "SWAP_TIMEOUT"

	// ErrCodeStoreIO indicates a backing store operation failed.
	ErrCodeStoreIO ErrorCode = "STORE_IO"

	// ErrCodeClosed indicates the engine or actor was already closed.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Error is the structured error returned or logged by the engines.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed (e.g. "kv.getFromDiskSync").
	Op string

	// ID is the record identity involved, when there is one.
	ID int64

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.ID != 0 {
		msg = fmt.Sprintf("%s (id=%d)", msg, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrClosed is returned when work is submitted to a closed engine or actor.
var ErrClosed = &Error{Code: ErrCodeClosed, Op: "submit"}

// Is lets errors.Is(err, ErrClosed) match any CLOSED error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t == ErrClosed && e.Code == ErrCodeClosed
}

// NewWrongThreadError reports a disk-synchronous call made on the UI-affine loop.
func NewWrongThreadError(op string) *Error {
	return &Error{
		Code: ErrCodeWrongThread,
		Op:   op,
		Err:  errors.New("must be called off the UI-affine loop"),
	}
}

// NewDecodeError wraps a codec failure for the row with the given id.
func NewDecodeError(op string, id int64, err error) *Error {
	return &Error{Code: ErrCodeDecode, Op: op, ID: id, Err: err}
}

// NewStoreIOError wraps a backing store failure.
func NewStoreIOError(op string, err error) *Error {
	return &Error{Code: ErrCodeStoreIO, Op: op, Err: err}
}

// NewSwapTimeoutError describes an unacknowledged swap for the given list.
func NewSwapTimeoutError(listID int64) *Error {
	return &Error{
		Code: ErrCodeSwapTimeout,
		Op:   "list.swap",
		ID:   listID,
		Err:  errors.New("swap acknowledgement not received"),
	}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsWrongThread reports whether err is a WRONG_THREAD error.
func IsWrongThread(err error) bool { return hasCode(err, ErrCodeWrongThread) }

// IsDecode reports whether err is a DECODE error.
func IsDecode(err error) bool { return hasCode(err, ErrCodeDecode) }

// IsStoreIO reports whether err is a STORE_IO error.
func IsStoreIO(err error) bool { return hasCode(err, ErrCodeStoreIO) }

// IsSwapTimeout reports whether err is a SWAP_TIMEOUT anomaly.
func IsSwapTimeout(err error) bool { return hasCode(err, ErrCodeSwapTimeout) }

// IsClosed reports whether err is a CLOSED error.
func IsClosed(err error) bool { return hasCode(err, ErrCodeClosed) }
