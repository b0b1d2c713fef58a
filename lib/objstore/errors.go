package objstore

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by stores. It carries a return code and a message.
// errors.Is matches two store errors by code, so callers compare against the sentinels:
//
//	if errors.Is(err, objstore.ErrObjectNotFound) { ... }
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("ObjectStoreError (code %s): %s", e.Code, e.Msg)
}

// Is matches errors with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new store error, msg is a format string
func NewError(code RetCode, msg string, args ...any) *Error {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{Code: code, Msg: msg}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess        RetCode = iota // 0: Operation succeeded
	RetCInternalError                 // 1: Operation failed due to an internal error
	RetCObjectNotFound                // 2: Referenced object does not exist (anymore)
	RetCNameNotBound                  // 3: No object is bound to the name
	RetCNotStorable                   // 4: Value cannot be stored
	RetCTxnDone                       // 5: Transaction already committed, aborted or the store is closed
	RetCConflict                      // 6: Commit lost against a concurrent transaction
	RetCTypeMismatch                  // 7: Object has an unexpected type
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCObjectNotFound:
		return "ObjectNotFound"
	case RetCNameNotBound:
		return "NameNotBound"
	case RetCNotStorable:
		return "NotStorable"
	case RetCTxnDone:
		return "TxnDone"
	case RetCConflict:
		return "Conflict"
	case RetCTypeMismatch:
		return "TypeMismatch"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrInternal       = &Error{Code: RetCInternalError, Msg: "internal error"}
	ErrObjectNotFound = &Error{Code: RetCObjectNotFound, Msg: "object not found"}
	ErrNameNotBound   = &Error{Code: RetCNameNotBound, Msg: "name not bound"}
	ErrNotStorable    = &Error{Code: RetCNotStorable, Msg: "value is not storable"}
	ErrTxnDone        = &Error{Code: RetCTxnDone, Msg: "transaction is done"}
	ErrConflict       = &Error{Code: RetCConflict, Msg: "transaction conflict"}
	ErrTypeMismatch   = &Error{Code: RetCTypeMismatch, Msg: "type mismatch"}
)

// IsObjectNotFound reports whether err (or an error it wraps) is ErrObjectNotFound
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsConflict reports whether err (or an error it wraps) is ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
