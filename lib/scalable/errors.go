package scalable

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dColl/lib/objstore"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type of the collections. Errors with the same code match
// with errors.Is, and the underlying store error (if any) is reachable through Unwrap:
//
//	if errors.Is(err, scalable.ErrStaleValue) { ... }
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
	Err  error   // The underlying error, may be nil
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("CollectionError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("CollectionError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCStaleKey               RetCode = iota + 1 // 1: A stored key object was removed from the store
	RetCStaleValue                                // 2: A stored value object was removed from the store
	RetCInvalidArgument                           // 3: Bad parameter or element
	RetCIllegalState                              // 4: Iterator remove without a preceding next
	RetCConcurrentModification                    // 5: Strict deque iterator lost its position
	RetCNoSuchElement                             // 6: Iterator exhausted or collection empty
)

func (c RetCode) String() string {
	switch c {
	case RetCStaleKey:
		return "StaleKey"
	case RetCStaleValue:
		return "StaleValue"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCIllegalState:
		return "IllegalState"
	case RetCConcurrentModification:
		return "ConcurrentModification"
	case RetCNoSuchElement:
		return "NoSuchElement"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrStaleKey               = &Error{Code: RetCStaleKey, Msg: "stale key"}
	ErrStaleValue             = &Error{Code: RetCStaleValue, Msg: "stale value"}
	ErrInvalidArgument        = &Error{Code: RetCInvalidArgument, Msg: "invalid argument"}
	ErrIllegalState           = &Error{Code: RetCIllegalState, Msg: "illegal state"}
	ErrConcurrentModification = &Error{Code: RetCConcurrentModification, Msg: "concurrent modification"}
	ErrNoSuchElement          = &Error{Code: RetCNoSuchElement, Msg: "no such element"}
)

func newError(code RetCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

func invalidArgument(format string, args ...any) error {
	return newError(RetCInvalidArgument, nil, format, args...)
}

// staleKey converts a store "not found" into ErrStaleKey, other errors pass through
func staleKey(err error) error {
	if objstore.IsObjectNotFound(err) {
		return newError(RetCStaleKey, err, "key object was removed")
	}
	return notStorable(err)
}

// staleValue converts a store "not found" into ErrStaleValue, other errors pass through
func staleValue(err error) error {
	if objstore.IsObjectNotFound(err) {
		return newError(RetCStaleValue, err, "value object was removed")
	}
	return notStorable(err)
}

// notStorable reports storability failures as invalid arguments
func notStorable(err error) error {
	if errors.Is(err, objstore.ErrNotStorable) {
		return newError(RetCInvalidArgument, err, "element cannot be stored")
	}
	return err
}
