package engine

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// Code identifies the kind of an engine error.
type Code int

const (
	CodeNotFound      Code = iota + 1 // key or database does not exist
	CodeKeyExist                      // no-overwrite or append constraint violated
	CodeMapFull                       // the environment reached its map size
	CodeKeyTooLarge                   // key exceeds the engine's maximum key size
	CodeValueTooLarge                 // value exceeds the engine's maximum value size
	CodeBadValSize                    // key size does not fit the database (e.g. integer keys)
	CodeBadTxn                        // the transaction can no longer be used
	CodeBadDBI                        // unknown or deleted database identifier
	CodeReadOnly                      // write attempted in a read-only transaction
	CodeTxnClosed                     // transaction already committed or aborted
	CodeClosed                        // engine already closed
	CodeCorrupted                     // on-disk data is inconsistent
	CodeIncompatible                  // database opened with incompatible flags
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "NotFound"
	case CodeKeyExist:
		return "KeyExist"
	case CodeMapFull:
		return "MapFull"
	case CodeKeyTooLarge:
		return "KeyTooLarge"
	case CodeValueTooLarge:
		return "ValueTooLarge"
	case CodeBadValSize:
		return "BadValSize"
	case CodeBadTxn:
		return "BadTxn"
	case CodeBadDBI:
		return "BadDBI"
	case CodeReadOnly:
		return "ReadOnly"
	case CodeTxnClosed:
		return "TxnClosed"
	case CodeClosed:
		return "Closed"
	case CodeCorrupted:
		return "Corrupted"
	case CodeIncompatible:
		return "Incompatible"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Fatal reports whether an error with this code leaves the write transaction
// unusable, so that the whole batch has to be aborted.
func (c Code) Fatal() bool {
	switch c {
	case CodeMapFull, CodeBadTxn, CodeTxnClosed, CodeClosed, CodeCorrupted:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a typed engine error. Err holds the backend error, if any.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("engine error (code %s): %s", e.Code, msg)
	}
	return fmt.Sprintf("engine error (code %s) in %s: %s", e.Code, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors that carry the same code, so errors.Is(err, ErrNotFound)
// works for every adapter.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Msg == "" && t.Err == nil
}

// NewError creates a new Error with the given code and message.
func NewError(code Code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Msg: msg}
}

// WrapError creates a new Error that wraps a backend error.
func WrapError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Sentinel values usable with errors.Is.
var (
	ErrNotFound   = &Error{Code: CodeNotFound}
	ErrKeyExist   = &Error{Code: CodeKeyExist}
	ErrMapFull    = &Error{Code: CodeMapFull}
	ErrBadDBI     = &Error{Code: CodeBadDBI}
	ErrTxnClosed  = &Error{Code: CodeTxnClosed}
	ErrClosed     = &Error{Code: CodeClosed}
	ErrReadOnly   = &Error{Code: CodeReadOnly}
	ErrBadValSize = &Error{Code: CodeBadValSize}
)

// CodeOf returns the code of an engine error, or 0 if err is not one.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsCode reports whether err is an engine error with the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsNotFound reports whether err signals a missing key or database.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}
