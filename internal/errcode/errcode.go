// Package errcode defines the stable error taxonomy shared by the I/O core.
// Codes are a string newtype, comparable, allocation-free, and implement error,
// so callers can match with errors.Is without importing sentinel variables from
// every package.
package errcode

import "errors"

// Code identifies a class of failure.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes.
const (
	OK              Code = "ok"
	InvalidArgument Code = "invalid_argument" // bad id, pin, chip or bit index, wrong point kind
	NotFound        Code = "not_found"        // unknown point id
	Timeout         Code = "timeout"          // lock not acquired within bound
	InvalidState    Code = "invalid_state"    // use before init, or double start
	NoMemory        Code = "no_memory"        // resource limit exceeded at init
	HardwareError   Code = "hardware_error"   // driver-level read/write failure
)

// E wraps a Code with the failing operation and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errcode.Timeout) match wrapped errors.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts the Code from an error, defaulting to HardwareError for
// unclassified driver failures and OK for nil.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	var e *E
	if errors.As(err, &e) {
		return e.C
	}
	return HardwareError
}

// Wrap builds an *E tying a code to the failing operation and its cause.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}
