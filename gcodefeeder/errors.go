package gcodefeeder

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorKind tells what part of an exchange with the printer went wrong.
type ErrorKind int

const (
	UnknownError ErrorKind = iota
	ConnectionError
	IOError
	ParseError
	FileError
)

var strErrorKind = []string{
	"UnknownError",
	"ConnectionError",
	"IOError",
	"ParseError",
	"FileError",
}

func (k ErrorKind) String() string {
	if int(k) >= len(strErrorKind) {
		return strconv.Itoa(int(k))
	}
	return strErrorKind[k]
}

// ErrNotConnected is returned by any operation on a session which is not connected.
var ErrNotConnected = &Error{Kind: ConnectionError, Op: "session", Err: errors.New("no connection to printer")}

// Error carries the kind of a failure together with the operation it happened in.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error found in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownError
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
