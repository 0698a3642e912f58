// Package agenterr defines the error kinds shared by the session registries
// and the dispatch layer.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind classifies a registry failure.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state"
	KindFilesystem      Kind = "filesystem"
	KindSpawn           Kind = "spawn"
	KindInvalidArgument Kind = "invalid_argument"
	KindInternal        Kind = "internal"
)

// Error is a kinded failure returned across the registry boundary.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "search.stop".
	Op string
	// Subject is the session id or path the operation targeted.
	Subject string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	switch {
	case e.Subject != "" && msg != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Subject, msg)
	case e.Subject != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Subject, e.Kind)
	case msg != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports an unknown session id.
func NotFound(op, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Subject: id, Msg: "session not found"}
}

// InvalidState reports an operation the session's current state does not allow.
func InvalidState(op, id, msg string) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Subject: id, Msg: msg}
}

// Filesystem wraps a filesystem failure for path.
func Filesystem(op, path string, err error) *Error {
	return &Error{Kind: KindFilesystem, Op: op, Subject: path, Err: err}
}

// Spawn wraps a failure to launch command.
func Spawn(op, command string, err error) *Error {
	return &Error{Kind: KindSpawn, Op: op, Subject: command, Err: err}
}

// InvalidArgument reports a malformed request value.
func InvalidArgument(op, msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
