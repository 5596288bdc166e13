package pagedb

import (
	"github.com/pkg/errors"
)

type ErrorKind uint8

const (
	// KindExecution covers recoverable failures of a single command.
	KindExecution ErrorKind = iota + 1
	// KindDuplicateKey is an insert colliding with an existing primary key.
	KindDuplicateKey
	// KindIO wraps a failed disk operation; the in-flight operation is aborted.
	KindIO
	// KindCorrupt marks bytes on disk that cannot be decoded.
	KindCorrupt
)

func (k ErrorKind) String() string {
	switch k {
	case KindExecution:
		return "execution failure"
	case KindDuplicateKey:
		return "duplicate key"
	case KindIO:
		return "i/o error"
	case KindCorrupt:
		return "corrupt data"
	}
	return "unknown error"
}

// Error is the error type returned by engine operations.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Cause() error  { return e.Err }

// Is matches on kind. A duplicate key is also an execution failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindExecution && e.Kind == KindDuplicateKey
}

var (
	ErrExecutionFailure = &Error{Kind: KindExecution}
	ErrDuplicateKey     = &Error{Kind: KindDuplicateKey}
	ErrIO               = &Error{Kind: KindIO}
	ErrCorruptPage      = &Error{Kind: KindCorrupt}

	ErrVarcharTooLong = errors.New("varchar longer than 255 bytes")
	ErrCharTooLong    = errors.New("char longer than its max length")
	ErrTypeMismatch   = errors.New("value type does not match attribute")
	ErrRecordTooLarge = errors.New("record does not fit in a page")
	ErrNoPrimaryKey   = errors.New("schema has no primary key")
	ErrCorruptMeta    = errors.New("page size marker is corrupt")
)

func ioError(op string, err error) error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}

func execError(op string, err error) error {
	return &Error{Kind: KindExecution, Op: op, Err: err}
}

func corruptError(op string, format string, args ...interface{}) error {
	return &Error{Kind: KindCorrupt, Op: op, Err: errors.Errorf(format, args...)}
}
