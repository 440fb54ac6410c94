// Package apperr defines the error kinds shared by the scheduling core and the
// profile registry.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	KindInvalidTimestamp Kind = "invalid_timestamp"
	KindInvalidFrequency Kind = "invalid_frequency"
	KindInvalidTrigger   Kind = "invalid_trigger"
	KindNotFound         Kind = "not_found"
	KindDuplicateID      Kind = "duplicate_id"
	KindCallbackFailure  Kind = "callback_failure"
	KindStoreUnavailable Kind = "store_unavailable"
)

func (k Kind) String() string {
	return string(k)
}

func (k Kind) message() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrInvalidTimestamp = &Error{Kind: KindInvalidTimestamp}
	ErrInvalidFrequency = &Error{Kind: KindInvalidFrequency}
	ErrInvalidTrigger   = &Error{Kind: KindInvalidTrigger}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrDuplicateID      = &Error{Kind: KindDuplicateID}
	ErrCallbackFailure  = &Error{Kind: KindCallbackFailure}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
)

// Error is a classified error raised at a component boundary.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.message())
	if e.ID != "" {
		sb.WriteString(" ")
		sb.WriteString(e.ID)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// WithID attaches the id of the entity the error is about.
func (e *Error) WithID(id string) *Error {
	e.ID = id
	return e
}

// New creates a classified error with a formatted cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or the empty kind when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
