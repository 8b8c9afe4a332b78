// Package errors provides the error kinds shared by the engine packages.
//
// Callers wrap failures with a Kind so that the orchestrator and the CLI can
// react to the category (duplicate name, missing metric input, network
// failure) without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
)

// Kind classifies an error.
type Kind string

const (
	KindMetricInputMissing Kind = "metric-input-missing"
	KindDuplicateName      Kind = "duplicate-name"
	KindInvalidDate        Kind = "invalid-date"
	KindCalculation        Kind = "calculation"
	KindIO                 Kind = "io"
	KindNetwork            Kind = "network"
	KindSchema             Kind = "schema"
	KindNotFound           Kind = "not-found"
	KindValidation         Kind = "validation"
	KindCancelled          Kind = "cancelled"
	KindGeneric            Kind = "generic"
)

// Error wraps an underlying error with a kind, the operation that failed and
// optional context values.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

// Unwrap implements the error unwrapping interface.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
	}
	return false
}

// With returns a copy of e carrying an additional context value.
func (e *Error) With(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	maps.Copy(ctx, e.Context)
	ctx[key] = value
	return &Error{Kind: e.Kind, Op: e.Op, Err: e.Err, Context: ctx}
}

// New wraps err with a kind and operation. A nil err yields a bare kinded error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Sentinels usable with errors.Is.
var (
	ErrMetricInputMissing = &Error{Kind: KindMetricInputMissing}
	ErrDuplicateName      = &Error{Kind: KindDuplicateName}
	ErrInvalidDate        = &Error{Kind: KindInvalidDate}
	ErrCalculation        = &Error{Kind: KindCalculation}
	ErrIO                 = &Error{Kind: KindIO}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrSchema             = &Error{Kind: KindSchema}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrCancelled          = &Error{Kind: KindCancelled}
)

// KindOf returns the kind of the first *Error in err's chain, or KindGeneric.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}

// Is, As and Join forward to the standard library so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
