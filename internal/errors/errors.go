package errors

import (
	"errors"
	"fmt"
)

// Kind defines the category of error raised by the pyretic core.
type Kind int

const (
	KindUnknown Kind = iota
	KindInternal
	KindMalformed   // AST construction-time type error (e.g. negating a non-filter)
	KindCompilation // unknown action encountered while compiling a classifier
	KindAccounting  // counter-accounting consistency violation in a bucket
	KindDFA         // external DFA construction failed
	KindNotFound
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindMalformed:
		return "malformed"
	case KindCompilation:
		return "compilation"
	case KindAccounting:
		return "accounting"
	case KindDFA:
		return "dfa"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a structured error raised by the pyretic core. Invariant names
// the spec.md algebraic law or accounting rule the error reports a
// violation of (spec.md §7/§8: filter laws, compile soundness, path
// disjointness, counter-accounting consistency); it is empty for errors
// that aren't reports of a named invariant (a malformed HCL file, an
// unrecognized atom kind, and the like).
type Error struct {
	Kind       Kind
	Invariant  string
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Invariant != "" {
		msg = fmt.Sprintf("%s invariant violated: %s", e.Invariant, msg)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", msg, e.Underlying)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a new Error of the specified kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates a new Error of the specified kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error as a new Error of the specified kind.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf wraps an existing error as a new Error of the specified kind with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// Invariant reports a violation of a named spec.md algebraic law or
// accounting rule, e.g. Invariant(KindMalformed, "filter", "negate:
// operand is not a filter") or Invariant(KindAccounting,
// "counter-accounting", "flow_removed for a match not marked
// to_be_deleted"). GetInvariant recovers the name later, e.g. to decide
// whether a failure is one of the handful of asserted programming-error
// conditions spec.md §7 calls out rather than ordinary malformed input.
func Invariant(kind Kind, invariant, msg string) error {
	return &Error{Kind: kind, Invariant: invariant, Message: msg}
}

// Invariantf is Invariant with a formatted message.
func Invariantf(kind Kind, invariant, format string, args ...any) error {
	return &Error{Kind: kind, Invariant: invariant, Message: fmt.Sprintf(format, args...)}
}

// GetKind returns the Kind of the error, or KindUnknown if it's not a pyretic error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// GetInvariant returns the violated invariant's name, or "" if err is not a
// pyretic error or does not report a named invariant violation.
func GetInvariant(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Invariant
	}
	return ""
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's type contains an Unwrap method returning error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}
