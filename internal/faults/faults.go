// Package faults defines the error taxonomy shared by the order core.
// Callers branch on Kind; multi-line operations attach itemized violations
// so the client can fix its cart instead of retrying blind.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	Validation Kind = iota + 1
	Availability
	Concurrency
	Payment
	StateTransition
	LimitExceeded
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Availability:
		return "availability"
	case Concurrency:
		return "concurrency_conflict"
	case Payment:
		return "payment"
	case StateTransition:
		return "state_transition"
	case LimitExceeded:
		return "limit_exceeded"
	}
	return "unknown"
}

// Violation reports one failing item or field. Required/Available carry
// quantities for stock-style failures and are zero otherwise.
type Violation struct {
	Ref       string `json:"ref"`
	Reason    string `json:"reason"`
	Required  int    `json:"required,omitempty"`
	Available int    `json:"available,omitempty"`
}

type Error struct {
	Kind       Kind
	Msg        string
	Violations []Violation
	cause      error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

func (e *Error) WithViolations(vs ...Violation) *Error {
	e.Violations = append(e.Violations, vs...)
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Msg)
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "; %s: %s", v.Ref, v.Reason)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// IsKind reports whether err (or anything it wraps) is a fault of kind k.
func IsKind(err error, k Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}

// KindOf returns the fault kind of err, or 0 for foreign errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
