package apperr

import (
	"errors"
	"strings"
)

// Error carries one or more codes and, for system failures, the underlying cause.
type Error struct {
	Codes []Code
	Cause error
}

// New returns an error carrying the given codes in order, without duplicates.
func New(codes ...Code) *Error {
	return &Error{Codes: Merge(codes)}
}

// System wraps an underlying failure as a store failure.
func System(cause error) *Error {
	return Wrap(StoreFailure, cause)
}

// Wrap attaches a cause to a single code.
func Wrap(code Code, cause error) *Error {
	return &Error{Codes: []Code{code}, Cause: cause}
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Codes))
	for _, c := range e.Codes {
		parts = append(parts, c.String())
	}
	msg := "apperr: " + strings.Join(parts, ", ")
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the codes and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, len(e.Codes)+1)
	for _, c := range e.Codes {
		out = append(out, c)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Codes extracts the codes carried by err. Errors that carry no code are
// reported as Unexpected.
func Codes(err error) []Code {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && len(e.Codes) > 0 {
		return append([]Code(nil), e.Codes...)
	}
	var c Code
	if errors.As(err, &c) {
		return []Code{c}
	}
	return []Code{Unexpected}
}

// IsSystem reports whether err belongs to the system category.
func IsSystem(err error) bool {
	for _, c := range Codes(err) {
		if c.Category() == CategorySystem {
			return true
		}
	}
	return false
}

// Merge concatenates code lists keeping first-seen order and dropping repeats.
func Merge(lists ...[]Code) []Code {
	var out []Code
	seen := make(map[Code]struct{})
	for _, list := range lists {
		for _, c := range list {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
