// Package errs defines the error kinds shared across the sampler: the
// taxonomy from which every component decides whether to recover locally
// or let an error propagate to Session.
package errs

import "fmt"

// Kind classifies an error the way Session decides how to react to it.
type Kind int

const (
	// Config marks invalid or inconsistent configuration, or a missing file.
	Config Kind = iota
	// IO marks an I/O or file-format failure.
	IO
	// Numerical marks a Cholesky failure on a non-SPD matrix, a non-finite
	// entry, or CG non-convergence flagged as fatal.
	Numerical
	// Assertion marks a violated internal invariant.
	Assertion
	// Interrupted marks a SIGINT received between iterations.
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "ConfigError"
	case IO:
		return "IOError"
	case Numerical:
		return "NumericalError"
	case Assertion:
		return "AssertionError"
	case Interrupted:
		return "Interrupted"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type carried through the sampler. Where is
// the file path or tensor index naming the offending subject, per spec §7
// ("abort with a human-readable message naming the offending file or
// tensor index").
type Error struct {
	Kind  Kind
	Where string
	Err   error
}

func (e *Error) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Where, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under the given kind and subject.
func New(kind Kind, where string, err error) *Error {
	return &Error{Kind: kind, Where: where, Err: err}
}

// Newf constructs a Error from a format string, like fmt.Errorf.
func Newf(kind Kind, where, format string, args ...any) *Error {
	return &Error{Kind: kind, Where: where, Err: fmt.Errorf(format, args...)}
}

// Numericalf is a convenience constructor for the Numerical kind, since it
// is raised from many call sites in linop and prior.
func Numericalf(where, format string, args ...any) *Error {
	return Newf(Numerical, where, format, args...)
}

// IsKind reports whether err wraps a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExitCode maps a Kind to the process exit code required by spec §6.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if asError(err, &e) {
		switch e.Kind {
		case Interrupted:
			return 130
		case Numerical:
			return 2
		default:
			return 1
		}
	}
	return 1
}
