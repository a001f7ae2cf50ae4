// Package errkind classifies sentinel errors into the small set of kinds
// the rest of the node needs to act on: map a failure to an HTTP status,
// decide whether to retry, decide whether to trip a circuit breaker.
package errkind

import "errors"

// Kind categorizes a failure the way the node's error taxonomy requires.
type Kind int

const (
	Unknown Kind = iota
	Validation
	Authentication
	Integrity
	Transient
	Resource
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authentication:
		return "authentication"
	case Integrity:
		return "integrity"
	case Transient:
		return "transient"
	case Resource:
		return "resource"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kinded wraps a sentinel error with a Kind so callers can recover it with
// errors.As without string-matching error text.
type kinded struct {
	kind Kind
	err  error
}

func (k *kinded) Error() string { return k.err.Error() }
func (k *kinded) Unwrap() error { return k.err }

// New attaches a Kind to a sentinel error. Use at package scope next to the
// error's errors.New declaration, e.g.:
//
//	var ErrParentMismatch = errkind.New(errkind.Integrity, errors.New("parent hash mismatch"))
func New(kind Kind, err error) error {
	return &kinded{kind: kind, err: err}
}

// Of returns the Kind attached to err, or Unknown if none is attached
// anywhere in err's Unwrap chain.
func Of(err error) Kind {
	var k *kinded
	if errors.As(err, &k) {
		return k.kind
	}
	return Unknown
}

// Is reports whether err's kind, anywhere in its Unwrap chain, is kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
