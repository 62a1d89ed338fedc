package letter

import (
	"context"
	"errors"
	"slices"
)

// Well-known cause kinds.
const (
	CauseHandlerError    = "handler_error"
	CauseTimeout         = "timeout"
	CausePanic           = "panic"
	CauseTransformFailed = "transform_failed"
	// CauseSequenceBlocked marks a message that never reached its handler
	// because an earlier message of the same sequence was already parked.
	CauseSequenceBlocked = "sequence_blocked"
)

// maxChain bounds the unwrapped error chain recorded on a cause.
const maxChain = 16

// Cause describes why a letter is (still) in the queue.
type Cause struct {
	Kind        string   `json:"cause_kind"`
	Description string   `json:"cause_detail"`
	Chain       []string `json:"cause_chain,omitempty"`
}

// Clone returns a deep copy of c.
func (c Cause) Clone() Cause {
	c.Chain = slices.Clone(c.Chain)
	return c
}

// IsZero reports whether c carries no information.
func (c Cause) IsZero() bool {
	return c.Kind == "" && c.Description == "" && len(c.Chain) == 0
}

// Kinded is implemented by errors that name their own cause kind.
type Kinded interface {
	CauseKind() string
}

// CauseFromError builds a Cause from a handler error. The kind comes from
// the first error in the chain implementing [Kinded]; a deadline maps to
// [CauseTimeout]; anything else is [CauseHandlerError]. A nil error yields
// the zero Cause.
func CauseFromError(err error) Cause {
	if err == nil {
		return Cause{}
	}
	kind := CauseHandlerError
	var k Kinded
	switch {
	case errors.As(err, &k):
		kind = k.CauseKind()
	case errors.Is(err, context.DeadlineExceeded):
		kind = CauseTimeout
	}
	return Cause{
		Kind:        kind,
		Description: err.Error(),
		Chain:       errorChain(err),
	}
}

// Blocked is the cause recorded on a message diverted behind a parked
// sequence front.
func Blocked(front string) Cause {
	return Cause{
		Kind:        CauseSequenceBlocked,
		Description: "sequence " + front + " is blocked by an earlier letter",
	}
}

// errorChain flattens the wrapped errors below err, depth-first.
func errorChain(err error) []string {
	var chain []string
	var walk func(error)
	walk = func(e error) {
		for e != nil && len(chain) < maxChain {
			switch u := e.(type) {
			case interface{ Unwrap() []error }:
				for _, inner := range u.Unwrap() {
					chain = append(chain, inner.Error())
					walk(inner)
				}
				return
			case interface{ Unwrap() error }:
				e = u.Unwrap()
				if e != nil {
					chain = append(chain, e.Error())
				}
			default:
				return
			}
		}
	}
	walk(err)
	return chain
}
