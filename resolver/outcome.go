// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"errors"
	"fmt"
)

// OutcomeKind classifies the result of a resolution attempt.
type OutcomeKind uint8

const (
	// OutcomeResolved means the stack was fully resolved.
	OutcomeResolved OutcomeKind = iota

	// OutcomePending means the spender cannot be resolved right now but
	// may be later, e.g. once a co-signer supplies the missing preimage
	// or the UTXO becomes known.
	OutcomePending

	// OutcomeFatal means the script can never be resolved by this
	// module.
	OutcomeFatal
)

// String returns the OutcomeKind as a human-readable name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResolved:
		return "Resolved"
	case OutcomePending:
		return "Pending"
	case OutcomeFatal:
		return "Fatal"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", uint8(k))
	}
}

// Outcome is the result of resolving one spender. Stack is set for
// OutcomeResolved, Err for the other kinds.
type Outcome struct {
	Kind  OutcomeKind
	Stack *ResolvedStack
	Err   error
}

// Resolved returns a resolved outcome.
func Resolved(stack *ResolvedStack) Outcome {
	return Outcome{Kind: OutcomeResolved, Stack: stack}
}

// Pending returns a pending outcome carrying the reason.
func Pending(reason error) Outcome {
	return Outcome{Kind: OutcomePending, Err: reason}
}

// Fatal returns a fatal outcome.
func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// Classify turns the return values of Resolve into an Outcome. A missing
// preimage is pending, every other error is fatal.
func Classify(stack *ResolvedStack, err error) Outcome {
	switch {
	case err == nil:
		return Resolved(stack)

	case errors.Is(err, ErrNotFound):
		return Pending(err)

	default:
		return Fatal(err)
	}
}

// TryResolve resolves pkScript and classifies the result.
func TryResolve(pkScript []byte, feed Feed) Outcome {
	return Classify(Resolve(pkScript, feed))
}

// String returns a short description of the outcome.
func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%v: %v", o.Kind, o.Err)
	}

	return o.Kind.String()
}
