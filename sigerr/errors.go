// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sigerr defines the error taxonomy shared by the resolver, spender,
// signer and codec packages.
package sigerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of signing error.
type Kind int

// These constants are used to identify a specific Error.
const (
	// KindResolution indicates a locking script could not be resolved:
	// an unknown hash or pubkey, an unsupported script shape or a
	// malformed script. It is recoverable per spender.
	KindResolution Kind = iota

	// KindSpenderState indicates an operation is not allowed in the
	// current state of a spender, e.g. a sequence mismatch on merge or a
	// signature injected into an already signed leg.
	KindSpenderState

	// KindDeserialization indicates wire data could not be decoded. The
	// whole parse is aborted.
	KindDeserialization

	// KindVerification indicates a signature or script check failed.
	// These are normally recorded in an evaluation state rather than
	// returned.
	KindVerification

	// KindSigning indicates the signing proxy could not produce a
	// signature.
	KindSigning
)

// kindStrings is a map of error kinds back to their constant names for pretty
// printing.
var kindStrings = map[Kind]string{
	KindResolution:      "ResolutionError",
	KindSpenderState:    "SpenderStateError",
	KindDeserialization: "DeserializationError",
	KindVerification:    "VerificationFailure",
	KindSigning:         "SigningError",
}

// String returns the Kind as a human-readable name.
func (k Kind) String() string {
	if s := kindStrings[k]; s != "" {
		return s
	}

	return fmt.Sprintf("Unknown Kind (%d)", int(k))
}

// Error is a typed signing error. It carries a kind, a description and the
// underlying error, if any.
type Error struct {
	Kind Kind
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Desc, e.Err)
	}

	return fmt.Sprintf("%v: %s", e.Kind, e.Desc)
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// New creates an Error given a set of arguments.
func New(k Kind, desc string, err error) Error {
	return Error{Kind: k, Desc: desc, Err: err}
}

// Newf creates an Error with a formatted description wrapping err.
func Newf(k Kind, err error, format string, args ...interface{}) Error {
	return Error{Kind: k, Desc: fmt.Sprintf(format, args...), Err: err}
}

// IsKind returns whether err is, or wraps, an Error of the given kind.
func IsKind(err error, k Kind) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}

	return e.Kind == k
}
