// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package interpreter

import "errors"

var (
	// ErrUnsupportedOpcode is returned for an opcode outside the subset
	// this interpreter executes.
	ErrUnsupportedOpcode = errors.New("unsupported opcode")

	// ErrMalformedScript is returned when a script cannot be tokenized.
	ErrMalformedScript = errors.New("malformed script")

	// ErrStackUnderflow is returned when an opcode needs more elements
	// than the stack holds.
	ErrStackUnderflow = errors.New("stack underflow")

	// ErrStackOverflow is returned when the combined stack size exceeds
	// the consensus limit.
	ErrStackOverflow = errors.New("stack size limit exceeded")

	// ErrElementTooBig is returned for a push larger than 520 bytes.
	ErrElementTooBig = errors.New("element size limit exceeded")

	// ErrVerify is returned when a VERIFY style opcode finds a false
	// value.
	ErrVerify = errors.New("verify failed")

	// ErrEarlyReturn is returned when OP_RETURN is executed.
	ErrEarlyReturn = errors.New("script returned early")

	// ErrUnbalancedConditional is returned for an ELSE or ENDIF without
	// a matching IF, or an IF that is never closed.
	ErrUnbalancedConditional = errors.New("unbalanced conditional")

	// ErrEvalFalse is returned when a script finishes with an empty stack
	// or a false top element.
	ErrEvalFalse = errors.New("script evaluated to false")

	// ErrCleanStack is returned when elements other than the result are
	// left on the stack.
	ErrCleanStack = errors.New("stack not clean after evaluation")

	// ErrNotPushOnly is returned for a P2SH scriptSig or witness spend
	// whose signature script contains non-push opcodes.
	ErrNotPushOnly = errors.New("signature script is not push only")

	// ErrWitnessMalleated is returned when a witness program is spent
	// with a non-empty, or not exactly matching, signature script.
	ErrWitnessMalleated = errors.New("witness program spent with " +
		"unexpected signature script")

	// ErrWitnessProgramMismatch is returned when the witness does not
	// match the witness program.
	ErrWitnessProgramMismatch = errors.New("witness program mismatch")

	// ErrUnexpectedWitness is returned when witness data is present for
	// an input that does not spend a witness program.
	ErrUnexpectedWitness = errors.New("unexpected witness data")

	// ErrInvalidPubKeyCount is returned for a CHECKMULTISIG key count
	// outside 0..20.
	ErrInvalidPubKeyCount = errors.New("invalid public key count")

	// ErrInvalidSigCount is returned for a CHECKMULTISIG threshold
	// outside 0..n.
	ErrInvalidSigCount = errors.New("invalid signature count")

	// ErrSigNullDummy is returned when the CHECKMULTISIG dummy is not
	// empty under ScriptVerifyNullDummy.
	ErrSigNullDummy = errors.New("multisig dummy argument is not empty")

	// ErrNegativeLockTime is returned for a negative CLTV or CSV operand.
	ErrNegativeLockTime = errors.New("negative lock time")

	// ErrUnsatisfiedLockTime is returned when the transaction does not
	// satisfy a CLTV or CSV constraint.
	ErrUnsatisfiedLockTime = errors.New("unsatisfied lock time")

	// ErrMissingPrevOut is returned when the output spent by an input is
	// unknown.
	ErrMissingPrevOut = errors.New("spent output unknown")
)
