// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package interpreter

// Flags is a bitmask selecting the optional rules enforced by the Engine.
type Flags uint32

const (
	// ScriptBip16 evaluates P2SH redeem scripts.
	ScriptBip16 Flags = 1 << iota

	// ScriptVerifySegWit evaluates version 0 witness programs. Without
	// it witness programs are treated as anyone-can-spend, as they were
	// before the soft fork.
	ScriptVerifySegWit

	// ScriptVerifyCleanStack requires exactly one element to be left on
	// the stack of a legacy spend.
	ScriptVerifyCleanStack

	// ScriptVerifyNullDummy requires the CHECKMULTISIG dummy element to
	// be empty.
	ScriptVerifyNullDummy

	// ScriptVerifyMinimalData requires numbers to be minimally encoded.
	ScriptVerifyMinimalData

	// ScriptVerifyCheckLockTimeVerify enforces OP_CHECKLOCKTIMEVERIFY.
	ScriptVerifyCheckLockTimeVerify

	// ScriptVerifyCheckSequenceVerify enforces OP_CHECKSEQUENCEVERIFY.
	ScriptVerifyCheckSequenceVerify
)

// StandardFlags are the flags used when verifying signer output.
const StandardFlags = ScriptBip16 | ScriptVerifySegWit |
	ScriptVerifyCleanStack | ScriptVerifyNullDummy |
	ScriptVerifyCheckLockTimeVerify | ScriptVerifyCheckSequenceVerify

// Has returns whether every flag in f2 is set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}
