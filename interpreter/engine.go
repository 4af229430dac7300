// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package interpreter implements the restricted script interpreter used to
// verify the unlocking data produced by the signer. It executes the opcode
// subset found in standard wallet templates, follows P2SH redeem scripts and
// version 0 witness programs, and records per public key signature validity.
package interpreter

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/internal/scriptnum"
	"github.com/btcsuite/btcsigner/internal/stdscript"
	"github.com/btcsuite/btcsigner/sighash"
)

const (
	// maxElementSize is the maximum number of bytes of a stack element.
	maxElementSize = 520

	// maxStackSize is the maximum combined size of the data and alt
	// stacks.
	maxStackSize = 1000

	// maxPubKeysPerMultiSig is the maximum number of keys of a
	// CHECKMULTISIG.
	maxPubKeysPerMultiSig = 20

	// lockTimeThreshold is the number below which a lock time is a
	// block height.
	lockTimeThreshold = 500000000
)

// condState is the state of one IF/NOTIF block.
type condState uint8

const (
	condFalse condState = iota
	condTrue
	condSkip
)

// sigVersion selects the sighash algorithm of the script being executed.
type sigVersion uint8

const (
	sigVersionBase sigVersion = iota
	sigVersionWitnessV0
)

// Engine verifies the inputs of one transaction. It is not safe for
// concurrent use, but may be reused across the inputs of the transaction it
// was created for.
type Engine struct {
	tx     sighash.TxView
	flags  Flags
	legacy sighash.Legacy
	segwit *sighash.SegWit

	idx   int
	state *TxInEvalState

	dstack    stack
	astack    stack
	condStack []condState

	script     []byte
	codeSep    int
	sigVersion sigVersion
}

// NewEngine returns an engine for tx. segwit may be shared between engines
// of the same transaction, nil creates a private cache.
func NewEngine(tx sighash.TxView, flags Flags,
	segwit *sighash.SegWit) *Engine {

	if segwit == nil {
		segwit = sighash.NewSegWit()
	}

	return &Engine{
		tx:     tx,
		flags:  flags,
		segwit: segwit,
	}
}

// VerifyInput evaluates the unlocking data of input idx against pkScript.
// Failures are recorded in the returned state, never returned.
func (e *Engine) VerifyInput(idx int, pkScript, sigScript []byte,
	witness wire.TxWitness) *TxInEvalState {

	e.idx = idx
	e.state = NewTxInEvalState()
	e.dstack = stack{verifyMinNum: e.flags.Has(ScriptVerifyMinimalData)}
	e.astack = stack{}

	if err := e.verify(pkScript, sigScript, witness); err != nil {
		log.Debugf("Input %d failed verification: %v", idx, err)

		e.state.Err = err
		return e.state
	}
	e.state.StackValid = true

	return e.state
}

// verify runs the scriptSig, the locking script and then whichever of the
// redeem script and witness program applies.
func (e *Engine) verify(pkScript, sigScript []byte,
	witness wire.TxWitness) error {

	isP2SH := e.flags.Has(ScriptBip16) &&
		stdscript.IsPayToScriptHash(pkScript)

	if isP2SH && !stdscript.IsPushOnly(sigScript) {
		return ErrNotPushOnly
	}

	if err := e.execute(sigScript, sigVersionBase); err != nil {
		return err
	}

	// The P2SH redeem script runs against the stack as the scriptSig
	// left it, so we'll keep a copy.
	saved := append([][]byte(nil), e.dstack.items...)

	if err := e.execute(pkScript, sigVersionBase); err != nil {
		return err
	}
	if err := e.checkTrue(); err != nil {
		return err
	}

	var witnessUsed bool
	if e.flags.Has(ScriptVerifySegWit) {
		program, ok := stdscript.WitnessProgram(pkScript)
		if ok {
			if len(sigScript) != 0 {
				return ErrWitnessMalleated
			}
			if err := e.verifyWitness(program, witness); err != nil {
				return err
			}
			witnessUsed = true
		}
	}

	if isP2SH {
		if len(saved) == 0 {
			return fmt.Errorf("%w: no redeem script", ErrStackUnderflow)
		}
		redeem := saved[len(saved)-1]
		e.dstack.items = saved[:len(saved)-1]

		if err := e.execute(redeem, sigVersionBase); err != nil {
			return err
		}
		if err := e.checkTrue(); err != nil {
			return err
		}

		program, ok := stdscript.WitnessProgram(redeem)
		if e.flags.Has(ScriptVerifySegWit) && ok {
			// The scriptSig must be exactly the push of the
			// program.
			expected, err := stdscript.PushData([][]byte{redeem})
			if err != nil {
				return err
			}
			if !bytes.Equal(sigScript, expected) {
				return ErrWitnessMalleated
			}
			if err := e.verifyWitness(program, witness); err != nil {
				return err
			}
			witnessUsed = true
		}
	}

	if !witnessUsed && len(witness) != 0 &&
		e.flags.Has(ScriptVerifySegWit) {

		return ErrUnexpectedWitness
	}

	if !witnessUsed && e.flags.Has(ScriptVerifyCleanStack) &&
		e.dstack.Depth() != 1 {

		return fmt.Errorf("%w: %d elements", ErrCleanStack,
			e.dstack.Depth())
	}

	return nil
}

// verifyWitness executes a version 0 witness program.
func (e *Engine) verifyWitness(program []byte, witness wire.TxWitness) error {
	var (
		script []byte
		items  [][]byte
	)

	switch len(program) {
	case stdscript.PubKeyHashLen:
		if len(witness) != 2 {
			return fmt.Errorf("%w: p2wpkh witness has %d items",
				ErrWitnessProgramMismatch, len(witness))
		}

		var err error
		script, err = stdscript.PayToPubKeyHash(program)
		if err != nil {
			return err
		}
		items = witness

	case stdscript.ScriptHashLen:
		if len(witness) == 0 {
			return fmt.Errorf("%w: empty p2wsh witness",
				ErrWitnessProgramMismatch)
		}

		script = witness[len(witness)-1]
		h := sha256.Sum256(script)
		if !bytes.Equal(h[:], program) {
			return fmt.Errorf("%w: witness script hash",
				ErrWitnessProgramMismatch)
		}
		items = witness[:len(witness)-1]

	default:
		return fmt.Errorf("%w: program length %d",
			ErrWitnessProgramMismatch, len(program))
	}

	for _, item := range items {
		if len(item) > maxElementSize {
			return ErrElementTooBig
		}
	}

	e.dstack.items = make([][]byte, len(items))
	copy(e.dstack.items, items)

	if err := e.execute(script, sigVersionWitnessV0); err != nil {
		return err
	}

	// Witness scripts must leave exactly one true element.
	if e.dstack.Depth() != 1 {
		return fmt.Errorf("%w: %d elements", ErrCleanStack,
			e.dstack.Depth())
	}

	return e.checkTrue()
}

// checkTrue returns an error unless the top of the stack is true.
func (e *Engine) checkTrue() error {
	v, err := e.dstack.PeekByteArray(0)
	if err != nil {
		return ErrEvalFalse
	}
	if !scriptnum.AsBool(v) {
		return ErrEvalFalse
	}

	return nil
}

// isBranchExecuting returns whether the current conditional branch is
// being executed.
func (e *Engine) isBranchExecuting() bool {
	if len(e.condStack) == 0 {
		return true
	}

	return e.condStack[len(e.condStack)-1] == condTrue
}

// isConditional returns whether op changes the conditional state and must
// therefore be processed even in a non-executing branch.
func isConditional(op byte) bool {
	switch op {
	case txscript.OP_IF, txscript.OP_NOTIF, txscript.OP_ELSE,
		txscript.OP_ENDIF:

		return true
	}

	return false
}

// execute runs script against the current data stack.
func (e *Engine) execute(script []byte, sv sigVersion) error {
	e.script = script
	e.codeSep = 0
	e.sigVersion = sv
	e.condStack = e.condStack[:0]
	e.astack.items = nil

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		data := tokenizer.Data()

		if len(data) > maxElementSize {
			return fmt.Errorf("%w: %d bytes", ErrElementTooBig,
				len(data))
		}

		if !e.isBranchExecuting() && !isConditional(op) {
			continue
		}

		err := e.step(op, data, int(tokenizer.ByteIndex()))
		if err != nil {
			return err
		}

		if e.dstack.Depth()+e.astack.Depth() > maxStackSize {
			return ErrStackOverflow
		}
	}
	if err := tokenizer.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedScript, err)
	}

	if len(e.condStack) != 0 {
		return ErrUnbalancedConditional
	}

	return nil
}

// checkSig verifies sig, an encoded signature with its hash type byte,
// against pubKey and the current script code.
func (e *Engine) checkSig(pubKey, sig []byte) bool {
	if len(sig) == 0 {
		return false
	}

	hashType := txscript.SigHashType(sig[len(sig)-1])
	signature, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return false
	}

	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	subScript := e.script[e.codeSep:]

	var digest []byte
	if e.sigVersion == sigVersionWitnessV0 {
		digest, err = e.segwit.SigHash(hashType, e.tx, subScript, e.idx)
	} else {
		digest, err = e.legacy.SigHash(hashType, e.tx, subScript, e.idx)
	}
	if err != nil {
		log.Debugf("Input %d sighash: %v", e.idx, err)
		return false
	}

	return signature.Verify(digest, key)
}
