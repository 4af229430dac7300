// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package interpreter

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/internal/scriptnum"
	"github.com/btcsuite/btcsigner/internal/stdscript"
)

// step executes a single opcode. byteIdx is the offset just past it.
func (e *Engine) step(op byte, data []byte, byteIdx int) error {
	s := &e.dstack

	switch {
	case op == txscript.OP_0:
		s.PushByteArray(nil)
		return nil

	case op <= txscript.OP_PUSHDATA4:
		s.PushByteArray(append([]byte(nil), data...))
		return nil

	case op == txscript.OP_1NEGATE:
		s.PushInt(-1)
		return nil

	case op >= txscript.OP_1 && op <= txscript.OP_16:
		s.PushInt(scriptnum.Num(op - txscript.OP_1 + 1))
		return nil
	}

	switch op {
	case txscript.OP_NOP:
		return nil

	case txscript.OP_IF, txscript.OP_NOTIF:
		return e.opIf(op == txscript.OP_NOTIF)

	case txscript.OP_ELSE:
		if len(e.condStack) == 0 {
			return ErrUnbalancedConditional
		}
		top := &e.condStack[len(e.condStack)-1]
		switch *top {
		case condTrue:
			*top = condFalse
		case condFalse:
			*top = condTrue
		}
		return nil

	case txscript.OP_ENDIF:
		if len(e.condStack) == 0 {
			return ErrUnbalancedConditional
		}
		e.condStack = e.condStack[:len(e.condStack)-1]
		return nil

	case txscript.OP_VERIFY:
		return e.opVerify()

	case txscript.OP_RETURN:
		return ErrEarlyReturn

	case txscript.OP_CHECKLOCKTIMEVERIFY:
		return e.opCheckLockTimeVerify()

	case txscript.OP_CHECKSEQUENCEVERIFY:
		return e.opCheckSequenceVerify()

	case txscript.OP_CODESEPARATOR:
		e.codeSep = byteIdx
		return nil

	case txscript.OP_CHECKSIG, txscript.OP_CHECKSIGVERIFY:
		return e.opCheckSig(op == txscript.OP_CHECKSIGVERIFY)

	case txscript.OP_CHECKMULTISIG, txscript.OP_CHECKMULTISIGVERIFY:
		return e.opCheckMultiSig(op == txscript.OP_CHECKMULTISIGVERIFY)

	case txscript.OP_RIPEMD160, txscript.OP_SHA256, txscript.OP_HASH160,
		txscript.OP_HASH256:

		v, err := s.PopByteArray()
		if err != nil {
			return err
		}
		digest, _ := stdscript.Digest(op, v)
		s.PushByteArray(digest)
		return nil

	case txscript.OP_EQUAL, txscript.OP_EQUALVERIFY:
		a, err := s.PopByteArray()
		if err != nil {
			return err
		}
		b, err := s.PopByteArray()
		if err != nil {
			return err
		}
		s.PushBool(bytes.Equal(a, b))
		if op == txscript.OP_EQUALVERIFY {
			return e.opVerify()
		}
		return nil
	}

	if handled, err := e.stackOp(op); handled {
		return err
	}
	if handled, err := e.numericOp(op); handled {
		return err
	}

	return fmt.Errorf("%w: %s", ErrUnsupportedOpcode, opcodeName(op))
}

// opcodeName returns the mnemonic of op.
func opcodeName(op byte) string {
	name, err := txscript.DisasmString([]byte{op})
	if err != nil {
		return fmt.Sprintf("0x%02x", op)
	}

	return name
}

// opIf pushes a conditional block. The condition is only consumed when the
// enclosing branch executes.
func (e *Engine) opIf(negate bool) error {
	cond := condSkip
	if e.isBranchExecuting() {
		v, err := e.dstack.PopBool()
		if err != nil {
			return err
		}
		if v != negate {
			cond = condTrue
		} else {
			cond = condFalse
		}
	}
	e.condStack = append(e.condStack, cond)

	return nil
}

// opVerify pops the top element and fails unless it is true.
func (e *Engine) opVerify() error {
	v, err := e.dstack.PopBool()
	if err != nil {
		return err
	}
	if !v {
		return ErrVerify
	}

	return nil
}

// stackOp executes the stack manipulation opcodes.
func (e *Engine) stackOp(op byte) (bool, error) {
	s := &e.dstack

	switch op {
	case txscript.OP_TOALTSTACK:
		v, err := s.PopByteArray()
		if err != nil {
			return true, err
		}
		e.astack.PushByteArray(v)
		return true, nil

	case txscript.OP_FROMALTSTACK:
		v, err := e.astack.PopByteArray()
		if err != nil {
			return true, err
		}
		s.PushByteArray(v)
		return true, nil

	case txscript.OP_2DROP:
		return true, s.DropN(2)

	case txscript.OP_2DUP:
		return true, s.DupN(2)

	case txscript.OP_3DUP:
		return true, s.DupN(3)

	case txscript.OP_2OVER:
		return true, s.OverN(2)

	case txscript.OP_2ROT:
		return true, s.RotN(2)

	case txscript.OP_2SWAP:
		return true, s.SwapN(2)

	case txscript.OP_IFDUP:
		v, err := s.PeekByteArray(0)
		if err != nil {
			return true, err
		}
		if scriptnum.AsBool(v) {
			s.PushByteArray(v)
		}
		return true, nil

	case txscript.OP_DEPTH:
		s.PushInt(scriptnum.Num(s.Depth()))
		return true, nil

	case txscript.OP_DROP:
		return true, s.DropN(1)

	case txscript.OP_DUP:
		return true, s.DupN(1)

	case txscript.OP_NIP:
		return true, s.NipN(1)

	case txscript.OP_OVER:
		return true, s.OverN(1)

	case txscript.OP_PICK, txscript.OP_ROLL:
		n, err := s.PopInt()
		if err != nil {
			return true, err
		}
		if op == txscript.OP_PICK {
			return true, s.PickN(int(n.Int32()))
		}
		return true, s.RollN(int(n.Int32()))

	case txscript.OP_ROT:
		return true, s.RotN(1)

	case txscript.OP_SWAP:
		return true, s.SwapN(1)

	case txscript.OP_TUCK:
		return true, s.Tuck()

	case txscript.OP_SIZE:
		v, err := s.PeekByteArray(0)
		if err != nil {
			return true, err
		}
		s.PushInt(scriptnum.Num(len(v)))
		return true, nil
	}

	return false, nil
}

// numericOp executes the arithmetic and comparison opcodes.
func (e *Engine) numericOp(op byte) (bool, error) {
	s := &e.dstack

	switch op {
	case txscript.OP_1ADD, txscript.OP_1SUB, txscript.OP_NEGATE,
		txscript.OP_ABS, txscript.OP_NOT, txscript.OP_0NOTEQUAL:

		n, err := s.PopInt()
		if err != nil {
			return true, err
		}

		switch op {
		case txscript.OP_1ADD:
			n++
		case txscript.OP_1SUB:
			n--
		case txscript.OP_NEGATE:
			n = -n
		case txscript.OP_ABS:
			if n < 0 {
				n = -n
			}
		case txscript.OP_NOT:
			s.PushBool(n == 0)
			return true, nil
		case txscript.OP_0NOTEQUAL:
			s.PushBool(n != 0)
			return true, nil
		}
		s.PushInt(n)

		return true, nil

	case txscript.OP_ADD, txscript.OP_SUB, txscript.OP_BOOLAND,
		txscript.OP_BOOLOR, txscript.OP_NUMEQUAL,
		txscript.OP_NUMEQUALVERIFY, txscript.OP_NUMNOTEQUAL,
		txscript.OP_LESSTHAN, txscript.OP_GREATERTHAN,
		txscript.OP_LESSTHANOREQUAL, txscript.OP_GREATERTHANOREQUAL,
		txscript.OP_MIN, txscript.OP_MAX:

		b, err := s.PopInt()
		if err != nil {
			return true, err
		}
		a, err := s.PopInt()
		if err != nil {
			return true, err
		}

		switch op {
		case txscript.OP_ADD:
			s.PushInt(a + b)
		case txscript.OP_SUB:
			s.PushInt(a - b)
		case txscript.OP_BOOLAND:
			s.PushBool(a != 0 && b != 0)
		case txscript.OP_BOOLOR:
			s.PushBool(a != 0 || b != 0)
		case txscript.OP_NUMEQUAL, txscript.OP_NUMEQUALVERIFY:
			s.PushBool(a == b)
			if op == txscript.OP_NUMEQUALVERIFY {
				return true, e.opVerify()
			}
		case txscript.OP_NUMNOTEQUAL:
			s.PushBool(a != b)
		case txscript.OP_LESSTHAN:
			s.PushBool(a < b)
		case txscript.OP_GREATERTHAN:
			s.PushBool(a > b)
		case txscript.OP_LESSTHANOREQUAL:
			s.PushBool(a <= b)
		case txscript.OP_GREATERTHANOREQUAL:
			s.PushBool(a >= b)
		case txscript.OP_MIN:
			s.PushInt(min(a, b))
		case txscript.OP_MAX:
			s.PushInt(max(a, b))
		}

		return true, nil

	case txscript.OP_WITHIN:
		maxVal, err := s.PopInt()
		if err != nil {
			return true, err
		}
		minVal, err := s.PopInt()
		if err != nil {
			return true, err
		}
		x, err := s.PopInt()
		if err != nil {
			return true, err
		}
		s.PushBool(x >= minVal && x < maxVal)

		return true, nil
	}

	return false, nil
}

// opCheckSig verifies a single signature and records the outcome.
func (e *Engine) opCheckSig(isVerify bool) error {
	pubKey, err := e.dstack.PopByteArray()
	if err != nil {
		return err
	}
	sig, err := e.dstack.PopByteArray()
	if err != nil {
		return err
	}

	valid := e.checkSig(pubKey, sig)

	e.state.addThreshold(1, 1)
	e.state.recordPubKey(pubKey, valid)

	if isVerify {
		if !valid {
			return fmt.Errorf("%w: CHECKSIGVERIFY", ErrVerify)
		}
		return nil
	}
	e.dstack.PushBool(valid)

	return nil
}

// opCheckMultiSig verifies an m-of-n signature set. Signatures must appear
// in the order of their keys; they are matched from the last signature and
// key backwards.
func (e *Engine) opCheckMultiSig(isVerify bool) error {
	s := &e.dstack

	numKeys, err := s.PopInt()
	if err != nil {
		return err
	}
	n := int(numKeys.Int32())
	if n < 0 || n > maxPubKeysPerMultiSig {
		return fmt.Errorf("%w: %d", ErrInvalidPubKeyCount, n)
	}

	pubKeys := make([][]byte, n)
	for i := n - 1; i >= 0; i-- {
		if pubKeys[i], err = s.PopByteArray(); err != nil {
			return err
		}
	}

	numSigs, err := s.PopInt()
	if err != nil {
		return err
	}
	m := int(numSigs.Int32())
	if m < 0 || m > n {
		return fmt.Errorf("%w: %d of %d", ErrInvalidSigCount, m, n)
	}

	sigs := make([][]byte, m)
	for i := m - 1; i >= 0; i-- {
		if sigs[i], err = s.PopByteArray(); err != nil {
			return err
		}
	}

	dummy, err := s.PopByteArray()
	if err != nil {
		return err
	}
	if e.flags.Has(ScriptVerifyNullDummy) && len(dummy) != 0 {
		return ErrSigNullDummy
	}

	e.state.addThreshold(m, n)
	for _, pubKey := range pubKeys {
		e.state.recordPubKey(pubKey, false)
	}

	// An unmatched signature fails the check, but we'll keep matching
	// the rest so that every valid signer is recorded. Empty signatures
	// are placeholders and consume no key.
	success := true
	keyIdx := n - 1
	for sigIdx := m - 1; sigIdx >= 0; sigIdx-- {
		if len(sigs[sigIdx]) == 0 {
			success = false
			continue
		}

		matched := false
		for keyIdx >= 0 {
			valid := e.checkSig(pubKeys[keyIdx], sigs[sigIdx])
			e.state.recordPubKey(pubKeys[keyIdx], valid)
			keyIdx--

			if valid {
				matched = true
				break
			}
		}
		success = success && matched
	}

	if isVerify {
		if !success {
			return fmt.Errorf("%w: CHECKMULTISIGVERIFY", ErrVerify)
		}
		return nil
	}
	s.PushBool(success)

	return nil
}

// verifyLockTime checks that lockTime and txLockTime are of the same kind,
// block height or time, and that txLockTime has reached lockTime.
func verifyLockTime(txLockTime, threshold, lockTime int64) error {
	if !((txLockTime < threshold && lockTime < threshold) ||
		(txLockTime >= threshold && lockTime >= threshold)) {

		return fmt.Errorf("%w: lock time type mismatch %d vs %d",
			ErrUnsatisfiedLockTime, lockTime, txLockTime)
	}

	if lockTime > txLockTime {
		return fmt.Errorf("%w: %d > %d", ErrUnsatisfiedLockTime,
			lockTime, txLockTime)
	}

	return nil
}

// opCheckLockTimeVerify implements BIP65. The operand is left on the stack.
func (e *Engine) opCheckLockTimeVerify() error {
	if !e.flags.Has(ScriptVerifyCheckLockTimeVerify) {
		return nil
	}

	so, err := e.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	lockTime, err := scriptnum.Make(
		so, e.dstack.verifyMinNum, scriptnum.LockTimeMaxLen,
	)
	if err != nil {
		return err
	}
	if lockTime < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeLockTime, lockTime)
	}

	err = verifyLockTime(
		int64(e.tx.LockTime()), lockTimeThreshold, int64(lockTime),
	)
	if err != nil {
		return err
	}

	// A final sequence disables the lock time of the transaction.
	if e.tx.Sequence(e.idx) == wire.MaxTxInSequenceNum {
		return fmt.Errorf("%w: input sequence is final",
			ErrUnsatisfiedLockTime)
	}

	return nil
}

// opCheckSequenceVerify implements BIP112. The operand is left on the
// stack.
func (e *Engine) opCheckSequenceVerify() error {
	if !e.flags.Has(ScriptVerifyCheckSequenceVerify) {
		return nil
	}

	so, err := e.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	stackSequence, err := scriptnum.Make(
		so, e.dstack.verifyMinNum, scriptnum.LockTimeMaxLen,
	)
	if err != nil {
		return err
	}
	if stackSequence < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeLockTime, stackSequence)
	}

	sequence := int64(stackSequence)
	if sequence&int64(wire.SequenceLockTimeDisabled) != 0 {
		return nil
	}

	if e.tx.Version() < 2 {
		return fmt.Errorf("%w: transaction version %d",
			ErrUnsatisfiedLockTime, e.tx.Version())
	}

	txSequence := int64(e.tx.Sequence(e.idx))
	if txSequence&int64(wire.SequenceLockTimeDisabled) != 0 {
		return fmt.Errorf("%w: input sequence lock disabled",
			ErrUnsatisfiedLockTime)
	}

	mask := int64(wire.SequenceLockTimeIsSeconds |
		wire.SequenceLockTimeMask)

	return verifyLockTime(
		txSequence&mask, int64(wire.SequenceLockTimeIsSeconds),
		sequence&mask,
	)
}
