// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sighash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// sigHashMask masks out the ANYONECANPAY bit.
	sigHashMask = 0x1f
)

var (
	// ErrInputIndex is returned when the input index is out of range.
	ErrInputIndex = errors.New("input index out of range")

	// ErrSingleNoOutput is returned by Legacy.Preimage for SIGHASH_SINGLE
	// when there is no output at the input's index. Consensus signs the
	// constant "one" hash in that case, see Legacy.SigHash.
	ErrSingleNoOutput = errors.New("SIGHASH_SINGLE without matching output")

	// ErrMissingValue is returned by SegWit when the value of the spent
	// output is unknown.
	ErrMissingValue = errors.New("spent output value unknown")
)

// oneHash is the digest signed for SIGHASH_SINGLE without a matching output.
var oneHash = [32]byte{0x01}

// Data computes the byte sequence a signature commits to.
type Data interface {
	// Preimage returns the serialized data whose double-SHA256 is
	// signed for input idx spending subScript.
	Preimage(hashType txscript.SigHashType, tx TxView, subScript []byte,
		idx int) ([]byte, error)

	// SigHash returns the digest that is signed for input idx.
	SigHash(hashType txscript.SigHashType, tx TxView, subScript []byte,
		idx int) ([]byte, error)
}

// isAnyOneCanPay returns whether the ANYONECANPAY bit is set.
func isAnyOneCanPay(hashType txscript.SigHashType) bool {
	return hashType&txscript.SigHashAnyOneCanPay != 0
}

// baseType returns the hash type without the ANYONECANPAY bit.
func baseType(hashType txscript.SigHashType) txscript.SigHashType {
	return hashType & sigHashMask
}

// StripCodeSeparator returns the part of script following its last
// OP_CODESEPARATOR. Scripts that fail to parse are returned unchanged.
func StripCodeSeparator(script []byte) []byte {
	start := 0
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() == txscript.OP_CODESEPARATOR {
			start = int(tokenizer.ByteIndex())
		}
	}
	if tokenizer.Err() != nil {
		return script
	}

	return script[start:]
}

// Legacy computes the original transaction digest: the whole transaction
// with every scriptSig blanked except the one being signed.
type Legacy struct{}

// A compile-time assertion to ensure that Legacy implements the Data
// interface.
var _ Data = Legacy{}

// Preimage returns the legacy serialization for input idx.
func (Legacy) Preimage(hashType txscript.SigHashType, tx TxView,
	subScript []byte, idx int) ([]byte, error) {

	if idx < 0 || idx >= tx.NumInputs() {
		return nil, fmt.Errorf("%w: %d of %d", ErrInputIndex, idx,
			tx.NumInputs())
	}

	base := baseType(hashType)
	if base == txscript.SigHashSingle && idx >= tx.NumOutputs() {
		return nil, ErrSingleNoOutput
	}

	script := StripCodeSeparator(subScript)

	msg := wire.NewMsgTx(tx.Version())
	msg.LockTime = tx.LockTime()

	// We'll add the inputs first. With ANYONECANPAY only the input being
	// signed is committed to.
	for i := 0; i < tx.NumInputs(); i++ {
		if isAnyOneCanPay(hashType) && i != idx {
			continue
		}

		txIn := &wire.TxIn{
			PreviousOutPoint: tx.OutPoint(i),
			Sequence:         tx.Sequence(i),
		}
		if i == idx {
			txIn.SignatureScript = script
		} else if base == txscript.SigHashNone ||
			base == txscript.SigHashSingle {

			// The other inputs are free to update their sequence.
			txIn.Sequence = 0
		}
		msg.AddTxIn(txIn)
	}

	// Now the outputs. NONE commits to none, SINGLE to the one at the
	// same index with the preceding ones blanked.
	switch base {
	case txscript.SigHashNone:

	case txscript.SigHashSingle:
		for i := 0; i < idx; i++ {
			msg.AddTxOut(&wire.TxOut{Value: -1})
		}
		out := tx.Output(idx)
		msg.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))

	default:
		for i := 0; i < tx.NumOutputs(); i++ {
			out := tx.Output(i)
			msg.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))
		}
	}

	var buf bytes.Buffer
	buf.Grow(msg.SerializeSizeStripped() + 4)
	if err := msg.SerializeNoWitness(&buf); err != nil {
		return nil, err
	}

	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], uint32(hashType))
	buf.Write(trailer[:])

	return buf.Bytes(), nil
}

// SigHash returns the legacy digest for input idx.
func (l Legacy) SigHash(hashType txscript.SigHashType, tx TxView,
	subScript []byte, idx int) ([]byte, error) {

	preimage, err := l.Preimage(hashType, tx, subScript, idx)
	switch {
	case errors.Is(err, ErrSingleNoOutput):
		h := oneHash
		return h[:], nil

	case err != nil:
		return nil, err
	}

	return chainhash.DoubleHashB(preimage), nil
}

// midstate holds the BIP143 digests shared by every input of a transaction.
type midstate struct {
	hashPrevOuts  chainhash.Hash
	hashSequence  chainhash.Hash
	hashOutputs   chainhash.Hash
	outputDigests []chainhash.Hash
}

// SegWit computes BIP143 digests. The per-transaction digests are computed
// on first use and reused until Invalidate is called, so the transaction
// must not change in between.
//
// SegWit is not safe for concurrent use.
type SegWit struct {
	cache fn.Option[*midstate]
}

// A compile-time assertion to ensure that SegWit implements the Data
// interface.
var _ Data = (*SegWit)(nil)

// NewSegWit returns a SegWit with an empty cache.
func NewSegWit() *SegWit {
	return &SegWit{cache: fn.None[*midstate]()}
}

// Invalidate drops the cached midstate. It must be called whenever the
// inputs or outputs of the transaction change.
func (s *SegWit) Invalidate() {
	s.cache = fn.None[*midstate]()
}

// midstate returns the cached midstate, computing it from tx if needed.
func (s *SegWit) midstate(tx TxView) *midstate {
	if s.cache.IsSome() {
		return s.cache.UnwrapOr(nil)
	}

	m := computeMidstate(tx)
	s.cache = fn.Some(m)

	return m
}

// computeMidstate hashes every outpoint, sequence and output of tx.
func computeMidstate(tx TxView) *midstate {
	var (
		prevOuts  bytes.Buffer
		sequences bytes.Buffer
		outputs   bytes.Buffer
		scratch   [8]byte
	)

	for i := 0; i < tx.NumInputs(); i++ {
		op := tx.OutPoint(i)
		prevOuts.Write(op.Hash[:])
		binary.LittleEndian.PutUint32(scratch[:4], op.Index)
		prevOuts.Write(scratch[:4])

		binary.LittleEndian.PutUint32(scratch[:4], tx.Sequence(i))
		sequences.Write(scratch[:4])
	}

	m := &midstate{
		outputDigests: make([]chainhash.Hash, tx.NumOutputs()),
	}
	for i := 0; i < tx.NumOutputs(); i++ {
		var single bytes.Buffer
		_ = wire.WriteTxOut(&single, 0, 0, tx.Output(i))

		outputs.Write(single.Bytes())
		m.outputDigests[i] = chainhash.DoubleHashH(single.Bytes())
	}

	m.hashPrevOuts = chainhash.DoubleHashH(prevOuts.Bytes())
	m.hashSequence = chainhash.DoubleHashH(sequences.Bytes())
	m.hashOutputs = chainhash.DoubleHashH(outputs.Bytes())

	return m
}

// Preimage returns the BIP143 serialization for input idx. subScript is the
// script code: the synthetic P2PKH script for P2WPKH or the witness script
// for P2WSH.
func (s *SegWit) Preimage(hashType txscript.SigHashType, tx TxView,
	subScript []byte, idx int) ([]byte, error) {

	if idx < 0 || idx >= tx.NumInputs() {
		return nil, fmt.Errorf("%w: %d of %d", ErrInputIndex, idx,
			tx.NumInputs())
	}

	value, ok := tx.InputValue(idx)
	if !ok {
		return nil, fmt.Errorf("%w: input %d", ErrMissingValue, idx)
	}

	m := s.midstate(tx)
	base := baseType(hashType)

	var zero chainhash.Hash
	hashPrevOuts, hashSequence, hashOutputs := zero, zero, zero

	if !isAnyOneCanPay(hashType) {
		hashPrevOuts = m.hashPrevOuts
	}
	if !isAnyOneCanPay(hashType) && base != txscript.SigHashSingle &&
		base != txscript.SigHashNone {

		hashSequence = m.hashSequence
	}

	switch {
	case base != txscript.SigHashSingle && base != txscript.SigHashNone:
		hashOutputs = m.hashOutputs

	case base == txscript.SigHashSingle && idx < tx.NumOutputs():
		hashOutputs = m.outputDigests[idx]
	}

	var (
		buf     bytes.Buffer
		scratch [8]byte
	)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(tx.Version()))
	buf.Write(scratch[:4])
	buf.Write(hashPrevOuts[:])
	buf.Write(hashSequence[:])

	op := tx.OutPoint(idx)
	buf.Write(op.Hash[:])
	binary.LittleEndian.PutUint32(scratch[:4], op.Index)
	buf.Write(scratch[:4])

	if err := wire.WriteVarBytes(&buf, 0, subScript); err != nil {
		return nil, err
	}

	binary.LittleEndian.PutUint64(scratch[:], uint64(value))
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:4], tx.Sequence(idx))
	buf.Write(scratch[:4])

	buf.Write(hashOutputs[:])

	binary.LittleEndian.PutUint32(scratch[:4], tx.LockTime())
	buf.Write(scratch[:4])
	binary.LittleEndian.PutUint32(scratch[:4], uint32(hashType))
	buf.Write(scratch[:4])

	return buf.Bytes(), nil
}

// SigHash returns the BIP143 digest for input idx.
func (s *SegWit) SigHash(hashType txscript.SigHashType, tx TxView,
	subScript []byte, idx int) ([]byte, error) {

	preimage, err := s.Preimage(hashType, tx, subScript, idx)
	if err != nil {
		return nil, err
	}

	return chainhash.DoubleHashB(preimage), nil
}
