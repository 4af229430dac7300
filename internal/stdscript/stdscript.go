// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package stdscript recognizes and builds the standard script templates the
// signer works with.
package stdscript

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160"
)

const (
	// PubKeyHashLen is the length of a HASH160 digest.
	PubKeyHashLen = 20

	// ScriptHashLen is the length of a P2WSH program.
	ScriptHashLen = 32
)

var (
	// ErrNotPushOnly is returned when a script expected to contain only
	// data pushes contains another opcode.
	ErrNotPushOnly = errors.New("script is not push only")
)

// IsPayToScriptHash returns whether script is the P2SH template
// OP_HASH160 <20 bytes> OP_EQUAL.
func IsPayToScriptHash(script []byte) bool {
	return len(script) == 23 &&
		script[0] == txscript.OP_HASH160 &&
		script[1] == txscript.OP_DATA_20 &&
		script[22] == txscript.OP_EQUAL
}

// ScriptHash returns the 20 byte hash committed to by a P2SH script, or nil.
func ScriptHash(script []byte) []byte {
	if !IsPayToScriptHash(script) {
		return nil
	}

	return script[2:22]
}

// WitnessProgram returns the program of a version 0 witness output script.
// The script must consist of exactly two pushes, the first being OP_0 and
// the second 20 or 32 bytes long.
func WitnessProgram(script []byte) ([]byte, bool) {
	if len(script) != 22 && len(script) != 34 {
		return nil, false
	}
	if script[0] != txscript.OP_0 {
		return nil, false
	}

	switch {
	case script[1] == txscript.OP_DATA_20 && len(script) == 22:
		return script[2:], true

	case script[1] == txscript.OP_DATA_32 && len(script) == 34:
		return script[2:], true
	}

	return nil, false
}

// PayToPubKeyHash builds OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY
// OP_CHECKSIG. It is also the script code of a P2WPKH spend.
func PayToPubKeyHash(hash []byte) ([]byte, error) {
	if len(hash) != PubKeyHashLen {
		return nil, fmt.Errorf("invalid pubkey hash length %d",
			len(hash))
	}

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(hash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// PushData serializes items as a sequence of canonical data pushes.
func PushData(items [][]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	for _, item := range items {
		builder.AddData(item)
	}

	return builder.Script()
}

// PushedData returns the data pushed by a push only script. OP_0 yields an
// empty element and OP_1NEGATE / OP_1..OP_16 yield their numeric encodings.
func PushedData(script []byte) ([][]byte, error) {
	var data [][]byte

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()

		switch {
		case op == txscript.OP_0:
			data = append(data, []byte{})

		case op <= txscript.OP_PUSHDATA4:
			data = append(data, append(
				[]byte{}, tokenizer.Data()...,
			))

		case op == txscript.OP_1NEGATE:
			data = append(data, []byte{0x81})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			data = append(data, []byte{op - txscript.OP_1 + 1})

		default:
			return nil, fmt.Errorf("%w: opcode 0x%02x",
				ErrNotPushOnly, op)
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}

	return data, nil
}

// IsPushOnly returns whether script contains only data pushes.
func IsPushOnly(script []byte) bool {
	_, err := PushedData(script)
	return err == nil
}

// Digest applies the hashing opcode op to data. The second return value is
// false if op is not one of OP_RIPEMD160, OP_SHA256, OP_HASH160 or
// OP_HASH256.
func Digest(op byte, data []byte) ([]byte, bool) {
	switch op {
	case txscript.OP_RIPEMD160:
		h := ripemd160.New()
		h.Write(data)
		return h.Sum(nil), true

	case txscript.OP_SHA256:
		h := sha256.Sum256(data)
		return h[:], true

	case txscript.OP_HASH160:
		return btcutil.Hash160(data), true

	case txscript.OP_HASH256:
		return chainhash.DoubleHashB(data), true
	}

	return nil, false
}
