// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// testKey returns a deterministic private key derived from seed.
func testKey(seed byte) *btcec.PrivateKey {
	privKey, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte{seed}))
	return privKey
}

// p2pkhScript returns the P2PKH script paying to pubKey.
func p2pkhScript(t *testing.T, pubKey []byte) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pubKey)).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	return script
}

// p2shScript returns the P2SH script committing to redeem.
func p2shScript(t *testing.T, redeem []byte) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeem)).
		AddOp(txscript.OP_EQUAL).
		Script()
	require.NoError(t, err)

	return script
}

// p2wpkhScript returns the version 0 witness program paying to pubKey.
func p2wpkhScript(t *testing.T, pubKey []byte) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pubKey)).
		Script()
	require.NoError(t, err)

	return script
}

// p2wshScript returns the version 0 witness program committing to
// witnessScript.
func p2wshScript(t *testing.T, witnessScript []byte) []byte {
	t.Helper()

	h := sha256.Sum256(witnessScript)
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(h[:]).
		Script()
	require.NoError(t, err)

	return script
}

// multiSigScript returns an m-of-n CHECKMULTISIG script over pubKeys.
func multiSigScript(t *testing.T, m int, pubKeys ...[]byte) []byte {
	t.Helper()

	builder := txscript.NewScriptBuilder().AddInt64(int64(m))
	for _, pubKey := range pubKeys {
		builder.AddData(pubKey)
	}
	script, err := builder.
		AddInt64(int64(len(pubKeys))).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
	require.NoError(t, err)

	return script
}
