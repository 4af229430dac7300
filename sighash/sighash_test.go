// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sighash

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testTx returns a three input, two output transaction together with a
// fetcher for the outputs it spends.
func testTx(t *testing.T) (*wire.MsgTx, *txscript.MultiPrevOutFetcher,
	[]byte) {

	t.Helper()

	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160([]byte("key"))).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.LockTime = 812345

	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for i := 0; i < 3; i++ {
		op := wire.OutPoint{
			Hash:  chainhash.HashH([]byte{byte(i)}),
			Index: uint32(i),
		}
		txIn := wire.NewTxIn(&op, nil, nil)
		txIn.Sequence = 0xfffffffd - uint32(i)
		tx.AddTxIn(txIn)

		prevOuts[op] = wire.NewTxOut(int64(100000*(i+1)), pkScript)
	}
	tx.AddTxOut(wire.NewTxOut(150000, pkScript))
	tx.AddTxOut(wire.NewTxOut(250000, []byte{txscript.OP_RETURN}))

	return tx, txscript.NewMultiPrevOutFetcher(prevOuts), pkScript
}

// hashTypes are all the sighash types exercised by the tests.
var hashTypes = []txscript.SigHashType{
	txscript.SigHashAll,
	txscript.SigHashNone,
	txscript.SigHashSingle,
	txscript.SigHashAll | txscript.SigHashAnyOneCanPay,
	txscript.SigHashNone | txscript.SigHashAnyOneCanPay,
	txscript.SigHashSingle | txscript.SigHashAnyOneCanPay,
}

// TestLegacySigHash cross-checks the legacy digest against btcd for every
// input and hash type, including SIGHASH_SINGLE without a matching output.
func TestLegacySigHash(t *testing.T) {
	t.Parallel()

	tx, fetcher, pkScript := testTx(t)
	view := NewMsgTxView(tx, fetcher)

	for _, hashType := range hashTypes {
		for idx := range tx.TxIn {
			want, err := txscript.CalcSignatureHash(
				pkScript, hashType, tx, idx,
			)
			require.NoError(t, err)

			got, err := Legacy{}.SigHash(hashType, view, pkScript, idx)
			require.NoError(t, err)
			require.Equal(t, want, got, "type %v input %d",
				hashType, idx)
		}
	}
}

// TestLegacySingleNoOutput checks the consensus "one" digest.
func TestLegacySingleNoOutput(t *testing.T) {
	t.Parallel()

	tx, fetcher, pkScript := testTx(t)
	view := NewMsgTxView(tx, fetcher)

	_, err := Legacy{}.Preimage(txscript.SigHashSingle, view, pkScript, 2)
	require.ErrorIs(t, err, ErrSingleNoOutput)

	digest, err := Legacy{}.SigHash(txscript.SigHashSingle, view, pkScript, 2)
	require.NoError(t, err)

	want := make([]byte, 32)
	want[0] = 0x01
	require.Equal(t, want, digest)
}

// TestSegWitSigHash cross-checks the BIP143 digest against btcd.
func TestSegWitSigHash(t *testing.T) {
	t.Parallel()

	tx, fetcher, pkScript := testTx(t)
	view := NewMsgTxView(tx, fetcher)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	segwit := NewSegWit()

	for _, hashType := range hashTypes {
		for idx, txIn := range tx.TxIn {
			amt := fetcher.FetchPrevOutput(
				txIn.PreviousOutPoint,
			).Value

			want, err := txscript.CalcWitnessSigHash(
				pkScript, sigHashes, hashType, tx, idx, amt,
			)
			require.NoError(t, err)

			got, err := segwit.SigHash(hashType, view, pkScript, idx)
			require.NoError(t, err)
			require.Equal(t, want, got, "type %v input %d",
				hashType, idx)
		}
	}
}

// TestSegWitInvalidate checks that the cached midstate is only refreshed
// after Invalidate.
func TestSegWitInvalidate(t *testing.T) {
	t.Parallel()

	// Arrange: Compute a digest to populate the cache.
	tx, fetcher, pkScript := testTx(t)
	view := NewMsgTxView(tx, fetcher)
	segwit := NewSegWit()

	before, err := segwit.SigHash(txscript.SigHashAll, view, pkScript, 0)
	require.NoError(t, err)

	// Act: Change an output behind the cache's back.
	tx.TxOut[0].Value--
	stale, err := segwit.SigHash(txscript.SigHashAll, view, pkScript, 0)
	require.NoError(t, err)

	segwit.Invalidate()
	fresh, err := segwit.SigHash(txscript.SigHashAll, view, pkScript, 0)
	require.NoError(t, err)

	// Assert: Only the invalidated computation sees the change.
	require.Equal(t, before, stale)
	require.NotEqual(t, before, fresh)
}

// TestSegWitMissingValue checks that an unknown input value is an error.
func TestSegWitMissingValue(t *testing.T) {
	t.Parallel()

	tx, _, pkScript := testTx(t)
	view := NewMsgTxView(tx, nil)

	_, err := NewSegWit().Preimage(txscript.SigHashAll, view, pkScript, 0)
	require.ErrorIs(t, err, ErrMissingValue)
}

// TestSigHashDeterministic checks that repeated computations agree.
func TestSigHashDeterministic(t *testing.T) {
	t.Parallel()

	tx, fetcher, pkScript := testTx(t)
	view := NewMsgTxView(tx, fetcher)

	for _, data := range []Data{Legacy{}, NewSegWit()} {
		first, err := data.Preimage(txscript.SigHashAll, view, pkScript, 1)
		require.NoError(t, err)

		second, err := data.Preimage(txscript.SigHashAll, view, pkScript, 1)
		require.NoError(t, err)

		require.Equal(t, first, second)
	}
}

// TestStripCodeSeparator checks the script code selection.
func TestStripCodeSeparator(t *testing.T) {
	t.Parallel()

	script := []byte{
		txscript.OP_1, txscript.OP_CODESEPARATOR, txscript.OP_2,
		txscript.OP_CODESEPARATOR, txscript.OP_3,
	}
	require.Equal(t, []byte{txscript.OP_3}, StripCodeSeparator(script))

	plain := []byte{txscript.OP_1}
	require.Equal(t, plain, StripCodeSeparator(plain))
}

// TestInputIndex checks the range validation of both variants.
func TestInputIndex(t *testing.T) {
	t.Parallel()

	tx, fetcher, pkScript := testTx(t)
	view := NewMsgTxView(tx, fetcher)

	_, err := Legacy{}.Preimage(txscript.SigHashAll, view, pkScript, 3)
	require.ErrorIs(t, err, ErrInputIndex)

	_, err = NewSegWit().Preimage(txscript.SigHashAll, view, pkScript, -1)
	require.ErrorIs(t, err, ErrInputIndex)
}
