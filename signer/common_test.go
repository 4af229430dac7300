// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/resolver"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// testFee is the fee left by every test transaction.
const testFee = btcutil.Amount(1000)

// testKey returns a deterministic private key derived from seed.
func testKey(seed byte) *btcec.PrivateKey {
	privKey, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte{seed}))
	return privKey
}

// testPubKey returns the compressed public key of testKey(seed).
func testPubKey(seed byte) []byte {
	return testKey(seed).PubKey().SerializeCompressed()
}

// newTestFeed returns a feed holding the private keys of seeds.
func newTestFeed(seeds ...byte) *resolver.MemFeed {
	feed := resolver.NewMemFeed()
	for _, seed := range seeds {
		feed.AddPrivKey(testKey(seed))
	}

	return feed
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

// p2shScript returns the P2SH script committing to redeem.
func p2shScript(t *testing.T, redeem []byte) []byte {
	t.Helper()

	script, err := scriptHashPkScript(redeem)
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

// fundingTx returns a transaction with one output per pkScript, each worth
// value. Its single input spends a made up outpoint derived from tag so that
// distinct tags give distinct transactions.
func fundingTx(tag byte, value btcutil.Amount, pkScripts ...[]byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{tag}, 0), []byte{txscript.OP_TRUE},
		nil,
	))
	for _, pkScript := range pkScripts {
		tx.AddTxOut(wire.NewTxOut(int64(value), pkScript))
	}

	return tx
}

// testUTXOs returns the UTXOs of every output of tx.
func testUTXOs(t *testing.T, tx *wire.MsgTx) []UTXO {
	t.Helper()

	utxos := make([]UTXO, len(tx.TxOut))
	for i := range tx.TxOut {
		u, err := UTXOFromTx(tx, uint32(i))
		require.NoError(t, err)
		utxos[i] = u
	}

	return utxos
}

// newTestSigner returns a signer spending every output of funding, with the
// funding transaction known as a supporting transaction, and a single
// recipient collecting the inputs minus testFee.
func newTestSigner(t *testing.T, funding *wire.MsgTx,
	opts ...Option) *Signer {

	t.Helper()

	s := New(opts...)
	s.AddSupportingTx(funding)

	var total btcutil.Amount
	for i, txOut := range funding.TxOut {
		op := wire.OutPoint{Hash: funding.TxHash(), Index: uint32(i)}
		require.NoError(t, s.AddSpender(NewOutPointSpender(op)))
		total += btcutil.Amount(txOut.Value)
	}

	dest := p2wpkhScript(t, testPubKey(0xee))
	require.NoError(t, s.AddRecipient(NewRecipient(total-testFee, dest)))

	return s
}

// requireValidTx checks every input of the signed transaction of s with the
// btcd script engine.
func requireValidTx(t *testing.T, s *Signer) {
	t.Helper()

	tx, err := s.SerializeSignedTx()
	require.NoError(t, err)

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, sp := range s.Spenders() {
		require.True(t, sp.UTXO().IsSome())
		utxo := sp.UTXO().UnwrapOr(UTXO{})
		fetcher.AddPrevOut(sp.OutPoint(), utxo.TxOut())
	}
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		engine, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, hashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, engine.Execute(), "input %d", i)
	}
}

// mockSigningProxy is a mock implementation of the SigningProxy interface.
type mockSigningProxy struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockSigningProxy implements the
// SigningProxy interface.
var _ SigningProxy = (*mockSigningProxy)(nil)

// SignHash implements the SigningProxy interface.
func (m *mockSigningProxy) SignHash(pubKey, digest []byte) ([]byte, error) {
	args := m.Called(pubKey, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}
