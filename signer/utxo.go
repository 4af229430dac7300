// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrMissingUTXO is returned when the output spent by an input is
	// neither attached to the spender nor available from a supporting
	// transaction.
	ErrMissingUTXO = errors.New("utxo not available")

	// ErrUTXOMismatch is returned when a UTXO is attached to a spender of
	// a different outpoint, or disagrees with a supporting transaction.
	ErrUTXOMismatch = errors.New("utxo does not match outpoint")

	// ErrSupportingTxNotFound is returned by a SupportingTxProvider that
	// does not know the requested transaction.
	ErrSupportingTxNotFound = errors.New("supporting transaction not found")
)

// UTXO is an output being spent, along with the outpoint that identifies it.
type UTXO struct {
	// OutPoint identifies the output.
	OutPoint wire.OutPoint

	// Value is the amount locked in the output.
	Value btcutil.Amount

	// PkScript is the locking script of the output.
	PkScript []byte
}

// NewUTXO returns a UTXO for the given output.
func NewUTXO(op wire.OutPoint, value btcutil.Amount, pkScript []byte) UTXO {
	return UTXO{
		OutPoint: op,
		Value:    value,
		PkScript: append([]byte(nil), pkScript...),
	}
}

// UTXOFromTx returns output idx of tx as a UTXO.
func UTXOFromTx(tx *wire.MsgTx, idx uint32) (UTXO, error) {
	if int(idx) >= len(tx.TxOut) {
		return UTXO{}, fmt.Errorf("%w: output %d of %v", ErrMissingUTXO,
			idx, tx.TxHash())
	}

	txOut := tx.TxOut[idx]
	op := wire.OutPoint{Hash: tx.TxHash(), Index: idx}

	return NewUTXO(op, btcutil.Amount(txOut.Value), txOut.PkScript), nil
}

// TxOut returns the UTXO as a wire output.
func (u UTXO) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(u.Value), u.PkScript)
}

// Equal returns whether both UTXOs describe the same output.
func (u UTXO) Equal(other UTXO) bool {
	return u.OutPoint == other.OutPoint && u.Value == other.Value &&
		string(u.PkScript) == string(other.PkScript)
}

// SupportingTxProvider looks up transactions whose outputs are spent by the
// signer, so that UTXOs do not have to be attached to every spender.
type SupportingTxProvider interface {
	// SupportingTx returns the transaction with the given hash.
	// ErrSupportingTxNotFound is returned if it is unknown.
	SupportingTx(hash chainhash.Hash) (*wire.MsgTx, error)
}

// supportingTxs is the signer's own set of supporting transactions.
type supportingTxs map[chainhash.Hash]*wire.MsgTx

// A compile-time assertion to ensure that supportingTxs implements the
// SupportingTxProvider interface.
var _ SupportingTxProvider = (supportingTxs)(nil)

// SupportingTx returns the transaction with the given hash.
func (s supportingTxs) SupportingTx(hash chainhash.Hash) (*wire.MsgTx,
	error) {

	tx, ok := s[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrSupportingTxNotFound, hash)
	}

	return tx, nil
}

// sortedTxHashes returns the hashes of txs in ascending byte order.
func sortedTxHashes(txs supportingTxs) []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(txs))
	for h := range txs {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})

	return hashes
}
