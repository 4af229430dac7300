// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sighash computes the byte sequences that are hashed and signed to
// authorize spending a transaction input, for both legacy and BIP143 inputs.
package sighash

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// TxView is a read-only view of the transaction being signed. Scripts of the
// inputs are never consulted: every sighash variant substitutes its own.
type TxView interface {
	// Version returns the transaction version.
	Version() int32

	// LockTime returns the transaction lock time.
	LockTime() uint32

	// NumInputs returns the number of inputs.
	NumInputs() int

	// OutPoint returns the previous outpoint spent by input i.
	OutPoint(i int) wire.OutPoint

	// Sequence returns the sequence number of input i.
	Sequence(i int) uint32

	// InputValue returns the value of the output spent by input i, or
	// false when it is unknown.
	InputValue(i int) (int64, bool)

	// NumOutputs returns the number of outputs.
	NumOutputs() int

	// Output returns output i.
	Output(i int) *wire.TxOut
}

// MsgTxView adapts a wire.MsgTx, and optionally a fetcher for the outputs it
// spends, to a TxView.
type MsgTxView struct {
	tx       *wire.MsgTx
	prevOuts txscript.PrevOutputFetcher
}

// A compile-time assertion to ensure that MsgTxView implements the TxView
// interface.
var _ TxView = (*MsgTxView)(nil)

// NewMsgTxView returns a view of tx. prevOuts may be nil, in which case input
// values are reported unknown.
func NewMsgTxView(tx *wire.MsgTx,
	prevOuts txscript.PrevOutputFetcher) *MsgTxView {

	return &MsgTxView{tx: tx, prevOuts: prevOuts}
}

// Version returns the transaction version.
func (v *MsgTxView) Version() int32 { return v.tx.Version }

// LockTime returns the transaction lock time.
func (v *MsgTxView) LockTime() uint32 { return v.tx.LockTime }

// NumInputs returns the number of inputs.
func (v *MsgTxView) NumInputs() int { return len(v.tx.TxIn) }

// OutPoint returns the previous outpoint spent by input i.
func (v *MsgTxView) OutPoint(i int) wire.OutPoint {
	return v.tx.TxIn[i].PreviousOutPoint
}

// Sequence returns the sequence number of input i.
func (v *MsgTxView) Sequence(i int) uint32 { return v.tx.TxIn[i].Sequence }

// InputValue returns the value of the output spent by input i.
func (v *MsgTxView) InputValue(i int) (int64, bool) {
	if v.prevOuts == nil {
		return 0, false
	}

	prevOut := v.prevOuts.FetchPrevOutput(v.tx.TxIn[i].PreviousOutPoint)
	if prevOut == nil {
		return 0, false
	}

	return prevOut.Value, true
}

// NumOutputs returns the number of outputs.
func (v *MsgTxView) NumOutputs() int { return len(v.tx.TxOut) }

// Output returns output i.
func (v *MsgTxView) Output(i int) *wire.TxOut { return v.tx.TxOut[i] }
