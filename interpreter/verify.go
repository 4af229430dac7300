// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package interpreter

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/sighash"
)

// VerifyTx evaluates every input of tx against the outputs returned by
// prevOuts. A failing input does not stop the evaluation of the others.
func VerifyTx(tx *wire.MsgTx, prevOuts txscript.PrevOutputFetcher,
	flags Flags) *TxEvalState {

	state := NewTxEvalState(len(tx.TxIn))
	engine := NewEngine(sighash.NewMsgTxView(tx, prevOuts), flags, nil)

	for i, txIn := range tx.TxIn {
		prevOut := prevOuts.FetchPrevOutput(txIn.PreviousOutPoint)
		if prevOut == nil {
			in := NewTxInEvalState()
			in.Err = ErrMissingPrevOut
			state.Update(i, in)

			continue
		}

		state.Update(i, engine.VerifyInput(
			i, prevOut.PkScript, txIn.SignatureScript, txIn.Witness,
		))
	}

	return state
}
