// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/interpreter"
	"github.com/btcsuite/btcsigner/sigerr"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidTx is returned by a TransactionVerifier for a transaction with at
// least one input that does not verify.
var ErrInvalidTx = errors.New("transaction does not verify")

// TransactionVerifier checks fully signed transactions. Verifying one
// transaction is independent of every other, so batches fan out across
// goroutines.
type TransactionVerifier struct {
	flags interpreter.Flags
	limit int
}

// VerifierOption configures a TransactionVerifier.
type VerifierOption func(*TransactionVerifier)

// WithVerifierFlags sets the interpreter flags. Witness verification is
// always enabled.
func WithVerifierFlags(flags interpreter.Flags) VerifierOption {
	return func(v *TransactionVerifier) {
		v.flags = flags
	}
}

// WithConcurrency bounds the number of transactions verified at once. A
// value of zero or less removes the bound.
func WithConcurrency(limit int) VerifierOption {
	return func(v *TransactionVerifier) {
		v.limit = limit
	}
}

// NewTransactionVerifier returns a verifier using interpreter.StandardFlags.
func NewTransactionVerifier(opts ...VerifierOption) *TransactionVerifier {
	v := &TransactionVerifier{flags: interpreter.StandardFlags}
	for _, opt := range opts {
		opt(v)
	}
	v.flags |= interpreter.ScriptVerifySegWit

	return v
}

// VerifyTx evaluates tx against the outputs it spends and returns the
// per-input outcome. ErrInvalidTx is returned, along with the state, when an
// input fails.
func (v *TransactionVerifier) VerifyTx(tx *wire.MsgTx,
	prevOuts txscript.PrevOutputFetcher) (*interpreter.TxEvalState, error) {

	state := interpreter.VerifyTx(tx, prevOuts, v.flags)
	if !state.IsValid() {
		return state, sigerr.Newf(sigerr.KindVerification, ErrInvalidTx,
			"%v: inputs %v", tx.TxHash(), state.Invalid())
	}

	return state, nil
}

// Verify checks the signed transaction of s.
func (v *TransactionVerifier) Verify(s *Signer) (*interpreter.TxEvalState,
	error) {

	tx, err := s.SerializeSignedTx()
	if err != nil {
		return nil, err
	}

	return v.VerifyTx(tx, s.prevOutFetcher())
}

// VerifyBatch checks the signed transactions of independent signers
// concurrently and returns their states in order. It stops at the first
// transaction that fails to verify or when ctx is done.
//
// NOTE: A Signer is not safe for concurrent use, so every signer must appear
// once in the batch and must not be used elsewhere until the call returns.
func (v *TransactionVerifier) VerifyBatch(ctx context.Context,
	signers ...*Signer) ([]*interpreter.TxEvalState, error) {

	states := make([]*interpreter.TxEvalState, len(signers))

	g, gctx := errgroup.WithContext(ctx)
	if v.limit > 0 {
		g.SetLimit(v.limit)
	}

	for i, s := range signers {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			state, err := v.Verify(s)
			states[i] = state
			if err != nil {
				return fmt.Errorf("signer %d: %w", i, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return states, err
	}

	log.Debugf("Verified batch of %d transactions", len(signers))

	return states, nil
}
