// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"context"
	"testing"

	"github.com/btcsuite/btcsigner/sigerr"
	"github.com/stretchr/testify/require"
)

// signedSigner returns a fully signed single input signer.
func signedSigner(t *testing.T, tag byte) *Signer {
	t.Helper()

	feed := newTestFeed(1)
	funding := fundingTx(tag, 10_000, p2wpkhScript(t, testPubKey(1)))
	s := newTestSigner(t, funding, WithFeed(feed))
	require.NoError(t, s.Sign(NewFeedSigner(feed)))

	return s
}

// TestVerifyBatch checks that a batch of signed transactions verifies and
// that states come back in order.
func TestVerifyBatch(t *testing.T) {
	t.Parallel()

	// Arrange: A handful of independent signed transactions.
	signers := make([]*Signer, 8)
	for i := range signers {
		signers[i] = signedSigner(t, byte(40+i))
	}
	v := NewTransactionVerifier(WithConcurrency(3))

	// Act: Verify them as a batch.
	states, err := v.VerifyBatch(context.Background(), signers...)

	// Assert: Every state is valid.
	require.NoError(t, err)
	require.Len(t, states, len(signers))
	for _, state := range states {
		require.True(t, state.IsValid())
		require.Equal(t, 1, state.Len())
	}
}

// TestVerifyBatchFailure checks that an unsigned transaction fails the
// batch.
func TestVerifyBatchFailure(t *testing.T) {
	t.Parallel()

	// Arrange: One signed and one unsigned transaction.
	unsigned := newTestSigner(
		t, fundingTx(50, 10_000, p2wpkhScript(t, testPubKey(2))),
		WithFeed(newTestFeed(2)),
	)
	signers := []*Signer{signedSigner(t, 51), unsigned}

	// Act: Verify the batch.
	_, err := NewTransactionVerifier().VerifyBatch(
		context.Background(), signers...,
	)

	// Assert: The unsigned transaction can't be serialized for
	// verification.
	require.ErrorIs(t, err, ErrNotSigned)
}

// TestVerifyTxInvalid checks that a signature over another transaction is
// reported per input.
func TestVerifyTxInvalid(t *testing.T) {
	t.Parallel()

	// Arrange: A signed transaction whose output is changed afterwards.
	s := signedSigner(t, 52)
	tx, err := s.SerializeSignedTx()
	require.NoError(t, err)
	tx.TxOut[0].Value--

	// Act: Verify it.
	v := NewTransactionVerifier()
	state, err := v.VerifyTx(tx, s.prevOutFetcher())

	// Assert: The input is invalid.
	require.ErrorIs(t, err, ErrInvalidTx)
	require.True(t, sigerr.IsKind(err, sigerr.KindVerification))
	require.Equal(t, []int{0}, state.Invalid())
}

// TestVerifyBatchCanceled checks that a canceled context stops the batch.
func TestVerifyBatchCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTransactionVerifier(WithConcurrency(1)).VerifyBatch(
		ctx, signedSigner(t, 53),
	)
	require.ErrorIs(t, err, context.Canceled)
}
