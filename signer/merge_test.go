// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"testing"

	"github.com/btcsuite/btcsigner/resolver"
	"github.com/stretchr/testify/require"
)

// corruptSig returns a copy of sig with a bit of its S value flipped, which
// keeps it parseable but invalid.
func corruptSig(sig []byte) []byte {
	bad := append([]byte(nil), sig...)
	bad[len(bad)-2] ^= 0x01

	return bad
}

// TestMergeFinalizedInput checks that a finalized input read from a
// transaction is adopted by a merge only when it verifies.
func TestMergeFinalizedInput(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		// name is the name of the test case.
		name string

		// corrupt tampers with the signature of the witness.
		corrupt bool

		// status is the expected witness status after the merge.
		status SpenderStatus
	}{
		{
			name:   "valid witness",
			status: StatusSigned,
		},
		{
			name:    "corrupted witness",
			corrupt: true,
			status:  StatusResolved,
		},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: A resolved P2WPKH spend, and the same spend
			// read back from its signed transaction.
			funding := fundingTx(
				byte(40+i), 20_000, p2wpkhScript(t, testPubKey(1)),
			)
			local := newTestSigner(t, funding, WithFeed(newTestFeed(1)))
			local.ResolvePublicData()
			require.True(t, local.IsResolved())

			signed := local.Clone()
			require.NoError(t, signed.Sign(NewFeedSigner(newTestFeed(1))))
			tx, err := signed.SerializeSignedTx()
			require.NoError(t, err)
			if tc.corrupt {
				tx.TxIn[0].Witness[0] = corruptSig(
					tx.TxIn[0].Witness[0],
				)
			}

			remote, err := FromTx(tx, testUTXOs(t, funding))
			require.NoError(t, err)
			require.True(t, remote.IsSigned())

			// Act: Merge the transaction into the local signer.
			err = local.Merge(remote)

			// Assert: The witness is only taken when it verifies.
			require.NoError(t, err)

			sp, err := local.Spender(0)
			require.NoError(t, err)
			require.Equal(t, tc.status, sp.SegWitStatus())
			require.Equal(t, !tc.corrupt, local.IsSigned())
			require.Equal(t, !tc.corrupt, local.Verify())
			if !tc.corrupt {
				requireValidTx(t, local)
			}
		})
	}
}

// TestMergeIntoUnresolvedInput checks that the placeholders of a co-signer
// are adopted by a signer that could not resolve the input itself, keeping
// only the signatures that verify.
func TestMergeIntoUnresolvedInput(t *testing.T) {
	t.Parallel()

	// Arrange: A 2-of-3 P2WSH input whose witness script only the
	// co-signers know.
	witnessScript := multiSigScript(
		t, 2, testPubKey(1), testPubKey(2), testPubKey(3),
	)
	funding := fundingTx(43, 50_000, p2wshScript(t, witnessScript))

	local := newTestSigner(t, funding)
	local.ResolvePublicData()
	sp, err := local.Spender(0)
	require.NoError(t, err)
	require.False(t, sp.IsResolved())

	base := newTestSigner(t, funding, WithFeed(scriptFeed(witnessScript)))
	alice := base.Clone()
	require.NoError(t, alice.Sign(NewFeedSigner(newTestFeed(1))))
	bob := base.Clone()
	require.NoError(t, bob.Sign(NewFeedSigner(newTestFeed(2))))

	// A forger fills both slots of the threshold with signatures that
	// don't verify.
	forged := alice.Clone()
	forgedSp, err := forged.Spender(0)
	require.NoError(t, err)
	for _, item := range forgedSp.witness.items {
		ms, ok := item.(*resolver.MultiSig)
		if !ok {
			continue
		}
		bad := corruptSig(ms.Sigs[0])
		ms.Sigs[0] = bad
		ms.Sigs[1] = bad
	}

	// Act: Merge the forged state into the unresolved signer.
	victim := local.Clone()
	err = victim.Merge(forged)

	// Assert: The input is resolved but carries no signature.
	require.NoError(t, err)
	sp, err = victim.Spender(0)
	require.NoError(t, err)
	require.Equal(t, StatusResolved, sp.SegWitStatus())
	require.Empty(t, sp.Signatures())
	require.False(t, victim.IsSigned())
	require.False(t, victim.Verify())

	// Genuine partial states merged one after the other complete the
	// input.
	require.NoError(t, local.Merge(alice))
	sp, err = local.Spender(0)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallySigned, sp.SegWitStatus())
	require.Contains(t, sp.Signatures(), testPubKeyHex(1))

	require.NoError(t, local.Merge(bob))
	require.True(t, local.IsSigned())
	requireValidTx(t, local)

	// The forged state merged afterwards changes nothing.
	require.NoError(t, local.Merge(forged))
	require.True(t, local.IsSigned())
	requireValidTx(t, local)
}
