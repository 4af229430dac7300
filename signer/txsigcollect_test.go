// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcsigner/sigerr"
	"github.com/stretchr/testify/require"
)

// coSigners returns an unsigned signer over a 2-of-3 nested multisig input,
// along with two copies of it signed by the first and second key.
func coSigners(t *testing.T, tag byte) (*Signer, *Signer, *Signer) {
	t.Helper()

	witnessScript, redeem, pkScript := nestedMultiSig(t)
	feed := scriptFeed(witnessScript, redeem)

	funding := fundingTx(tag, 100_000, pkScript)
	base := newTestSigner(t, funding, WithFeed(feed))
	base.ResolvePublicData()

	alice := base.Clone()
	require.NoError(t, alice.Sign(NewFeedSigner(newTestFeed(1))))
	bob := base.Clone()
	require.NoError(t, bob.Sign(NewFeedSigner(newTestFeed(2))))

	return base, alice, bob
}

// TestTxSigCollectRoundTrip checks that both versions carry a partially
// signed signer across, and that the parsed signers merge into a valid
// transaction.
func TestTxSigCollectRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		// name is the name of the test case.
		name string

		// serialize encodes a signer.
		serialize func(s *Signer) (string, error)
	}{
		{
			name:      "version 2",
			serialize: (*Signer).SerializeTxSigCollect,
		},
		{
			name:      "version 1",
			serialize: (*Signer).SerializeTxSigCollectLegacy,
		},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Two partially signed co-signers, encoded.
			_, alice, bob := coSigners(t, byte(30+i))

			aliceText, err := tc.serialize(alice)
			require.NoError(t, err)
			bobText, err := tc.serialize(bob)
			require.NoError(t, err)

			// Act: Parse both without a feed.
			gotAlice, err := ParseTxSigCollect(aliceText)
			require.NoError(t, err)
			gotBob, err := ParseTxSigCollect(bobText)
			require.NoError(t, err)

			// Assert: The partial state is intact.
			wantSp, err := alice.Spender(0)
			require.NoError(t, err)
			gotSp, err := gotAlice.Spender(0)
			require.NoError(t, err)

			require.Equal(t, StatusPartiallySigned, gotSp.SegWitStatus())
			require.Equal(t, wantSp.Signatures(), gotSp.Signatures())
			require.True(t, alice.CompareEvalState(gotAlice))
			require.Equal(
				t, alice.TxSigCollectID(), gotAlice.TxSigCollectID(),
			)

			require.NoError(t, gotAlice.Merge(gotBob))
			require.True(t, gotAlice.IsSigned())
			requireValidTx(t, gotAlice)

			// The signed result round trips as well.
			signedText, err := tc.serialize(gotAlice)
			require.NoError(t, err)
			gotSigned, err := ParseTxSigCollect(signedText)
			require.NoError(t, err)
			require.True(t, gotSigned.IsSigned())

			wantTx, err := gotAlice.SerializeSignedTx()
			require.NoError(t, err)
			gotTx, err := gotSigned.SerializeSignedTx()
			require.NoError(t, err)
			require.Equal(t, wantTx.WitnessHash(), gotTx.WitnessHash())
		})
	}
}

// TestTxSigCollectState checks that version 2 carries the annotations
// version 1 has no room for.
func TestTxSigCollectState(t *testing.T) {
	t.Parallel()

	// Arrange: A signer with proprietary records and recipient scripts.
	_, alice, _ := coSigners(t, 32)

	global := KeyValue{Key: []byte{0xfc, 0x01}, Value: []byte("global")}
	input := KeyValue{Key: []byte{0xfc, 0x02}, Value: []byte("input")}
	alice.AddProprietary(global)
	sp, err := alice.Spender(0)
	require.NoError(t, err)
	sp.AddProprietary(input)

	r := alice.Recipients().All()[0].Clone()
	r.WitnessScript = []byte{0x51}
	require.NoError(t, alice.AnnotateRecipient(r))

	text, err := alice.SerializeTxSigCollect()
	require.NoError(t, err)

	// Act: Parse it.
	got, err := ParseTxSigCollect(text)

	// Assert: Every annotation is back.
	require.NoError(t, err)
	require.Equal(t, []KeyValue{global}, got.Proprietary())

	gotSp, err := got.Spender(0)
	require.NoError(t, err)
	require.Equal(t, []KeyValue{input}, gotSp.Proprietary())
	require.True(t, gotSp.IsP2SH())
	require.Equal(t, sp.LegacyItems(), gotSp.LegacyItems())
	require.Equal(t, sp.WitnessItems(), gotSp.WitnessItems())
	require.Equal(t, []byte{0x51}, got.Recipients().All()[0].WitnessScript)
}

// TestTxSigCollectEnvelope checks the layout of the text envelope.
func TestTxSigCollectEnvelope(t *testing.T) {
	t.Parallel()

	_, alice, _ := coSigners(t, 33)

	text, err := alice.SerializeTxSigCollect()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3)

	header := lines[0]
	require.Len(t, header, txSigCollectWidth)
	require.True(t, strings.HasPrefix(
		header, txSigCollectPrefix+alice.TxSigCollectID(),
	))
	require.Equal(t, strings.Repeat("=", txSigCollectWidth),
		lines[len(lines)-1])

	for _, line := range lines[1 : len(lines)-1] {
		require.LessOrEqual(t, len(line), txSigCollectWidth)
	}

	// Blank lines and carriage returns around the envelope are ignored.
	padded := "\n\n" + strings.ReplaceAll(text, "\n", "\r\n") + "\n"
	got, err := ParseTxSigCollect(padded)
	require.NoError(t, err)
	require.True(t, alice.CompareEvalState(got))
}

// TestTxSigCollectID checks that the id doesn't depend on the signing
// progress or the lock time, but does on the outputs.
func TestTxSigCollectID(t *testing.T) {
	t.Parallel()

	base, alice, bob := coSigners(t, 34)
	id := base.TxSigCollectID()

	require.Len(t, id, TxSigCollectIDLen)
	require.Equal(t, id, alice.TxSigCollectID())
	require.Equal(t, id, bob.TxSigCollectID())

	locked := base.Clone()
	locked.lockTime = 500_000
	require.Equal(t, id, locked.TxSigCollectID())

	changed := base.Clone()
	require.NoError(t, changed.AddRecipient(
		NewRecipient(1, p2pkhScript(t, testPubKey(0x77))),
	))
	require.NotEqual(t, id, changed.TxSigCollectID())
}

// TestTxSigCollectRejects checks the envelopes and payloads that are
// refused.
func TestTxSigCollectRejects(t *testing.T) {
	t.Parallel()

	_, alice, _ := coSigners(t, 35)

	v2, err := alice.SerializeTxSigCollect()
	require.NoError(t, err)
	v1, err := alice.SerializeTxSigCollectLegacy()
	require.NoError(t, err)

	id := alice.TxSigCollectID()
	otherID := strings.Repeat("1", TxSigCollectIDLen)
	require.NotEqual(t, id, otherID)

	testCases := []struct {
		// name is the name of the test case.
		name string

		// text is the text to parse.
		text string

		// opts are the options of the parse.
		opts []Option

		// err is the expected error.
		err error
	}{
		{
			name: "short footer",
			text: strings.Replace(
				v2, strings.Repeat("=", txSigCollectWidth),
				strings.Repeat("=", txSigCollectWidth-1), 1,
			),
			err: ErrTxSigCollectFormat,
		},
		{
			name: "missing footer",
			text: v2[:strings.LastIndex(
				strings.TrimSuffix(v2, "\n"), "\n",
			)],
			err: ErrTxSigCollectFormat,
		},
		{
			name: "bad header",
			text: strings.Replace(v2, "TXSIGCOLLECT", "TXSIGCOLLECX", 1),
			err:  ErrTxSigCollectFormat,
		},
		{
			name: "bad base64",
			text: encodeEnvelope(id, nil)[:txSigCollectWidth+1] +
				"!!!!\n" + strings.Repeat("=", txSigCollectWidth),
			err: ErrTxSigCollectFormat,
		},
		{
			name: "id mismatch",
			text: strings.Replace(v2, id, otherID, 1),
			err:  ErrTxSigCollectID,
		},
		{
			name: "unknown version",
			text: encodeEnvelope(id, []byte{3, 0, 0, 0}),
			err:  ErrTxSigCollectVersion,
		},
		{
			name: "truncated payload",
			text: encodeEnvelope(id, []byte{2, 0}),
			err:  ErrTxSigCollectFormat,
		},
		{
			name: "other network",
			text: v1,
			opts: []Option{WithChainParams(&chaincfg.TestNet3Params)},
			err:  ErrNetworkMismatch,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseTxSigCollect(tc.text, tc.opts...)
			require.ErrorIs(t, err, tc.err)
			require.True(t, sigerr.IsKind(
				err, sigerr.KindDeserialization,
			))
		})
	}
}

// TestTxSigCollectLegacyMultiSig checks a 2-of-3 P2SH multisig spent without
// witness data collected through the text format.
func TestTxSigCollectLegacyMultiSig(t *testing.T) {
	t.Parallel()

	// Arrange: Two co-signers of a legacy P2SH multisig, each holding a
	// single key.
	redeem := multiSigScript(
		t, 2, testPubKey(1), testPubKey(2), testPubKey(3),
	)
	funding := fundingTx(34, 60_000, p2shScript(t, redeem))
	base := newTestSigner(t, funding, WithFeed(scriptFeed(redeem)))
	base.ResolvePublicData()
	require.True(t, base.IsResolved())

	alice := base.Clone()
	require.NoError(t, alice.Sign(NewFeedSigner(newTestFeed(1))))
	bob := base.Clone()
	require.NoError(t, bob.Sign(NewFeedSigner(newTestFeed(3))))

	aliceText, err := alice.SerializeTxSigCollect()
	require.NoError(t, err)
	bobText, err := bob.SerializeTxSigCollect()
	require.NoError(t, err)

	// Act: Parse both and merge them.
	gotAlice, err := ParseTxSigCollect(aliceText)
	require.NoError(t, err)
	gotBob, err := ParseTxSigCollect(bobText)
	require.NoError(t, err)

	sp, err := gotAlice.Spender(0)
	require.NoError(t, err)
	require.True(t, sp.IsP2SH())
	require.False(t, sp.IsSegWit())
	require.Equal(t, StatusPartiallySigned, sp.LegacyStatus())
	require.Equal(t, StatusEmpty, sp.SegWitStatus())

	require.NoError(t, gotAlice.Merge(gotBob))

	// Assert: The legacy leg is signed and the transaction verifies.
	sp, err = gotAlice.Spender(0)
	require.NoError(t, err)
	require.Equal(t, StatusSigned, sp.LegacyStatus())
	require.True(t, gotAlice.IsSigned())
	require.True(t, gotAlice.Verify())
	requireValidTx(t, gotAlice)

	tx, err := gotAlice.SerializeSignedTx()
	require.NoError(t, err)
	require.Empty(t, tx.TxIn[0].Witness)
}
