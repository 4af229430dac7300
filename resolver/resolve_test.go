// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcsigner/sigerr"
	"github.com/stretchr/testify/require"
)

// TestResolveTemplates checks the placeholders produced for every standard
// output template.
func TestResolveTemplates(t *testing.T) {
	t.Parallel()

	// We'll use three deterministic keys for all templates, all of them
	// known to the feed.
	feed := NewMemFeed()
	var pubKeys [][]byte
	for i := byte(0); i < 3; i++ {
		privKey := testKey(i)
		feed.AddPrivKey(privKey)
		pubKeys = append(
			pubKeys, privKey.PubKey().SerializeCompressed(),
		)
	}
	pk := pubKeys[0]

	p2pkh := p2pkhScript(t, pk)
	multiSig := multiSigScript(t, 2, pubKeys...)
	feed.AddScript(multiSig)

	p2wpkh := p2wpkhScript(t, pk)
	feed.AddScript(p2wpkh)

	p2pk, err := txscript.NewScriptBuilder().
		AddData(pk).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	testCases := []struct {
		// name is the name of the test case.
		name string

		// pkScript is the locking script to resolve.
		pkScript []byte

		// legacy is the expected scriptSig leg.
		legacy []StackItem

		// witness is the expected witness leg, nil if not segwit.
		witness []StackItem

		// isP2SH is the expected P2SH flag.
		isP2SH bool
	}{
		{
			name:     "p2pkh",
			pkScript: p2pkh,
			legacy: []StackItem{
				NewPushData(0, pk),
				NewSig(1, pk, p2pkh),
			},
		},
		{
			name:     "p2pk",
			pkScript: p2pk,
			legacy: []StackItem{
				NewSig(0, pk, p2pk),
			},
		},
		{
			name:     "bare multisig",
			pkScript: multiSig,
			legacy: []StackItem{
				NewMultiSig(0, 2, pubKeys, multiSig),
				NewOpCode(1, txscript.OP_0),
			},
		},
		{
			name:     "p2sh multisig",
			pkScript: p2shScript(t, multiSig),
			legacy: []StackItem{
				NewSerializedScript(0, multiSig),
				NewMultiSig(1, 2, pubKeys, multiSig),
				NewOpCode(2, txscript.OP_0),
			},
			isP2SH: true,
		},
		{
			name:     "p2wpkh",
			pkScript: p2wpkh,
			legacy:   []StackItem{},
			witness: []StackItem{
				NewPushData(0, pk),
				NewSig(1, pk, p2pkh),
			},
		},
		{
			name:     "p2sh-p2wpkh",
			pkScript: p2shScript(t, p2wpkh),
			legacy: []StackItem{
				NewSerializedScript(0, p2wpkh),
			},
			witness: []StackItem{
				NewPushData(0, pk),
				NewSig(1, pk, p2pkh),
			},
			isP2SH: true,
		},
		{
			name:     "p2wsh multisig",
			pkScript: p2wshScript(t, multiSig),
			legacy:   []StackItem{},
			witness: []StackItem{
				NewSerializedScript(0, multiSig),
				NewMultiSig(1, 2, pubKeys, multiSig),
				NewOpCode(2, txscript.OP_0),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act: Resolve the locking script.
			stack, err := Resolve(tc.pkScript, feed)

			// Assert: The legs match the expected placeholders.
			require.NoError(t, err)
			require.Equal(t, tc.isP2SH, stack.IsP2SH)
			if len(tc.legacy) == 0 {
				require.Empty(t, stack.Items)
			} else {
				require.Equal(t, tc.legacy, stack.Items)
			}

			if tc.witness == nil {
				require.False(t, stack.IsSegWit())
				return
			}
			require.True(t, stack.IsSegWit())
			require.Equal(t, tc.witness, stack.Witness.Items)
		})
	}
}

// TestResolveDeterministic checks that resolving the same script twice
// yields identical placeholder ids and contents.
func TestResolveDeterministic(t *testing.T) {
	t.Parallel()

	// Arrange: A P2WSH 1-of-2 output.
	feed := NewMemFeed()
	k1 := testKey(1).PubKey().SerializeCompressed()
	k2 := testKey(2).PubKey().SerializeCompressed()
	witnessScript := multiSigScript(t, 1, k1, k2)
	feed.AddScript(witnessScript)
	pkScript := p2wshScript(t, witnessScript)

	// Act: Resolve twice.
	first, err := Resolve(pkScript, feed)
	require.NoError(t, err)
	second, err := Resolve(pkScript, feed)
	require.NoError(t, err)

	// Assert: Both results are equal.
	require.Equal(t, first, second)
}

// TestResolveLockTime checks that CLTV and CSV are flagged.
func TestResolveLockTime(t *testing.T) {
	t.Parallel()

	pk := testKey(7).PubKey().SerializeCompressed()

	cltv, err := txscript.NewScriptBuilder().
		AddInt64(500000).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(pk).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	csv, err := txscript.NewScriptBuilder().
		AddInt64(144).
		AddOp(txscript.OP_CHECKSEQUENCEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(pk).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	feed := NewMemFeed()

	stack, err := Resolve(cltv, feed)
	require.NoError(t, err)
	require.True(t, stack.HasCLTV)
	require.False(t, stack.HasCSV)
	require.Equal(t, []StackItem{NewSig(0, pk, cltv)}, stack.Items)

	stack, err = Resolve(csv, feed)
	require.NoError(t, err)
	require.True(t, stack.HasCSV)
	require.False(t, stack.HasCLTV)
}

// TestResolveCodeSeparator checks that the subscript of a signature starts
// after the last OP_CODESEPARATOR.
func TestResolveCodeSeparator(t *testing.T) {
	t.Parallel()

	pk := testKey(3).PubKey().SerializeCompressed()
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_NOP).
		AddOp(txscript.OP_CODESEPARATOR).
		AddData(pk).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	stack, err := Resolve(script, NewMemFeed())
	require.NoError(t, err)
	require.Len(t, stack.Items, 1)

	sig, ok := stack.Items[0].(*Sig)
	require.True(t, ok)
	require.Equal(t, script[2:], sig.SubScript)
}

// TestResolveErrors checks the classification of resolution failures.
func TestResolveErrors(t *testing.T) {
	t.Parallel()

	unknownKey := testKey(9).PubKey().SerializeCompressed()

	ifScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_IF).
		AddOp(txscript.OP_ENDIF).
		Script()
	require.NoError(t, err)

	testCases := []struct {
		name     string
		pkScript []byte
		sentinel error
		outcome  OutcomeKind
	}{
		{
			name:     "unknown pubkey hash",
			pkScript: p2pkhScript(t, unknownKey),
			sentinel: ErrNotFound,
			outcome:  OutcomePending,
		},
		{
			name: "unknown redeem script",
			pkScript: p2shScript(
				t, multiSigScript(t, 1, unknownKey),
			),
			sentinel: ErrNotFound,
			outcome:  OutcomePending,
		},
		{
			name:     "unsupported opcode",
			pkScript: ifScript,
			sentinel: ErrUnsupportedOpcode,
			outcome:  OutcomeFatal,
		},
		{
			name:     "truncated push",
			pkScript: []byte{txscript.OP_DATA_20, 0x01},
			sentinel: ErrMalformedScript,
			outcome:  OutcomeFatal,
		},
		{
			name:     "unbound checksig key",
			pkScript: []byte{txscript.OP_CHECKSIG},
			sentinel: ErrUnresolvedEntry,
			outcome:  OutcomeFatal,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			stack, err := Resolve(tc.pkScript, NewMemFeed())
			require.Nil(t, stack)
			require.ErrorIs(t, err, tc.sentinel)
			require.True(t, sigerr.IsKind(err, sigerr.KindResolution))

			outcome := TryResolve(tc.pkScript, NewMemFeed())
			require.Equal(t, tc.outcome, outcome.Kind)
		})
	}
}

// TestResolveHashMismatch checks that a feed returning a wrong preimage is
// rejected.
func TestResolveHashMismatch(t *testing.T) {
	t.Parallel()

	// Arrange: Seed the hash of one key with another key.
	pk := testKey(1).PubKey().SerializeCompressed()
	other := testKey(2).PubKey().SerializeCompressed()
	pkScript := p2pkhScript(t, pk)

	feed := NewMemFeed()
	feed.Seed(pkScript[3:23], other)

	// Act: Resolve the script.
	_, err := Resolve(pkScript, feed)

	// Assert: The mismatch is detected.
	require.ErrorIs(t, err, ErrHashMismatch)
}

// TestResolvePaths checks that derivation paths known to a PathFeed are
// attached to the resolved stack.
func TestResolvePaths(t *testing.T) {
	t.Parallel()

	privKey := testKey(4)
	pk := privKey.PubKey().SerializeCompressed()
	path := BIP32Path{
		Fingerprint: 0xdeadbeef,
		Path: []uint32{
			hdkeychain.HardenedKeyStart + 84,
			hdkeychain.HardenedKeyStart, hdkeychain.HardenedKeyStart,
			0, 5,
		},
	}

	feed := NewMemFeed()
	feed.AddPrivKey(privKey)
	feed.AddPath(pk, path)

	stack, err := Resolve(p2wpkhScript(t, pk), feed)
	require.NoError(t, err)
	require.Equal(t, path, stack.Paths[hex.EncodeToString(pk)])
	require.Equal(t, "[deadbeef]m/84'/0'/0'/0/5", path.String())
}

// TestResolveUncompressedKey checks that uncompressed public keys pushed by
// the unlocking data are reported along with their derivation path.
func TestResolveUncompressedKey(t *testing.T) {
	t.Parallel()

	// Arrange: A P2PKH output paying to an uncompressed key known to the
	// feed.
	pk := testKey(5).PubKey().SerializeUncompressed()
	require.Len(t, pk, pubKeyBytesLenUncompressed)

	path := BIP32Path{Fingerprint: 0x01020304, Path: []uint32{0, 7}}
	feed := NewMemFeed()
	feed.AddPubKey(pk)
	feed.AddPath(pk, path)
	pkScript := p2pkhScript(t, pk)

	// Act: Resolve the locking script.
	stack, err := Resolve(pkScript, feed)

	// Assert: The key is pushed as data and recognized as a key.
	require.NoError(t, err)
	require.Equal(t, []StackItem{
		NewPushData(0, pk),
		NewSig(1, pk, pkScript),
	}, stack.Items)
	require.Contains(t, stack.PubKeys(), pk)
	require.Equal(t, path, stack.Paths[hex.EncodeToString(pk)])
	require.True(t, isPubKey(pk))
	require.False(t, isPubKey(pk[:pubKeyBytesLenUncompressed-1]))
}
