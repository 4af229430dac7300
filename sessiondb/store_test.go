// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sessiondb

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/resolver"
	"github.com/btcsuite/btcsigner/signer"
	"github.com/stretchr/testify/require"
)

// testKey returns a deterministic private key derived from seed.
func testKey(seed byte) *btcec.PrivateKey {
	privKey, _ := btcec.PrivKeyFromBytes(chainhash.HashB([]byte{seed}))
	return privKey
}

// p2wpkhScript returns the version 0 witness program paying to the key of
// seed.
func p2wpkhScript(t *testing.T, seed byte) []byte {
	t.Helper()

	pubKey := testKey(seed).PubKey().SerializeCompressed()
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pubKey)).
		Script()
	require.NoError(t, err)

	return script
}

// fundingTx returns a transaction paying 10000 satoshis to the key of every
// seed, spending a made up outpoint derived from tag.
func fundingTx(t *testing.T, tag byte, seeds ...byte) *wire.MsgTx {
	t.Helper()

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{tag}, 0), []byte{txscript.OP_TRUE},
		nil,
	))
	for _, seed := range seeds {
		tx.AddTxOut(wire.NewTxOut(10_000, p2wpkhScript(t, seed)))
	}

	return tx
}

// publicFeed returns a feed holding only the public keys of seeds.
func publicFeed(seeds ...byte) *resolver.MemFeed {
	feed := resolver.NewMemFeed()
	for _, seed := range seeds {
		feed.AddPubKey(testKey(seed).PubKey().SerializeCompressed())
	}

	return feed
}

// keyFeed returns a feed holding the private keys of seeds.
func keyFeed(seeds ...byte) *resolver.MemFeed {
	feed := resolver.NewMemFeed()
	for _, seed := range seeds {
		feed.AddPrivKey(testKey(seed))
	}

	return feed
}

// spendAll returns a signer spending every output of funding to a single
// recipient. funding is only attached when attach is set.
func spendAll(t *testing.T, funding *wire.MsgTx, attach bool,
	opts ...signer.Option) *signer.Signer {

	t.Helper()

	s := signer.New(opts...)
	if attach {
		s.AddSupportingTx(funding)
	}

	var total btcutil.Amount
	for i, txOut := range funding.TxOut {
		op := wire.OutPoint{Hash: funding.TxHash(), Index: uint32(i)}
		require.NoError(t, s.AddSpender(signer.NewOutPointSpender(op)))
		total += btcutil.Amount(txOut.Value)
	}

	require.NoError(t, s.AddRecipient(
		signer.NewRecipient(total-1000, p2wpkhScript(t, 0xee)),
	))

	return s
}

// newTestStore returns a store on a fresh database in a temporary directory,
// along with the database path.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "sessions", "sessions.db")
	db, err := OpenDB(dbPath, DefaultTimeout)
	require.NoError(t, err)

	store, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store, dbPath
}

// TestPutSessionMerges checks that co-signers depositing the same
// transaction accumulate their signatures in the store.
func TestPutSessionMerges(t *testing.T) {
	t.Parallel()

	// Arrange: Two inputs owned by different parties, each party signing
	// its own.
	store, _ := newTestStore(t)

	funding := fundingTx(t, 1, 1, 2)
	base := spendAll(t, funding, true, signer.WithFeed(publicFeed(1, 2)))
	base.ResolvePublicData()
	require.True(t, base.IsResolved())

	alice := base.Clone()
	require.NoError(t, alice.Sign(signer.NewFeedSigner(keyFeed(1))))
	bob := base.Clone()
	require.NoError(t, bob.Sign(signer.NewFeedSigner(keyFeed(2))))
	require.False(t, alice.IsSigned())
	require.False(t, bob.IsSigned())

	// Act: Both deposit their partial state.
	aliceID, err := store.PutSession(alice)
	require.NoError(t, err)
	bobID, err := store.PutSession(bob)
	require.NoError(t, err)

	// Assert: The stored session is fully signed and verifies.
	require.Equal(t, aliceID, bobID)
	require.Equal(t, base.TxSigCollectID(), aliceID)

	got, err := store.Session(aliceID)
	require.NoError(t, err)
	require.True(t, got.IsSigned())

	state, err := signer.NewTransactionVerifier().Verify(got)
	require.NoError(t, err)
	require.True(t, state.IsValid())

	// The supporting transaction was cached along the way.
	cached, err := store.SupportingTx(funding.TxHash())
	require.NoError(t, err)
	require.Equal(t, funding.TxHash(), cached.TxHash())
}

// TestSupportingTxProvider checks that the store resolves outpoint spenders
// of signers that carry no supporting transaction of their own.
func TestSupportingTxProvider(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	funding := fundingTx(t, 2, 3)

	// Unknown transactions are reported with the provider error.
	_, err := store.SupportingTx(funding.TxHash())
	require.ErrorIs(t, err, signer.ErrSupportingTxNotFound)

	require.NoError(t, store.PutSupportingTx(funding))

	s := spendAll(
		t, funding, false, signer.WithFeed(keyFeed(3)),
		signer.WithSupportingTxProvider(store),
	)
	require.NoError(t, s.Sign(signer.NewFeedSigner(keyFeed(3))))
	require.True(t, s.IsSigned())

	fee, err := s.Fee()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(1000), fee)
}

// TestDeleteSession checks session removal and the ids that are refused.
func TestDeleteSession(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	funding := fundingTx(t, 3, 4)
	id, err := store.PutSession(spendAll(t, funding, true))
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(id))

	_, err = store.Session(id)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, store.DeleteSession(id), ErrSessionNotFound)

	_, err = store.Session("short")
	require.ErrorIs(t, err, ErrBadSessionID)
	require.ErrorIs(t, store.DeleteSession("short"), ErrBadSessionID)

	// The supporting transaction outlives the session.
	_, err = store.SupportingTx(funding.TxHash())
	require.NoError(t, err)
}

// TestForEachSession checks iteration order and early exit.
func TestForEachSession(t *testing.T) {
	t.Parallel()

	// Arrange: Three unrelated sessions.
	store, _ := newTestStore(t)

	var want []string
	for tag := byte(10); tag < 13; tag++ {
		id, err := store.PutSession(
			spendAll(t, fundingTx(t, tag, tag), true),
		)
		require.NoError(t, err)
		want = append(want, id)
	}
	sort.Strings(want)

	// Act: Walk them.
	var got []string
	err := store.ForEachSession(func(id string, sgn *signer.Signer) error {
		require.Equal(t, id, sgn.TxSigCollectID())
		got = append(got, id)

		return nil
	})

	// Assert: Every session is visited in id order.
	require.NoError(t, err)
	require.Equal(t, want, got)

	// An error from the callback stops the walk.
	errStop := errors.New("stop")
	visited := 0
	err = store.ForEachSession(func(string, *signer.Signer) error {
		visited++
		return errStop
	})
	require.ErrorIs(t, err, errStop)
	require.Equal(t, 1, visited)
}

// TestStoreReopen checks that sessions survive closing the database.
func TestStoreReopen(t *testing.T) {
	t.Parallel()

	// Arrange: A session written to a database that is then closed.
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "sessions.db")
	db, err := OpenDB(dbPath, DefaultTimeout)
	require.NoError(t, err)
	store, err := New(db)
	require.NoError(t, err)

	sgn := spendAll(t, fundingTx(t, 4, 5), true)
	id, err := store.PutSession(sgn)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Act: Open it again.
	db, err = OpenDB(dbPath, DefaultTimeout)
	require.NoError(t, err)
	store, err = New(db)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	got, err := store.Session(id)

	// Assert: The session is intact.
	require.NoError(t, err)
	require.True(t, sgn.CompareEvalState(got))

	wantTx, err := sgn.SerializeUnsignedTx(true)
	require.NoError(t, err)
	gotTx, err := got.SerializeUnsignedTx(true)
	require.NoError(t, err)
	require.Equal(t, wantTx.TxHash(), gotTx.TxHash())
}
