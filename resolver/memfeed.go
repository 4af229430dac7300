// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

// MemFeed is an in-memory Feed. Every public key and script added to it is
// indexed by both its HASH160 and its SHA256 so it answers P2PKH, P2SH,
// P2WPKH and P2WSH lookups alike.
//
// MemFeed is safe for concurrent use.
type MemFeed struct {
	mtx sync.RWMutex

	preimages map[string][]byte
	privKeys  map[string]*btcec.PrivateKey
	paths     map[string]BIP32Path
}

// A compile-time assertion to ensure that MemFeed implements the PathFeed and
// Seeder interfaces.
var (
	_ PathFeed = (*MemFeed)(nil)
	_ Seeder   = (*MemFeed)(nil)
)

// NewMemFeed returns an empty MemFeed.
func NewMemFeed() *MemFeed {
	return &MemFeed{
		preimages: make(map[string][]byte),
		privKeys:  make(map[string]*btcec.PrivateKey),
		paths:     make(map[string]BIP32Path),
	}
}

// AddPrivKey adds a private key. Its compressed public key is indexed for
// hash lookups.
func (f *MemFeed) AddPrivKey(privKey *btcec.PrivateKey) {
	pubKey := privKey.PubKey().SerializeCompressed()

	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.privKeys[hex.EncodeToString(pubKey)] = privKey
	f.indexLocked(pubKey)
}

// AddPubKey indexes a serialized public key for hash lookups.
func (f *MemFeed) AddPubKey(pubKey []byte) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.indexLocked(pubKey)
}

// AddScript indexes a redeem or witness script for hash lookups.
func (f *MemFeed) AddScript(script []byte) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.indexLocked(script)
}

// AddPath records the derivation path of a public key.
func (f *MemFeed) AddPath(pubKey []byte, path BIP32Path) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.paths[hex.EncodeToString(pubKey)] = path.Clone()
}

// Seed records preimage as the answer for hash.
func (f *MemFeed) Seed(hash, preimage []byte) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.preimages[hex.EncodeToString(hash)] = cloneBytes(preimage)
}

// indexLocked stores data under its HASH160 and SHA256 digests. The caller
// must hold the write lock.
func (f *MemFeed) indexLocked(data []byte) {
	h160 := btcutil.Hash160(data)
	h256 := sha256.Sum256(data)

	f.preimages[hex.EncodeToString(h160)] = cloneBytes(data)
	f.preimages[hex.EncodeToString(h256[:])] = cloneBytes(data)
}

// ResolveByHash returns the preimage of hash.
func (f *MemFeed) ResolveByHash(hash []byte) ([]byte, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()

	preimage, ok := f.preimages[hex.EncodeToString(hash)]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrNotFound, hash)
	}

	return cloneBytes(preimage), nil
}

// PrivKeyForPubKey returns the private key for pubKey.
func (f *MemFeed) PrivKeyForPubKey(pubKey []byte) (*btcec.PrivateKey, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()

	privKey, ok := f.privKeys[hex.EncodeToString(pubKey)]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrNoPrivKey, pubKey)
	}

	return privKey, nil
}

// Bip32PathForPubKey returns the derivation path recorded for pubKey.
func (f *MemFeed) Bip32PathForPubKey(pubKey []byte) (BIP32Path, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()

	path, ok := f.paths[hex.EncodeToString(pubKey)]
	if !ok {
		return BIP32Path{}, fmt.Errorf("%w: %x", ErrNoPath, pubKey)
	}

	return path.Clone(), nil
}
