// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcsigner/resolver"
)

// feedChain answers every lookup from the first feed that knows the answer.
// It lets the data carried by an imported PSBT take part in resolution
// alongside the caller's feed.
type feedChain []resolver.Feed

// A compile-time assertion to ensure that feedChain implements the PathFeed
// and Seeder interfaces.
var (
	_ resolver.PathFeed = (feedChain)(nil)
	_ resolver.Seeder   = (feedChain)(nil)
)

// newFeedChain returns a chain over the non-nil feeds.
func newFeedChain(feeds ...resolver.Feed) feedChain {
	chain := make(feedChain, 0, len(feeds))
	for _, f := range feeds {
		if f != nil {
			chain = append(chain, f)
		}
	}

	return chain
}

// ResolveByHash returns the first preimage found for hash.
func (c feedChain) ResolveByHash(hash []byte) ([]byte, error) {
	for _, f := range c {
		preimage, err := f.ResolveByHash(hash)
		if err == nil {
			return preimage, nil
		}
	}

	return nil, fmt.Errorf("%w: %x", resolver.ErrNotFound, hash)
}

// PrivKeyForPubKey returns the first private key found for pubKey.
func (c feedChain) PrivKeyForPubKey(pubKey []byte) (*btcec.PrivateKey,
	error) {

	for _, f := range c {
		privKey, err := f.PrivKeyForPubKey(pubKey)
		if err == nil {
			return privKey, nil
		}
	}

	return nil, fmt.Errorf("%w: %x", resolver.ErrNoPrivKey, pubKey)
}

// Bip32PathForPubKey returns the first path found for pubKey among the feeds
// that know paths.
func (c feedChain) Bip32PathForPubKey(pubKey []byte) (resolver.BIP32Path,
	error) {

	for _, f := range c {
		pathFeed, ok := f.(resolver.PathFeed)
		if !ok {
			continue
		}

		path, err := pathFeed.Bip32PathForPubKey(pubKey)
		if err == nil {
			return path, nil
		}
	}

	return resolver.BIP32Path{}, fmt.Errorf("%w: %x", resolver.ErrNoPath,
		pubKey)
}

// Seed hands the preimage to the first feed accepting seeds.
func (c feedChain) Seed(hash, preimage []byte) {
	for _, f := range c {
		if seeder, ok := f.(resolver.Seeder); ok {
			seeder.Seed(hash, preimage)
			return
		}
	}
}
