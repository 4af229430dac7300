// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

var (
	// ErrNotFound is returned by a Feed when it has no preimage for a
	// hash.
	ErrNotFound = errors.New("preimage not found")

	// ErrNoPrivKey is returned by a Feed when it does not hold the private
	// key for a public key.
	ErrNoPrivKey = errors.New("private key not found")

	// ErrNoPath is returned by a PathFeed when it has no derivation path
	// for a public key.
	ErrNoPath = errors.New("bip32 path not found")
)

// Feed is the key-resolution source consumed by the resolver and signer. It
// is only ever queried, never mutated, by this module.
type Feed interface {
	// ResolveByHash returns the preimage of a HASH160 or SHA256 digest
	// found in a script: a public key, a redeem script or a witness
	// script. ErrNotFound is returned if the hash is unknown.
	ResolveByHash(hash []byte) ([]byte, error)

	// PrivKeyForPubKey returns the private key for a serialized public
	// key. ErrNoPrivKey is returned if the key is not held.
	PrivKeyForPubKey(pubKey []byte) (*btcec.PrivateKey, error)
}

// PathFeed is an optional extension of Feed that can annotate public keys
// with their BIP32 derivation path.
type PathFeed interface {
	Feed

	// Bip32PathForPubKey returns the derivation path of a public key.
	// ErrNoPath is returned if no path is known.
	Bip32PathForPubKey(pubKey []byte) (BIP32Path, error)
}

// Seeder is an optional extension of Feed that accepts preimages learned
// while resolving, so that later lookups for scripts which are not
// derivable from a BIP32 root succeed.
type Seeder interface {
	// Seed records preimage as the answer for hash.
	Seed(hash, preimage []byte)
}

// BIP32Path is a derivation path from a master key identified by its
// fingerprint.
type BIP32Path struct {
	// Fingerprint is the fingerprint of the master public key, read as a
	// little endian uint32 as in BIP174.
	Fingerprint uint32

	// Path is the list of child indexes, hardened indexes carrying the
	// hdkeychain.HardenedKeyStart offset.
	Path []uint32
}

// Clone returns a deep copy of the path.
func (p BIP32Path) Clone() BIP32Path {
	return BIP32Path{
		Fingerprint: p.Fingerprint,
		Path:        append([]uint32(nil), p.Path...),
	}
}

// Equal returns whether both paths are identical.
func (p BIP32Path) Equal(other BIP32Path) bool {
	if p.Fingerprint != other.Fingerprint ||
		len(p.Path) != len(other.Path) {

		return false
	}

	for i := range p.Path {
		if p.Path[i] != other.Path[i] {
			return false
		}
	}

	return true
}

// String returns the path in the usual m/84'/0'/0' notation prefixed with the
// fingerprint.
func (p BIP32Path) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%08x]m", p.Fingerprint)
	for _, idx := range p.Path {
		if idx >= hdkeychain.HardenedKeyStart {
			fmt.Fprintf(&b, "/%d'", idx-hdkeychain.HardenedKeyStart)
			continue
		}
		fmt.Fprintf(&b, "/%d", idx)
	}

	return b.String()
}
