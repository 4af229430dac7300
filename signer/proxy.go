// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcsigner/resolver"
)

// ErrKeyMismatch is returned when the private key handed out for a public
// key does not correspond to it.
var ErrKeyMismatch = errors.New("private key does not match public key")

// SigningProxy produces raw signatures on behalf of the signer. It is the
// boundary to wherever the private keys live: an in-memory feed, a hardware
// device or a remote co-signer.
type SigningProxy interface {
	// SignHash returns the DER encoded ECDSA signature of digest by the
	// private key of pubKey, without a sighash type byte.
	// resolver.ErrNoPrivKey should be returned for keys the proxy cannot
	// sign for.
	SignHash(pubKey, digest []byte) ([]byte, error)
}

// SigningProxyFunc adapts a function to a SigningProxy.
type SigningProxyFunc func(pubKey, digest []byte) ([]byte, error)

// SignHash calls f.
func (f SigningProxyFunc) SignHash(pubKey, digest []byte) ([]byte, error) {
	return f(pubKey, digest)
}

// FeedSigner is a SigningProxy signing with the private keys of a feed.
type FeedSigner struct {
	feed resolver.Feed
}

// A compile-time assertion to ensure that FeedSigner implements the
// SigningProxy interface.
var _ SigningProxy = (*FeedSigner)(nil)

// NewFeedSigner returns a proxy signing with the keys held by feed.
func NewFeedSigner(feed resolver.Feed) *FeedSigner {
	return &FeedSigner{feed: feed}
}

// SignHash signs digest with the private key of pubKey.
func (f *FeedSigner) SignHash(pubKey, digest []byte) ([]byte, error) {
	privKey, err := f.feed.PrivKeyForPubKey(pubKey)
	if err != nil {
		return nil, err
	}

	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return nil, err
	}
	if !privKey.PubKey().IsEqual(key) {
		return nil, fmt.Errorf("%w: %x", ErrKeyMismatch, pubKey)
	}

	return ecdsa.Sign(privKey, digest).Serialize(), nil
}
