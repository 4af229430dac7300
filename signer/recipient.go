// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/resolver"
)

// DefaultRecipientGroup is the group recipients are added to when the caller
// does not name one.
const DefaultRecipientGroup uint32 = 0xffffffff

var (
	// ErrDuplicateRecipient is returned when a recipient with the same
	// locking script already exists in the group.
	ErrDuplicateRecipient = errors.New("duplicate recipient")

	// ErrNegativeValue is returned for a recipient with a negative value.
	ErrNegativeValue = errors.New("negative output value")

	// ErrRecipientNotFound is returned when annotating a locking script
	// no recipient pays to.
	ErrRecipientNotFound = errors.New("recipient not found")
)

// RecipientType is the locking script template of a recipient.
type RecipientType uint8

const (
	// RecipientOpaque is any script not matching a known template.
	RecipientOpaque RecipientType = iota

	// RecipientP2PKH pays to a public key hash.
	RecipientP2PKH

	// RecipientP2PK pays to a bare public key.
	RecipientP2PK

	// RecipientP2WPKH pays to a version 0 witness public key hash.
	RecipientP2WPKH

	// RecipientP2SH pays to a script hash.
	RecipientP2SH

	// RecipientP2WSH pays to a version 0 witness script hash.
	RecipientP2WSH

	// RecipientOpReturn is a provably unspendable data carrier.
	RecipientOpReturn
)

// String returns the RecipientType as a human-readable name.
func (t RecipientType) String() string {
	switch t {
	case RecipientP2PKH:
		return "P2PKH"
	case RecipientP2PK:
		return "P2PK"
	case RecipientP2WPKH:
		return "P2WPKH"
	case RecipientP2SH:
		return "P2SH"
	case RecipientP2WSH:
		return "P2WSH"
	case RecipientOpReturn:
		return "OP_RETURN"
	default:
		return "Opaque"
	}
}

// KeyValue is an opaque key/value pair carried for PSBT round-tripping.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// ScriptRecipient is one output of the transaction.
type ScriptRecipient struct {
	// Value is the amount paid to the output.
	Value btcutil.Amount

	// PkScript is the locking script of the output.
	PkScript []byte

	// RedeemScript and WitnessScript are filled in by ResolvePublicData
	// when the feed knows them, and exported with PSBT outputs.
	RedeemScript  []byte
	WitnessScript []byte

	// Paths maps hex encoded public keys to their derivation path.
	Paths map[string]resolver.BIP32Path

	// Proprietary holds the 0xfc records of the PSBT output map.
	Proprietary []KeyValue
}

// NewRecipient returns a recipient paying value to pkScript.
func NewRecipient(value btcutil.Amount, pkScript []byte) *ScriptRecipient {
	return &ScriptRecipient{
		Value:    value,
		PkScript: append([]byte(nil), pkScript...),
		Paths:    make(map[string]resolver.BIP32Path),
	}
}

// NewRecipientFromAddress returns a recipient paying value to addr.
func NewRecipientFromAddress(value btcutil.Amount,
	addr btcutil.Address) (*ScriptRecipient, error) {

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return NewRecipient(value, pkScript), nil
}

// Type returns the template of the locking script.
func (r *ScriptRecipient) Type() RecipientType {
	switch txscript.GetScriptClass(r.PkScript) {
	case txscript.PubKeyHashTy:
		return RecipientP2PKH
	case txscript.PubKeyTy:
		return RecipientP2PK
	case txscript.WitnessV0PubKeyHashTy:
		return RecipientP2WPKH
	case txscript.ScriptHashTy:
		return RecipientP2SH
	case txscript.WitnessV0ScriptHashTy:
		return RecipientP2WSH
	case txscript.NullDataTy:
		return RecipientOpReturn
	default:
		return RecipientOpaque
	}
}

// TxOut returns the recipient as a wire output.
func (r *ScriptRecipient) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(r.Value), r.PkScript)
}

// Clone returns a deep copy of the recipient.
func (r *ScriptRecipient) Clone() *ScriptRecipient {
	c := NewRecipient(r.Value, r.PkScript)
	c.RedeemScript = cloneBytes(r.RedeemScript)
	c.WitnessScript = cloneBytes(r.WitnessScript)
	for k, p := range r.Paths {
		c.Paths[k] = p.Clone()
	}
	c.Proprietary = mergeKeyValues(nil, r.Proprietary)

	return c
}

// mergeAnnotations copies the paths, scripts and proprietary records of
// other that r does not carry yet.
func (r *ScriptRecipient) mergeAnnotations(other *ScriptRecipient) {
	if len(r.RedeemScript) == 0 {
		r.RedeemScript = cloneBytes(other.RedeemScript)
	}
	if len(r.WitnessScript) == 0 {
		r.WitnessScript = cloneBytes(other.WitnessScript)
	}
	for k, p := range other.Paths {
		if _, ok := r.Paths[k]; !ok {
			r.Paths[k] = p.Clone()
		}
	}

	r.Proprietary = mergeKeyValues(r.Proprietary, other.Proprietary)
}

// RecipientMap groups recipients by group id. Within a group recipients keep
// their insertion order; groups are laid out in ascending id order, which
// puts the default group last.
type RecipientMap struct {
	groups map[uint32][]*ScriptRecipient
}

// NewRecipientMap returns an empty map.
func NewRecipientMap() *RecipientMap {
	return &RecipientMap{groups: make(map[uint32][]*ScriptRecipient)}
}

// Add inserts r into group. A recipient whose locking script is already
// present in the group is rejected.
func (m *RecipientMap) Add(group uint32, r *ScriptRecipient) error {
	if r.Value < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeValue, r.Value)
	}

	for _, existing := range m.groups[group] {
		if bytes.Equal(existing.PkScript, r.PkScript) {
			return fmt.Errorf("%w: script %x in group %d",
				ErrDuplicateRecipient, r.PkScript, group)
		}
	}
	m.groups[group] = append(m.groups[group], r)

	return nil
}

// Groups returns the group ids in ascending order.
func (m *RecipientMap) Groups() []uint32 {
	ids := make([]uint32, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Group returns the recipients of a group.
func (m *RecipientMap) Group(group uint32) []*ScriptRecipient {
	return m.groups[group]
}

// All returns every recipient in output order.
func (m *RecipientMap) All() []*ScriptRecipient {
	var all []*ScriptRecipient
	for _, id := range m.Groups() {
		all = append(all, m.groups[id]...)
	}

	return all
}

// Len returns the number of recipients.
func (m *RecipientMap) Len() int {
	var n int
	for _, g := range m.groups {
		n += len(g)
	}

	return n
}

// Total returns the sum of the recipient values.
func (m *RecipientMap) Total() btcutil.Amount {
	var total btcutil.Amount
	for _, g := range m.groups {
		for _, r := range g {
			total += r.Value
		}
	}

	return total
}

// Clone returns a deep copy of the map.
func (m *RecipientMap) Clone() *RecipientMap {
	c := NewRecipientMap()
	for id, g := range m.groups {
		for _, r := range g {
			c.groups[id] = append(c.groups[id], r.Clone())
		}
	}

	return c
}

// Equal returns whether both maps produce the same outputs in the same
// groups.
func (m *RecipientMap) Equal(other *RecipientMap) bool {
	if len(m.groups) != len(other.groups) {
		return false
	}
	for id, g := range m.groups {
		og, ok := other.groups[id]
		if !ok || len(og) != len(g) {
			return false
		}
		for i := range g {
			if g[i].Value != og[i].Value ||
				!bytes.Equal(g[i].PkScript, og[i].PkScript) {

				return false
			}
		}
	}

	return true
}

// merge folds other into m. An entry identical in value and script to one
// already in the group only contributes its annotations. An entry with a
// known script but a different value adds its value to the existing entry.
// Anything else is appended to the group.
func (m *RecipientMap) merge(other *RecipientMap) {
	for _, id := range other.Groups() {
		for _, r := range other.groups[id] {
			m.mergeOne(id, r)
		}
	}
}

// mergeOne folds a single recipient into group id.
func (m *RecipientMap) mergeOne(id uint32, r *ScriptRecipient) {
	for _, existing := range m.groups[id] {
		if !bytes.Equal(existing.PkScript, r.PkScript) {
			continue
		}

		if existing.Value != r.Value {
			existing.Value += r.Value
		}
		existing.mergeAnnotations(r)

		return
	}

	m.groups[id] = append(m.groups[id], r.Clone())
}

// mergeKeyValues appends deep copies of the records of add whose key is not
// in kvs yet.
func mergeKeyValues(kvs, add []KeyValue) []KeyValue {
	for _, kv := range add {
		var found bool
		for _, own := range kvs {
			if bytes.Equal(own.Key, kv.Key) {
				found = true
				break
			}
		}
		if found {
			continue
		}

		kvs = append(kvs, KeyValue{
			Key:   cloneBytes(kv.Key),
			Value: cloneBytes(kv.Value),
		})
	}

	return kvs
}

// cloneBytes returns a copy of b, preserving nil.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}
