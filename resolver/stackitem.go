// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"bytes"
	"fmt"
	"sort"
)

// ItemType identifies the variant of a StackItem. The values are part of the
// TxSigCollect wire format and must not change.
type ItemType uint8

const (
	// ItemPushData is a known data push.
	ItemPushData ItemType = 1

	// ItemSig is a single signature placeholder.
	ItemSig ItemType = 2

	// ItemMultiSig is an m-of-n signature placeholder.
	ItemMultiSig ItemType = 3

	// ItemOpCode is a raw opcode, e.g. the CHECKMULTISIG dummy.
	ItemOpCode ItemType = 4

	// ItemSerializedScript is a pre-serialized sub-script such as a P2SH
	// redeem script or a P2WSH witness script.
	ItemSerializedScript ItemType = 5
)

// String returns the ItemType as a human-readable name.
func (t ItemType) String() string {
	switch t {
	case ItemPushData:
		return "PushData"
	case ItemSig:
		return "Sig"
	case ItemMultiSig:
		return "MultiSig"
	case ItemOpCode:
		return "OpCode"
	case ItemSerializedScript:
		return "SerializedScript"
	default:
		return fmt.Sprintf("ItemType(%d)", uint8(t))
	}
}

// StackItem is one element of an unlocking stack. The set of implementations
// is closed: *PushData, *Sig, *MultiSig, *OpCode and *SerializedScript.
// Consumers are expected to type switch over exactly these variants.
//
// The ID is the placeholder id assigned during resolution. Resolution is
// deterministic, so independent signers resolving the same output agree on
// ids, which is what lets their contributions be merged slot by slot.
type StackItem interface {
	// ID returns the placeholder id of the item.
	ID() uint32

	// Type returns the variant tag.
	Type() ItemType

	// Clone returns a deep copy of the item.
	Clone() StackItem

	stackItem()
}

// placeholder carries the id shared by every variant.
type placeholder struct {
	id uint32
}

// ID returns the placeholder id of the item.
func (p placeholder) ID() uint32 {
	return p.id
}

func (placeholder) stackItem() {}

// PushData is a data push whose bytes are already known.
type PushData struct {
	placeholder

	Data []byte
}

// NewPushData returns a PushData item with the given id.
func NewPushData(id uint32, data []byte) *PushData {
	return &PushData{placeholder{id}, cloneBytes(data)}
}

// Type returns ItemPushData.
func (p *PushData) Type() ItemType { return ItemPushData }

// Clone returns a deep copy of the item.
func (p *PushData) Clone() StackItem {
	return NewPushData(p.id, p.Data)
}

// Sig is a placeholder for a single signature by PubKey over SubScript.
// Signature is empty until a signature has been injected. The stored
// signature includes the trailing sighash type byte.
type Sig struct {
	placeholder

	PubKey    []byte
	SubScript []byte
	Signature []byte
}

// NewSig returns an unsigned Sig placeholder.
func NewSig(id uint32, pubKey, subScript []byte) *Sig {
	return &Sig{
		placeholder: placeholder{id},
		PubKey:      cloneBytes(pubKey),
		SubScript:   cloneBytes(subScript),
	}
}

// Type returns ItemSig.
func (s *Sig) Type() ItemType { return ItemSig }

// IsSigned returns whether a signature is present.
func (s *Sig) IsSigned() bool {
	return len(s.Signature) > 0
}

// Clone returns a deep copy of the item.
func (s *Sig) Clone() StackItem {
	c := NewSig(s.id, s.PubKey, s.SubScript)
	c.Signature = cloneBytes(s.Signature)

	return c
}

// MultiSig is a placeholder for M signatures from the ordered PubKeys list,
// all over SubScript. Sigs is sparse and keyed by the index of the signing
// key in PubKeys.
type MultiSig struct {
	placeholder

	M         int
	PubKeys   [][]byte
	SubScript []byte
	Sigs      map[int][]byte
}

// NewMultiSig returns an unsigned MultiSig placeholder.
func NewMultiSig(id uint32, m int, pubKeys [][]byte,
	subScript []byte) *MultiSig {

	keys := make([][]byte, len(pubKeys))
	for i, k := range pubKeys {
		keys[i] = cloneBytes(k)
	}

	return &MultiSig{
		placeholder: placeholder{id},
		M:           m,
		PubKeys:     keys,
		SubScript:   cloneBytes(subScript),
		Sigs:        make(map[int][]byte),
	}
}

// Type returns ItemMultiSig.
func (m *MultiSig) Type() ItemType { return ItemMultiSig }

// N returns the number of public keys.
func (m *MultiSig) N() int {
	return len(m.PubKeys)
}

// SigCount returns the number of collected signatures.
func (m *MultiSig) SigCount() int {
	return len(m.Sigs)
}

// IsComplete returns whether the threshold has been reached. A 0-of-n
// placeholder is complete without signatures.
func (m *MultiSig) IsComplete() bool {
	return len(m.Sigs) >= m.M
}

// KeyIndex returns the position of pubKey in the key list, or -1.
func (m *MultiSig) KeyIndex(pubKey []byte) int {
	for i, k := range m.PubKeys {
		if bytes.Equal(k, pubKey) {
			return i
		}
	}

	return -1
}

// OrderedSigs returns at most M collected signatures ordered by key index,
// which is the order CHECKMULTISIG requires.
func (m *MultiSig) OrderedSigs() [][]byte {
	idx := make([]int, 0, len(m.Sigs))
	for i := range m.Sigs {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	if len(idx) > m.M {
		idx = idx[:m.M]
	}

	sigs := make([][]byte, 0, len(idx))
	for _, i := range idx {
		sigs = append(sigs, m.Sigs[i])
	}

	return sigs
}

// Clone returns a deep copy of the item.
func (m *MultiSig) Clone() StackItem {
	c := NewMultiSig(m.id, m.M, m.PubKeys, m.SubScript)
	for i, sig := range m.Sigs {
		c.Sigs[i] = cloneBytes(sig)
	}

	return c
}

// OpCode is a raw opcode pushed as-is.
type OpCode struct {
	placeholder

	Op byte
}

// NewOpCode returns an OpCode item.
func NewOpCode(id uint32, op byte) *OpCode {
	return &OpCode{placeholder{id}, op}
}

// Type returns ItemOpCode.
func (o *OpCode) Type() ItemType { return ItemOpCode }

// Clone returns a deep copy of the item.
func (o *OpCode) Clone() StackItem {
	return NewOpCode(o.id, o.Op)
}

// SerializedScript is a script pushed as data, i.e. a redeem script or a
// witness script.
type SerializedScript struct {
	placeholder

	Script []byte
}

// NewSerializedScript returns a SerializedScript item.
func NewSerializedScript(id uint32, script []byte) *SerializedScript {
	return &SerializedScript{placeholder{id}, cloneBytes(script)}
}

// Type returns ItemSerializedScript.
func (s *SerializedScript) Type() ItemType { return ItemSerializedScript }

// Clone returns a deep copy of the item.
func (s *SerializedScript) Clone() StackItem {
	return NewSerializedScript(s.id, s.Script)
}

// SortItems orders items by ascending placeholder id in place.
func SortItems(items []StackItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID() < items[j].ID()
	})
}

// CloneItems deep copies a slice of items.
func CloneItems(items []StackItem) []StackItem {
	if items == nil {
		return nil
	}

	c := make([]StackItem, len(items))
	for i, item := range items {
		c[i] = item.Clone()
	}

	return c
}

// cloneBytes returns a copy of b, preserving nil.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}
