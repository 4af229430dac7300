// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/resolver"
	"google.golang.org/protobuf/encoding/protowire"
)

// The version 2 payload is a protobuf message laid out as below. Unknown
// fields are skipped on decode.
//
//	SignerState: 1 version, 2 lock time, 3 spender (repeated),
//	             4 recipient (repeated), 5 supporting tx (repeated),
//	             6 bip32 root (repeated), 7 proprietary (repeated)
//	Spender:     1 outpoint ref, 2 sequence, 3 sighash type, 4 flags,
//	             5 legacy status, 6 witness status, 7 legacy item
//	             (repeated), 8 witness item (repeated), 9 final scriptSig,
//	             10 final witness element (repeated), 11 utxo, 12 path
//	             (repeated), 13 proprietary (repeated)
//	StackItem:   1 type, 2 id, 3 data, 4 subscript, 5 signature, 6 m,
//	             7 pubkey (repeated), 8 multisig slot (repeated), 9 opcode
//	Recipient:   1 group, 2 value, 3 pkScript, 4 path (repeated),
//	             5 proprietary (repeated), 6 redeem script, 7 witness script
//	UTXO:        1 value, 2 pkScript
//	Path:        1 pubkey, 2 fingerprint (fixed32), 3 path (packed)
//	Slot:        1 key index, 2 signature
//	KeyValue:    1 key, 2 value
//	Root:        1 fingerprint (fixed32), 2 xpub, 3 path (packed)
const (
	stateVersion     protowire.Number = 1
	stateLockTime    protowire.Number = 2
	stateSpender     protowire.Number = 3
	stateRecipient   protowire.Number = 4
	stateSupporting  protowire.Number = 5
	stateRoot        protowire.Number = 6
	stateProprietary protowire.Number = 7

	spenderRef           protowire.Number = 1
	spenderSequence      protowire.Number = 2
	spenderSigHash       protowire.Number = 3
	spenderFlags         protowire.Number = 4
	spenderLegacyStatus  protowire.Number = 5
	spenderWitnessStatus protowire.Number = 6
	spenderLegacyItem    protowire.Number = 7
	spenderWitnessItem   protowire.Number = 8
	spenderScriptSig     protowire.Number = 9
	spenderWitness       protowire.Number = 10
	spenderUTXO          protowire.Number = 11
	spenderPath          protowire.Number = 12
	spenderProprietary   protowire.Number = 13

	itemType      protowire.Number = 1
	itemID        protowire.Number = 2
	itemData      protowire.Number = 3
	itemSubScript protowire.Number = 4
	itemSignature protowire.Number = 5
	itemM         protowire.Number = 6
	itemPubKey    protowire.Number = 7
	itemSlot      protowire.Number = 8
	itemOpCode    protowire.Number = 9

	recipientGroup         protowire.Number = 1
	recipientValue         protowire.Number = 2
	recipientPkScript      protowire.Number = 3
	recipientPath          protowire.Number = 4
	recipientProprietary   protowire.Number = 5
	recipientRedeemScript  protowire.Number = 6
	recipientWitnessScript protowire.Number = 7

	utxoValue    protowire.Number = 1
	utxoPkScript protowire.Number = 2

	pathPubKey      protowire.Number = 1
	pathFingerprint protowire.Number = 2
	pathIndexes     protowire.Number = 3

	slotIndex     protowire.Number = 1
	slotSignature protowire.Number = 2

	kvKey   protowire.Number = 1
	kvValue protowire.Number = 2

	rootFingerprint protowire.Number = 1
	rootXPub        protowire.Number = 2
	rootPath        protowire.Number = 3
)

// Spender flag bits.
const (
	flagP2SH = 1 << iota
	flagCSV
	flagCLTV
)

var (
	// ErrStateField is returned for a field of the wrong wire type or
	// with an out of range value.
	ErrStateField = errors.New("malformed signer state field")

	// ErrStateInconsistent is returned when the items of a decoded leg do
	// not agree with its recorded status.
	ErrStateInconsistent = errors.New("inconsistent spender state")
)

// encodeSignerState encodes the full state of s.
func encodeSignerState(s *Signer) ([]byte, error) {
	var b []byte
	b = appendVarint(b, stateVersion, uint64(uint32(s.version)))
	b = appendVarint(b, stateLockTime, uint64(s.lockTime))

	for _, sp := range s.spenders {
		msg, err := encodeSpender(sp)
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, stateSpender, msg)
	}

	for _, id := range s.recipients.Groups() {
		for _, r := range s.recipients.Group(id) {
			b = appendBytes(b, stateRecipient, encodeRecipient(id, r))
		}
	}

	for _, hash := range sortedTxHashes(s.txs) {
		var buf bytes.Buffer
		if err := s.txs[hash].Serialize(&buf); err != nil {
			return nil, err
		}
		b = appendBytes(b, stateSupporting, buf.Bytes())
	}

	for _, root := range s.roots {
		var msg []byte
		msg = protowire.AppendTag(msg, rootFingerprint,
			protowire.Fixed32Type)
		msg = protowire.AppendFixed32(msg, root.Fingerprint)
		msg = appendBytes(msg, rootXPub, []byte(root.XPub.String()))
		msg = appendBytes(msg, rootPath, packUint32s(root.Path))
		b = appendBytes(b, stateRoot, msg)
	}

	for _, kv := range s.proprietary {
		b = appendBytes(b, stateProprietary, encodeKeyValue(kv))
	}

	return b, nil
}

// encodeSpender encodes one spender.
func encodeSpender(sp *ScriptSpender) ([]byte, error) {
	var flags uint64
	if sp.isP2SH {
		flags |= flagP2SH
	}
	if sp.hasCSV {
		flags |= flagCSV
	}
	if sp.hasCLTV {
		flags |= flagCLTV
	}

	var b []byte
	b = appendBytes(b, spenderRef, sp.OutPointRef())
	b = appendVarint(b, spenderSequence, uint64(sp.sequence))
	b = appendVarint(b, spenderSigHash, uint64(sp.hashType))
	b = appendVarint(b, spenderFlags, flags)
	b = appendVarint(b, spenderLegacyStatus, uint64(sp.legacy.status))
	b = appendVarint(b, spenderWitnessStatus, uint64(sp.witness.status))

	for _, item := range sp.legacy.sorted() {
		msg, err := encodeItem(item)
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, spenderLegacyItem, msg)
	}
	for _, item := range sp.witness.sorted() {
		msg, err := encodeItem(item)
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, spenderWitnessItem, msg)
	}

	if sp.legacy.status == StatusSigned {
		b = appendBytes(b, spenderScriptSig, sp.legacy.script)
	}
	if sp.witness.status == StatusSigned {
		for _, elem := range sp.witness.witness {
			b = appendBytes(b, spenderWitness, elem)
		}
	}

	if sp.utxo.IsSome() {
		utxo := sp.utxo.UnwrapOr(UTXO{})

		var msg []byte
		msg = appendVarint(msg, utxoValue, uint64(utxo.Value))
		msg = appendBytes(msg, utxoPkScript, utxo.PkScript)
		b = appendBytes(b, spenderUTXO, msg)
	}

	for _, key := range sortedPaths(sp.paths) {
		msg, err := encodePath(key, sp.paths[key])
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, spenderPath, msg)
	}

	for _, kv := range sp.proprietary {
		b = appendBytes(b, spenderProprietary, encodeKeyValue(kv))
	}

	return b, nil
}

// encodeItem encodes one placeholder.
func encodeItem(item resolver.StackItem) ([]byte, error) {
	var b []byte
	b = appendVarint(b, itemType, uint64(item.Type()))
	b = appendVarint(b, itemID, uint64(item.ID()))

	switch it := item.(type) {
	case *resolver.PushData:
		b = appendBytes(b, itemData, it.Data)

	case *resolver.SerializedScript:
		b = appendBytes(b, itemData, it.Script)

	case *resolver.OpCode:
		b = appendVarint(b, itemOpCode, uint64(it.Op))

	case *resolver.Sig:
		b = appendBytes(b, itemData, it.PubKey)
		b = appendBytes(b, itemSubScript, it.SubScript)
		if it.IsSigned() {
			b = appendBytes(b, itemSignature, it.Signature)
		}

	case *resolver.MultiSig:
		b = appendBytes(b, itemSubScript, it.SubScript)
		b = appendVarint(b, itemM, uint64(it.M))
		for _, pubKey := range it.PubKeys {
			b = appendBytes(b, itemPubKey, pubKey)
		}
		for i := range it.PubKeys {
			sig, ok := it.Sigs[i]
			if !ok {
				continue
			}

			var slot []byte
			slot = appendVarint(slot, slotIndex, uint64(i))
			slot = appendBytes(slot, slotSignature, sig)
			b = appendBytes(b, itemSlot, slot)
		}

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownItem, item)
	}

	return b, nil
}

// encodeRecipient encodes one recipient of group.
func encodeRecipient(group uint32, r *ScriptRecipient) []byte {
	var b []byte
	b = appendVarint(b, recipientGroup, uint64(group))
	b = appendVarint(b, recipientValue, uint64(r.Value))
	b = appendBytes(b, recipientPkScript, r.PkScript)

	for _, key := range sortedPaths(r.Paths) {
		msg, err := encodePath(key, r.Paths[key])
		if err != nil {
			continue
		}
		b = appendBytes(b, recipientPath, msg)
	}
	for _, kv := range r.Proprietary {
		b = appendBytes(b, recipientProprietary, encodeKeyValue(kv))
	}
	if len(r.RedeemScript) > 0 {
		b = appendBytes(b, recipientRedeemScript, r.RedeemScript)
	}
	if len(r.WitnessScript) > 0 {
		b = appendBytes(b, recipientWitnessScript, r.WitnessScript)
	}

	return b
}

// encodePath encodes the path of the public key whose hex encoding is key.
func encodePath(key string, path resolver.BIP32Path) ([]byte, error) {
	pubKey, err := hex.DecodeString(key)
	if err != nil {
		return nil, err
	}

	var b []byte
	b = appendBytes(b, pathPubKey, pubKey)
	b = protowire.AppendTag(b, pathFingerprint, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, path.Fingerprint)
	b = appendBytes(b, pathIndexes, packUint32s(path.Path))

	return b, nil
}

// encodeKeyValue encodes a proprietary record.
func encodeKeyValue(kv KeyValue) []byte {
	var b []byte
	b = appendBytes(b, kvKey, kv.Key)
	b = appendBytes(b, kvValue, kv.Value)

	return b
}

// appendVarint appends a varint field.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendBytes appends a length delimited field.
func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// packUint32s encodes a packed repeated varint field body.
func packUint32s(vs []uint32) []byte {
	var b []byte
	for _, v := range vs {
		b = protowire.AppendVarint(b, uint64(v))
	}

	return b
}

// field is one decoded field of a message. Varint and fixed32 values are
// held in v, length delimited ones in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

// parseFields splits a message into its fields. Groups and fixed64 values
// are skipped.
func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)

		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)

		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		fields = append(fields, f)
	}

	return fields, nil
}

// want checks the wire type of f.
func (f field) want(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d has wire type %d, want %d",
			ErrStateField, f.num, f.typ, typ)
	}

	return nil
}

// varint32 returns the value of a varint field that must fit 32 bits.
func (f field) varint32() (uint32, error) {
	if err := f.want(protowire.VarintType); err != nil {
		return 0, err
	}
	if f.v > 0xffffffff {
		return 0, fmt.Errorf("%w: field %d value %d", ErrStateField,
			f.num, f.v)
	}

	return uint32(f.v), nil
}

// fixed32 returns the value of a fixed32 field.
func (f field) fixed32() (uint32, error) {
	if err := f.want(protowire.Fixed32Type); err != nil {
		return 0, err
	}

	return uint32(f.v), nil
}

// data returns a copy of the value of a length delimited field.
func (f field) data() ([]byte, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return nil, err
	}

	return append([]byte{}, f.b...), nil
}

// unpackUint32s decodes a packed repeated varint field body.
func unpackUint32s(b []byte) ([]uint32, error) {
	var vs []uint32
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		if v > 0xffffffff {
			return nil, fmt.Errorf("%w: packed value %d",
				ErrStateField, v)
		}
		vs = append(vs, uint32(v))
		b = b[n:]
	}

	return vs, nil
}

// decodeSignerState rebuilds a signer from its encoded state. Every
// signature held by an unsigned placeholder is checked against the decoded
// transaction.
func decodeSignerState(msg []byte, opts ...Option) (*Signer, error) {
	fields, err := parseFields(msg)
	if err != nil {
		return nil, err
	}

	s := New(opts...)
	for _, f := range fields {
		switch f.num {
		case stateVersion:
			v, err := f.varint32()
			if err != nil {
				return nil, err
			}
			s.version = int32(v)

		case stateLockTime:
			if s.lockTime, err = f.varint32(); err != nil {
				return nil, err
			}

		case stateSpender:
			sp, err := decodeSpender(f)
			if err != nil {
				return nil, err
			}
			if s.spenderIndex(sp.outPoint) >= 0 {
				return nil, fmt.Errorf("%w: %v",
					ErrDuplicateSpender, sp.outPoint)
			}
			s.spenders = append(s.spenders, sp)

		case stateRecipient:
			group, r, err := decodeRecipient(f)
			if err != nil {
				return nil, err
			}
			if err := s.recipients.Add(group, r); err != nil {
				return nil, err
			}

		case stateSupporting:
			raw, err := f.data()
			if err != nil {
				return nil, err
			}
			tx := wire.NewMsgTx(wire.TxVersion)
			if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
				return nil, err
			}
			s.AddSupportingTx(tx)

		case stateRoot:
			root, err := decodeRoot(f, s)
			if err != nil {
				return nil, err
			}
			s.AddBIP32Root(root)

		case stateProprietary:
			kv, err := decodeKeyValue(f)
			if err != nil {
				return nil, err
			}
			s.proprietary = mergeKeyValues(
				s.proprietary, []KeyValue{kv},
			)
		}
	}

	if err := s.checkSignatures(); err != nil {
		return nil, err
	}

	return s, nil
}

// checkSignatures verifies every signature held by an unsigned placeholder.
func (s *Signer) checkSignatures() error {
	view := s.view()
	for i, sp := range s.spenders {
		ctx := s.sigContext(i, view)
		for _, isWitness := range []bool{false, true} {
			for _, item := range sp.leg(isWitness).items {
				err := checkItemSigs(item, ctx, isWitness)
				if err != nil {
					return fmt.Errorf("input %d: %w", i, err)
				}
			}
		}
	}

	return nil
}

// checkItemSigs verifies the signatures of one placeholder.
func checkItemSigs(item resolver.StackItem, ctx SigContext,
	isWitness bool) error {

	switch it := item.(type) {
	case *resolver.Sig:
		if it.IsSigned() {
			return ctx.verify(
				it.PubKey, it.Signature, it.SubScript, isWitness,
			)
		}

	case *resolver.MultiSig:
		for i, sig := range it.Sigs {
			err := ctx.verify(
				it.PubKeys[i], sig, it.SubScript, isWitness,
			)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// decodeSpender rebuilds one spender.
func decodeSpender(f field) (*ScriptSpender, error) {
	msg, err := f.data()
	if err != nil {
		return nil, err
	}
	fields, err := parseFields(msg)
	if err != nil {
		return nil, err
	}

	var (
		ref                   []byte
		flags                 uint32
		legacyStat, witStat   uint32
		legacyItems, witItems []resolver.StackItem
		scriptSig             []byte
		witness               wire.TxWitness
		utxo                  *UTXO
		proprietary           []KeyValue
	)
	sequence := wire.MaxTxInSequenceNum
	hashType := txscript.SigHashAll
	paths := make(map[string]resolver.BIP32Path)

	for _, f := range fields {
		switch f.num {
		case spenderRef:
			ref, err = f.data()

		case spenderSequence:
			sequence, err = f.varint32()

		case spenderSigHash:
			var v uint32
			v, err = f.varint32()
			hashType = txscript.SigHashType(v)

		case spenderFlags:
			flags, err = f.varint32()

		case spenderLegacyStatus:
			legacyStat, err = f.varint32()

		case spenderWitnessStatus:
			witStat, err = f.varint32()

		case spenderLegacyItem:
			var item resolver.StackItem
			item, err = decodeItem(f)
			legacyItems = append(legacyItems, item)

		case spenderWitnessItem:
			var item resolver.StackItem
			item, err = decodeItem(f)
			witItems = append(witItems, item)

		case spenderScriptSig:
			scriptSig, err = f.data()

		case spenderWitness:
			var elem []byte
			elem, err = f.data()
			witness = append(witness, elem)

		case spenderUTXO:
			var u UTXO
			u, err = decodeUTXO(f)
			utxo = &u

		case spenderPath:
			var (
				key  string
				path resolver.BIP32Path
			)
			key, path, err = decodePath(f)
			paths[key] = path

		case spenderProprietary:
			var kv KeyValue
			kv, err = decodeKeyValue(f)
			proprietary = mergeKeyValues(
				proprietary, []KeyValue{kv},
			)
		}
		if err != nil {
			return nil, err
		}
	}

	sp, err := NewRefSpender(
		ref, WithSequence(sequence), WithSigHashType(hashType),
	)
	if err != nil {
		return nil, err
	}
	if utxo != nil {
		utxo.OutPoint = sp.outPoint
		if err := sp.SetUTXO(*utxo); err != nil {
			return nil, err
		}
	}

	sp.isP2SH = flags&flagP2SH != 0
	sp.hasCSV = flags&flagCSV != 0
	sp.hasCLTV = flags&flagCLTV != 0
	sp.paths = paths
	sp.proprietary = proprietary

	sp.legacy, err = decodeLeg(legacyStat, legacyItems)
	if err != nil {
		return nil, fmt.Errorf("%v legacy leg: %w", sp.outPoint, err)
	}
	sp.legacy.script = scriptSig

	sp.witness, err = decodeLeg(witStat, witItems)
	if err != nil {
		return nil, fmt.Errorf("%v witness leg: %w", sp.outPoint, err)
	}
	sp.witness.witness = witness

	if err := sp.checkLegs(); err != nil {
		return nil, fmt.Errorf("%v: %w", sp.outPoint, err)
	}

	return sp, nil
}

// decodeLeg rebuilds a leg from its status and placeholders.
func decodeLeg(status uint32,
	items []resolver.StackItem) (leg, error) {

	if status > uint32(StatusSigned) {
		return leg{}, fmt.Errorf("%w: status %d", ErrStateField, status)
	}

	l := leg{status: SpenderStatus(status)}
	if len(items) == 0 {
		return l, nil
	}

	l.items = make(map[uint32]resolver.StackItem, len(items))
	for _, item := range items {
		if _, ok := l.items[item.ID()]; ok {
			return leg{}, fmt.Errorf("%w: duplicate placeholder %d",
				ErrStateInconsistent, item.ID())
		}
		l.items[item.ID()] = item
	}

	return l, nil
}

// checkLegs verifies that the placeholders of both legs agree with their
// statuses, i.e. that re-evaluating them would leave the spender unchanged.
func (s *ScriptSpender) checkLegs() error {
	for _, isWitness := range []bool{false, true} {
		l := s.leg(isWitness)

		switch l.status {
		case StatusResolved, StatusPartiallySigned:
			bare := s.leg(!isWitness).status == StatusEmpty
			if len(l.items) == 0 || evalItems(l.items, bare) != l.status {
				return fmt.Errorf("%w: %s leg %v with %d "+
					"placeholders", ErrStateInconsistent,
					legName(isWitness), l.status,
					len(l.items))
			}

		default:
			if len(l.items) != 0 {
				return fmt.Errorf("%w: %s leg %v with "+
					"placeholders", ErrStateInconsistent,
					legName(isWitness), l.status)
			}
		}

		if l.status != StatusSigned &&
			(len(l.script) != 0 || len(l.witness) != 0) {

			return fmt.Errorf("%w: %s leg %v with final data",
				ErrStateInconsistent, legName(isWitness),
				l.status)
		}
	}

	return nil
}

// decodeItem rebuilds one placeholder.
func decodeItem(f field) (resolver.StackItem, error) {
	msg, err := f.data()
	if err != nil {
		return nil, err
	}
	fields, err := parseFields(msg)
	if err != nil {
		return nil, err
	}

	var (
		typ, id, m, op             uint32
		data, subScript, signature []byte
		pubKeys                    [][]byte
	)
	slots := make(map[int][]byte)

	for _, f := range fields {
		switch f.num {
		case itemType:
			typ, err = f.varint32()

		case itemID:
			id, err = f.varint32()

		case itemData:
			data, err = f.data()

		case itemSubScript:
			subScript, err = f.data()

		case itemSignature:
			signature, err = f.data()

		case itemM:
			m, err = f.varint32()

		case itemPubKey:
			var pubKey []byte
			pubKey, err = f.data()
			pubKeys = append(pubKeys, pubKey)

		case itemSlot:
			var (
				idx int
				sig []byte
			)
			idx, sig, err = decodeSlot(f)
			slots[idx] = sig

		case itemOpCode:
			op, err = f.varint32()
			if err == nil && op > 0xff {
				err = fmt.Errorf("%w: opcode %d", ErrStateField,
					op)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	switch resolver.ItemType(typ) {
	case resolver.ItemPushData:
		return resolver.NewPushData(id, data), nil

	case resolver.ItemSerializedScript:
		return resolver.NewSerializedScript(id, data), nil

	case resolver.ItemOpCode:
		return resolver.NewOpCode(id, byte(op)), nil

	case resolver.ItemSig:
		sig := resolver.NewSig(id, data, subScript)
		sig.Signature = signature

		return sig, nil

	case resolver.ItemMultiSig:
		if m == 0 || int(m) > len(pubKeys) {
			return nil, fmt.Errorf("%w: %d-of-%d multisig",
				ErrStateField, m, len(pubKeys))
		}

		ms := resolver.NewMultiSig(id, int(m), pubKeys, subScript)
		for idx, sig := range slots {
			if idx >= len(pubKeys) {
				return nil, fmt.Errorf("%w: slot %d of %d keys",
					ErrStateField, idx, len(pubKeys))
			}
			ms.Sigs[idx] = sig
		}

		return ms, nil

	default:
		return nil, fmt.Errorf("%w: item type %d", ErrUnknownItem, typ)
	}
}

// decodeSlot decodes one multisig slot.
func decodeSlot(f field) (int, []byte, error) {
	msg, err := f.data()
	if err != nil {
		return 0, nil, err
	}
	fields, err := parseFields(msg)
	if err != nil {
		return 0, nil, err
	}

	var (
		idx uint32
		sig []byte
	)
	for _, f := range fields {
		switch f.num {
		case slotIndex:
			idx, err = f.varint32()
		case slotSignature:
			sig, err = f.data()
		}
		if err != nil {
			return 0, nil, err
		}
	}
	if len(sig) == 0 {
		return 0, nil, fmt.Errorf("%w: empty multisig slot %d",
			ErrStateField, idx)
	}

	return int(idx), sig, nil
}

// decodeUTXO decodes the UTXO of a spender. The outpoint is filled in by the
// caller.
func decodeUTXO(f field) (UTXO, error) {
	msg, err := f.data()
	if err != nil {
		return UTXO{}, err
	}
	fields, err := parseFields(msg)
	if err != nil {
		return UTXO{}, err
	}

	var u UTXO
	for _, f := range fields {
		switch f.num {
		case utxoValue:
			err = f.want(protowire.VarintType)
			u.Value = btcutil.Amount(int64(f.v))
		case utxoPkScript:
			u.PkScript, err = f.data()
		}
		if err != nil {
			return UTXO{}, err
		}
	}

	return u, nil
}

// decodePath decodes a public key and its derivation path.
func decodePath(f field) (string, resolver.BIP32Path, error) {
	msg, err := f.data()
	if err != nil {
		return "", resolver.BIP32Path{}, err
	}
	fields, err := parseFields(msg)
	if err != nil {
		return "", resolver.BIP32Path{}, err
	}

	var (
		pubKey []byte
		path   resolver.BIP32Path
	)
	for _, f := range fields {
		switch f.num {
		case pathPubKey:
			pubKey, err = f.data()

		case pathFingerprint:
			path.Fingerprint, err = f.fixed32()

		case pathIndexes:
			var packed []byte
			packed, err = f.data()
			if err == nil {
				path.Path, err = unpackUint32s(packed)
			}
		}
		if err != nil {
			return "", resolver.BIP32Path{}, err
		}
	}
	if len(pubKey) == 0 {
		return "", resolver.BIP32Path{}, fmt.Errorf("%w: path without "+
			"public key", ErrStateField)
	}

	return hex.EncodeToString(pubKey), path, nil
}

// decodeKeyValue decodes a proprietary record.
func decodeKeyValue(f field) (KeyValue, error) {
	msg, err := f.data()
	if err != nil {
		return KeyValue{}, err
	}
	fields, err := parseFields(msg)
	if err != nil {
		return KeyValue{}, err
	}

	var kv KeyValue
	for _, f := range fields {
		switch f.num {
		case kvKey:
			kv.Key, err = f.data()
		case kvValue:
			kv.Value, err = f.data()
		}
		if err != nil {
			return KeyValue{}, err
		}
	}

	return kv, nil
}

// decodeRecipient decodes a recipient and its group.
func decodeRecipient(f field) (uint32, *ScriptRecipient, error) {
	msg, err := f.data()
	if err != nil {
		return 0, nil, err
	}
	fields, err := parseFields(msg)
	if err != nil {
		return 0, nil, err
	}

	var (
		group = DefaultRecipientGroup
		r     = NewRecipient(0, nil)
	)
	for _, f := range fields {
		switch f.num {
		case recipientGroup:
			group, err = f.varint32()

		case recipientValue:
			err = f.want(protowire.VarintType)
			r.Value = btcutil.Amount(int64(f.v))

		case recipientPkScript:
			r.PkScript, err = f.data()

		case recipientPath:
			var (
				key  string
				path resolver.BIP32Path
			)
			key, path, err = decodePath(f)
			r.Paths[key] = path

		case recipientProprietary:
			var kv KeyValue
			kv, err = decodeKeyValue(f)
			r.Proprietary = mergeKeyValues(
				r.Proprietary, []KeyValue{kv},
			)

		case recipientRedeemScript:
			r.RedeemScript, err = f.data()

		case recipientWitnessScript:
			r.WitnessScript, err = f.data()
		}
		if err != nil {
			return 0, nil, err
		}
	}

	return group, r, nil
}

// decodeRoot decodes a BIP32 root for the network of s.
func decodeRoot(f field, s *Signer) (BIP32Root, error) {
	msg, err := f.data()
	if err != nil {
		return BIP32Root{}, err
	}
	fields, err := parseFields(msg)
	if err != nil {
		return BIP32Root{}, err
	}

	var (
		fingerprint uint32
		xpub        []byte
		path        []uint32
	)
	for _, f := range fields {
		switch f.num {
		case rootFingerprint:
			fingerprint, err = f.fixed32()

		case rootXPub:
			xpub, err = f.data()

		case rootPath:
			var packed []byte
			packed, err = f.data()
			if err == nil {
				path, err = unpackUint32s(packed)
			}
		}
		if err != nil {
			return BIP32Root{}, err
		}
	}

	return NewBIP32Root(string(xpub), fingerprint, path, s.params)
}
