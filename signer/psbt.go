// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/internal/stdscript"
	"github.com/btcsuite/btcsigner/resolver"
	"github.com/btcsuite/btcsigner/sigerr"
)

const (
	// psbtGlobalVersion is the key type of PSBT_GLOBAL_VERSION.
	psbtGlobalVersion = 0xfb

	// psbtProprietary is the key type of proprietary records, valid in
	// every map.
	psbtProprietary = 0xfc
)

var (
	// ErrPSBTVersion is returned for a packet of a version other than 0.
	ErrPSBTVersion = errors.New("unsupported psbt version")

	// ErrPSBTShape is returned when the input or output maps of a packet
	// do not line up with its unsigned transaction.
	ErrPSBTShape = errors.New("psbt maps do not match transaction")
)

// ToPSBT exports the signer as a version 0 PSBT. Signed inputs carry their
// final scriptSig and witness; the others carry the partial signatures,
// scripts and derivation paths collected so far.
func (s *Signer) ToPSBT() (*psbt.Packet, error) {
	packet, err := psbt.NewFromUnsignedTx(s.unsignedTx())
	if err != nil {
		return nil, err
	}

	packet.Unknowns = append(packet.Unknowns, &psbt.Unknown{
		Key:   []byte{psbtGlobalVersion},
		Value: make([]byte, 4),
	})
	packet.Unknowns = append(
		packet.Unknowns, toPSBTUnknowns(s.proprietary)...,
	)

	for _, root := range s.roots {
		packet.XPubs = append(packet.XPubs, psbt.XPub{
			ExtendedKey:          psbt.EncodeExtendedKey(root.XPub),
			MasterKeyFingerprint: root.Fingerprint,
			Bip32Path:            append([]uint32(nil), root.Path...),
		})
	}

	for i, sp := range s.spenders {
		if err := s.fillPSBTInput(&packet.Inputs[i], sp); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	for i, r := range s.recipients.All() {
		out := &packet.Outputs[i]
		out.RedeemScript = cloneBytes(r.RedeemScript)
		out.WitnessScript = cloneBytes(r.WitnessScript)
		out.Bip32Derivation = toPSBTDerivations(r.Paths)
		out.Unknowns = toPSBTUnknowns(r.Proprietary)
	}

	return packet, nil
}

// fillPSBTInput fills the input map of sp.
func (s *Signer) fillPSBTInput(in *psbt.PInput, sp *ScriptSpender) error {
	if tx, err := s.supportingTx(sp.outPoint.Hash); err == nil {
		in.NonWitnessUtxo = tx.Copy()
	}
	if utxo, err := s.utxoFor(sp); err == nil && sp.spendsWitness(utxo) {
		in.WitnessUtxo = utxo.TxOut()
	}
	in.SighashType = sp.hashType
	in.Bip32Derivation = toPSBTDerivations(sp.paths)
	in.Unknowns = toPSBTUnknowns(sp.proprietary)

	if sp.IsSigned() {
		sigScript, err := sp.ScriptSig()
		if err != nil {
			return err
		}
		witness, err := sp.Witness()
		if err != nil {
			return err
		}

		in.FinalScriptSig = sigScript
		if len(witness) > 0 {
			var buf bytes.Buffer
			if err := psbt.WriteTxWitness(&buf, witness); err != nil {
				return err
			}
			in.FinalScriptWitness = buf.Bytes()
		}

		return nil
	}

	sigs := sp.Signatures()
	for _, key := range sortedKeys(sigs) {
		pubKey, _ := hex.DecodeString(key)
		in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
			PubKey:    pubKey,
			Signature: sigs[key],
		})
	}

	if sp.isP2SH {
		in.RedeemScript = legScript(&sp.legacy)
	}
	in.WitnessScript = legScript(&sp.witness)

	return nil
}

// spendsWitness returns whether the input is spent through a witness, as
// far as it is known.
func (s *ScriptSpender) spendsWitness(utxo UTXO) bool {
	if s.IsSegWit() {
		return true
	}
	_, ok := stdscript.WitnessProgram(utxo.PkScript)

	return ok
}

// legScript returns the redeem or witness script carried by an unsigned leg.
func legScript(l *leg) []byte {
	for _, item := range l.sorted() {
		if script, ok := item.(*resolver.SerializedScript); ok {
			return cloneBytes(script.Script)
		}
	}

	return nil
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// toPSBTDerivations converts paths keyed by hex public key, ordered by key.
func toPSBTDerivations(
	paths map[string]resolver.BIP32Path) []*psbt.Bip32Derivation {

	var derivations []*psbt.Bip32Derivation
	for _, key := range sortedPaths(paths) {
		pubKey, err := hex.DecodeString(key)
		if err != nil {
			continue
		}

		p := paths[key]
		derivations = append(derivations, &psbt.Bip32Derivation{
			PubKey:               pubKey,
			MasterKeyFingerprint: p.Fingerprint,
			Bip32Path:            append([]uint32(nil), p.Path...),
		})
	}

	return derivations
}

// toPSBTUnknowns converts proprietary records.
func toPSBTUnknowns(kvs []KeyValue) []*psbt.Unknown {
	var unknowns []*psbt.Unknown
	for _, kv := range kvs {
		unknowns = append(unknowns, &psbt.Unknown{
			Key:   cloneBytes(kv.Key),
			Value: cloneBytes(kv.Value),
		})
	}

	return unknowns
}

// fromPSBTUnknowns keeps the proprietary records of a map. Other unknown
// records are dropped.
func fromPSBTUnknowns(unknowns []*psbt.Unknown) []KeyValue {
	var kvs []KeyValue
	for _, u := range unknowns {
		if len(u.Key) == 0 || u.Key[0] != psbtProprietary {
			log.Debugf("Dropping unknown psbt record %x", u.Key)
			continue
		}
		kvs = mergeKeyValues(kvs, []KeyValue{{Key: u.Key, Value: u.Value}})
	}

	return kvs
}

// SerializePSBT returns the binary PSBT encoding of the signer.
func (s *Signer) SerializePSBT() ([]byte, error) {
	packet, err := s.ToPSBT()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// PSBTBase64 returns the base64 PSBT encoding of the signer.
func (s *Signer) PSBTBase64() (string, error) {
	packet, err := s.ToPSBT()
	if err != nil {
		return "", err
	}

	return packet.B64Encode()
}

// ParsePSBT decodes a binary PSBT and builds a signer from it.
func ParsePSBT(raw []byte, opts ...Option) (*Signer, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, sigerr.New(sigerr.KindDeserialization, "psbt", err)
	}

	return FromPSBT(packet, opts...)
}

// ParsePSBTBase64 decodes a base64 PSBT and builds a signer from it.
func ParsePSBTBase64(b64 string, opts ...Option) (*Signer, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return nil, sigerr.New(sigerr.KindDeserialization, "psbt", err)
	}

	return FromPSBT(packet, opts...)
}

// FromPSBT builds a signer from a packet. The scripts, public keys and paths
// the packet carries are resolved before the configured feed is consulted,
// and remain available to later resolution and signing through the signer's
// feed. Partial signatures are checked before they are accepted.
func FromPSBT(packet *psbt.Packet, opts ...Option) (*Signer, error) {
	s, err := fromPSBT(packet, opts...)
	if err != nil {
		return nil, sigerr.New(sigerr.KindDeserialization, "psbt", err)
	}

	return s, nil
}

// fromPSBT does the work of FromPSBT.
func fromPSBT(packet *psbt.Packet, opts ...Option) (*Signer, error) {
	if packet == nil || packet.UnsignedTx == nil {
		return nil, fmt.Errorf("%w: no unsigned transaction",
			ErrPSBTShape)
	}

	tx := packet.UnsignedTx
	if len(packet.Inputs) != len(tx.TxIn) ||
		len(packet.Outputs) != len(tx.TxOut) {

		return nil, fmt.Errorf("%w: %d/%d inputs, %d/%d outputs",
			ErrPSBTShape, len(packet.Inputs), len(tx.TxIn),
			len(packet.Outputs), len(tx.TxOut))
	}

	s := New(opts...)
	s.version = tx.Version
	s.lockTime = tx.LockTime

	local := resolver.NewMemFeed()
	s.feed = newFeedChain(local, s.feed)

	for _, u := range packet.Unknowns {
		if len(u.Key) != 1 || u.Key[0] != psbtGlobalVersion {
			continue
		}
		if len(u.Value) != 4 || binary.LittleEndian.Uint32(u.Value) != 0 {
			return nil, fmt.Errorf("%w: %x", ErrPSBTVersion, u.Value)
		}
	}
	s.proprietary = fromPSBTUnknowns(packet.Unknowns)

	for _, x := range packet.XPubs {
		key, err := psbt.DecodeExtendedKey(x.ExtendedKey)
		if err != nil {
			return nil, err
		}
		root, err := NewBIP32Root(
			key.String(), x.MasterKeyFingerprint, x.Bip32Path,
			s.params,
		)
		if err != nil {
			return nil, err
		}
		s.AddBIP32Root(root)
	}

	for i, txIn := range tx.TxIn {
		sp, err := s.spenderFromPSBT(txIn, &packet.Inputs[i], local)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if s.spenderIndex(sp.outPoint) >= 0 {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateSpender,
				sp.outPoint)
		}
		s.spenders = append(s.spenders, sp)
	}

	recipients, err := s.addTxOuts(tx.TxOut)
	if err != nil {
		return nil, err
	}
	for i, r := range recipients {
		out := &packet.Outputs[i]
		r.RedeemScript = cloneBytes(out.RedeemScript)
		r.WitnessScript = cloneBytes(out.WitnessScript)
		for _, d := range out.Bip32Derivation {
			r.Paths[hex.EncodeToString(d.PubKey)] = resolver.BIP32Path{
				Fingerprint: d.MasterKeyFingerprint,
				Path:        append([]uint32(nil), d.Bip32Path...),
			}
		}
		r.Proprietary = fromPSBTUnknowns(out.Unknowns)
	}

	s.ResolvePublicData()

	view := s.view()
	for i, sp := range s.spenders {
		partial := packet.Inputs[i].PartialSigs
		if len(partial) == 0 || sp.IsSigned() {
			continue
		}
		if !sp.IsResolved() {
			return nil, fmt.Errorf("input %d: %w: %d partial "+
				"signatures", i, ErrUnresolved, len(partial))
		}

		ctx := s.sigContext(i, view)
		for _, ps := range partial {
			err := sp.InjectSignature(
				ctx, ps.PubKey, ps.Signature, sp.IsSegWit(),
			)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
		}
	}

	return s, nil
}

// spenderFromPSBT builds the spender of one input map. The public data of
// the map is recorded in local for resolution.
func (s *Signer) spenderFromPSBT(txIn *wire.TxIn, in *psbt.PInput,
	local *resolver.MemFeed) (*ScriptSpender, error) {

	op := txIn.PreviousOutPoint
	sp := NewOutPointSpender(op, WithSequence(txIn.Sequence))
	if in.SighashType != 0 {
		sp.hashType = in.SighashType
	}

	if in.NonWitnessUtxo != nil {
		if in.NonWitnessUtxo.TxHash() != op.Hash {
			return nil, fmt.Errorf("%w: non-witness utxo %v",
				ErrUTXOMismatch, in.NonWitnessUtxo.TxHash())
		}
		s.AddSupportingTx(in.NonWitnessUtxo)

		utxo, err := UTXOFromTx(in.NonWitnessUtxo, op.Index)
		if err != nil {
			return nil, err
		}
		if err := sp.SetUTXO(utxo); err != nil {
			return nil, err
		}
	}
	if in.WitnessUtxo != nil {
		utxo := NewUTXO(
			op, btcutil.Amount(in.WitnessUtxo.Value),
			in.WitnessUtxo.PkScript,
		)
		if err := sp.SetUTXO(utxo); err != nil {
			return nil, err
		}
	}
	if sp.utxo.IsSome() {
		pkScript := sp.utxo.UnwrapOr(UTXO{}).PkScript
		sp.isP2SH = stdscript.IsPayToScriptHash(pkScript)
	}

	if len(in.RedeemScript) > 0 {
		local.AddScript(in.RedeemScript)
	}
	if len(in.WitnessScript) > 0 {
		local.AddScript(in.WitnessScript)
	}
	for _, ps := range in.PartialSigs {
		local.AddPubKey(ps.PubKey)
	}
	for _, d := range in.Bip32Derivation {
		path := resolver.BIP32Path{
			Fingerprint: d.MasterKeyFingerprint,
			Path:        d.Bip32Path,
		}
		local.AddPubKey(d.PubKey)
		local.AddPath(d.PubKey, path)
		sp.AddPath(d.PubKey, path)
	}
	sp.proprietary = fromPSBTUnknowns(in.Unknowns)

	if len(in.FinalScriptSig) == 0 && len(in.FinalScriptWitness) == 0 {
		return sp, nil
	}

	var witness wire.TxWitness
	if len(in.FinalScriptWitness) > 0 {
		var err error
		witness, err = parseWitness(in.FinalScriptWitness)
		if err != nil {
			return nil, err
		}
	}
	if err := sp.adoptFinal(in.FinalScriptSig, witness); err != nil {
		return nil, err
	}

	return sp, nil
}

// parseWitness decodes a serialized witness stack.
func parseWitness(raw []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(raw)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	// Every element takes at least its length byte.
	if count > uint64(r.Len()) {
		return nil, fmt.Errorf("witness of %d elements in %d bytes",
			count, r.Len())
	}

	witness := make(wire.TxWitness, count)
	for i := range witness {
		witness[i], err = wire.ReadVarBytes(
			r, 0, wire.MaxBlockPayload, "witness element",
		)
		if err != nil {
			return nil, err
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing witness bytes", r.Len())
	}

	return witness, nil
}
