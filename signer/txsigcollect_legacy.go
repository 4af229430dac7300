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
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/internal/stdscript"
	"github.com/btcsuite/btcsigner/resolver"
	"github.com/lightningnetwork/lnd/tlv"
)

// Types of the extension stream closing every version 1 input. All types are
// odd, so readers skip the ones they do not know.
const (
	legacyWitnessScriptType tlv.Type = 1
	legacyValueType         tlv.Type = 3
	legacyPkScriptType      tlv.Type = 5
	legacyScriptSigType     tlv.Type = 7
	legacyWitnessType       tlv.Type = 9
)

// maxLegacyCount bounds the element counts read from a version 1 payload.
const maxLegacyCount = wire.MaxBlockPayload / wire.MinTxOutPayload

// ErrNetworkMismatch is returned for a version 1 payload of another network.
var ErrNetworkMismatch = errors.New("txsigcollect network mismatch")

// legacySig is a signature carried by a version 1 input, along with the
// derivation path of its key when known.
type legacySig struct {
	pubKey  []byte
	sig     []byte
	locator []byte
}

// legacyExt holds the extension records of a version 1 input.
type legacyExt struct {
	witnessScript []byte
	value         uint64
	pkScript      []byte
	scriptSig     []byte
	witness       []byte
}

// records returns the records of the extension. With all set, every record
// is returned, which is what decoding needs; otherwise only the records
// holding data.
func (e *legacyExt) records(all bool) []tlv.Record {
	var records []tlv.Record
	if all || len(e.witnessScript) > 0 {
		records = append(records, tlv.MakePrimitiveRecord(
			legacyWitnessScriptType, &e.witnessScript,
		))
	}
	if all || len(e.pkScript) > 0 {
		records = append(records, tlv.MakePrimitiveRecord(
			legacyValueType, &e.value,
		))
	}
	if all || len(e.pkScript) > 0 {
		records = append(records, tlv.MakePrimitiveRecord(
			legacyPkScriptType, &e.pkScript,
		))
	}
	if all || len(e.scriptSig) > 0 {
		records = append(records, tlv.MakePrimitiveRecord(
			legacyScriptSigType, &e.scriptSig,
		))
	}
	if all || len(e.witness) > 0 {
		records = append(records, tlv.MakePrimitiveRecord(
			legacyWitnessType, &e.witness,
		))
	}

	return records
}

// encodeLegacy writes the version 1 payload of s. The payload carries the
// transaction, supporting transactions, redeem and witness scripts and the
// signatures collected so far, keyed by public key.
func encodeLegacy(s *Signer) ([]byte, error) {
	var buf bytes.Buffer
	w := &buf

	header := []interface{}{
		TxSigCollectLegacyVersion, uint32(s.params.Net), s.version,
		s.lockTime,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}

	err := wire.WriteVarInt(w, 0, uint64(len(s.spenders)))
	if err != nil {
		return nil, err
	}
	for i, sp := range s.spenders {
		if err := s.encodeLegacyInput(w, sp); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	outputs := s.recipients.All()
	if err := wire.WriteVarInt(w, 0, uint64(len(outputs))); err != nil {
		return nil, err
	}
	for _, r := range outputs {
		err := binary.Write(w, binary.LittleEndian, int64(r.Value))
		if err != nil {
			return nil, err
		}
		if err := wire.WriteVarBytes(w, 0, r.PkScript); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// encodeLegacyInput writes one version 1 input.
func (s *Signer) encodeLegacyInput(w io.Writer, sp *ScriptSpender) error {
	if _, err := w.Write(sp.OutPointRef()); err != nil {
		return err
	}

	var supporting []byte
	if tx, err := s.supportingTx(sp.outPoint.Hash); err == nil {
		var buf bytes.Buffer
		if err := tx.Serialize(&buf); err != nil {
			return err
		}
		supporting = buf.Bytes()
	}
	if err := wire.WriteVarBytes(w, 0, supporting); err != nil {
		return err
	}

	redeemScript := legScript(&sp.legacy)
	if sp.isP2SH && len(redeemScript) > 0 {
		if _, err := w.Write([]byte{1}); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, 0, redeemScript); err != nil {
			return err
		}
	} else if _, err := w.Write([]byte{0}); err != nil {
		return err
	}

	sigs := sp.Signatures()
	if err := wire.WriteVarInt(w, 0, uint64(len(sigs))); err != nil {
		return err
	}
	for _, key := range sortedKeys(sigs) {
		pubKey, _ := hex.DecodeString(key)

		var locator []byte
		if path, ok := sp.paths[key]; ok {
			locator = psbt.SerializeBIP32Derivation(
				path.Fingerprint, path.Path,
			)
		}

		for _, field := range [][]byte{pubKey, sigs[key], locator} {
			if err := wire.WriteVarBytes(w, 0, field); err != nil {
				return err
			}
		}
	}

	err := binary.Write(w, binary.LittleEndian, sp.sequence)
	if err != nil {
		return err
	}

	ext, err := sp.legacyExt()
	if err != nil {
		return err
	}
	stream, err := tlv.NewStream(ext.records(false)...)
	if err != nil {
		return err
	}
	var extBuf bytes.Buffer
	if err := stream.Encode(&extBuf); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, extBuf.Bytes())
}

// legacyExt collects the extension records of the spender.
func (s *ScriptSpender) legacyExt() (*legacyExt, error) {
	ext := &legacyExt{witnessScript: legScript(&s.witness)}
	if s.utxo.IsSome() {
		utxo := s.utxo.UnwrapOr(UTXO{})
		ext.value = uint64(utxo.Value)
		ext.pkScript = cloneBytes(utxo.PkScript)
	}

	if !s.IsSigned() {
		return ext, nil
	}

	scriptSig, err := s.ScriptSig()
	if err != nil {
		return nil, err
	}
	ext.scriptSig = scriptSig

	witness, err := s.Witness()
	if err != nil {
		return nil, err
	}
	if len(witness) > 0 {
		var buf bytes.Buffer
		if err := psbt.WriteTxWitness(&buf, witness); err != nil {
			return nil, err
		}
		ext.witness = buf.Bytes()
	}

	return ext, nil
}

// decodeLegacy rebuilds a signer from a version 1 payload. The scripts and
// keys it carries are resolved before the configured feed is consulted, and
// every signature is checked before it is accepted.
func decodeLegacy(payload []byte, opts ...Option) (*Signer, error) {
	r := bytes.NewReader(payload)

	var (
		version, net, lockTime uint32
		txVersion              int32
	)
	for _, v := range []interface{}{&version, &net, &txVersion, &lockTime} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	if version != TxSigCollectLegacyVersion {
		return nil, fmt.Errorf("%w: %d", ErrTxSigCollectVersion,
			version)
	}

	s := New(opts...)
	if wire.BitcoinNet(net) != s.params.Net {
		return nil, fmt.Errorf("%w: %v, want %v", ErrNetworkMismatch,
			wire.BitcoinNet(net), s.params.Net)
	}
	s.version = txVersion
	s.lockTime = lockTime

	local := resolver.NewMemFeed()
	s.feed = newFeedChain(local, s.feed)

	count, err := readLegacyCount(r, "inputs")
	if err != nil {
		return nil, err
	}
	sigs := make([][]legacySig, count)
	for i := range sigs {
		var sp *ScriptSpender
		sp, sigs[i], err = s.decodeLegacyInput(r, local)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if s.spenderIndex(sp.outPoint) >= 0 {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateSpender,
				sp.outPoint)
		}
		s.spenders = append(s.spenders, sp)
	}

	count, err = readLegacyCount(r, "outputs")
	if err != nil {
		return nil, err
	}
	txOuts := make([]*wire.TxOut, count)
	for i := range txOuts {
		var value int64
		if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
			return nil, err
		}
		pkScript, err := wire.ReadVarBytes(
			r, 0, wire.MaxBlockPayload, "output script",
		)
		if err != nil {
			return nil, err
		}
		txOuts[i] = wire.NewTxOut(value, pkScript)
	}
	if _, err := s.addTxOuts(txOuts); err != nil {
		return nil, err
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes",
			ErrTxSigCollectFormat, r.Len())
	}

	s.ResolvePublicData()

	view := s.view()
	for i, sp := range s.spenders {
		if len(sigs[i]) == 0 || sp.IsSigned() {
			continue
		}
		if !sp.IsResolved() {
			return nil, fmt.Errorf("input %d: %w: %d signatures", i,
				ErrUnresolved, len(sigs[i]))
		}

		ctx := s.sigContext(i, view)
		for _, ls := range sigs[i] {
			err := sp.InjectSignature(
				ctx, ls.pubKey, ls.sig, sp.IsSegWit(),
			)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
		}
	}

	return s, nil
}

// readLegacyCount reads an element count.
func readLegacyCount(r io.Reader, what string) (uint64, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, err
	}
	if count > maxLegacyCount {
		return 0, fmt.Errorf("%w: %d %s", ErrTxSigCollectFormat, count,
			what)
	}

	return count, nil
}

// decodeLegacyInput reads one version 1 input. Its public data is recorded
// in local for resolution; the signatures are returned for injection once
// the spender is resolved.
func (s *Signer) decodeLegacyInput(r io.Reader,
	local *resolver.MemFeed) (*ScriptSpender, []legacySig, error) {

	ref := make([]byte, OutPointRefLen)
	if _, err := io.ReadFull(r, ref); err != nil {
		return nil, nil, err
	}
	op, err := parseOutPointRef(ref)
	if err != nil {
		return nil, nil, err
	}

	supporting, err := wire.ReadVarBytes(
		r, 0, wire.MaxBlockPayload, "supporting tx",
	)
	if err != nil {
		return nil, nil, err
	}
	if len(supporting) > 0 {
		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(supporting)); err != nil {
			return nil, nil, err
		}
		if tx.TxHash() != op.Hash {
			return nil, nil, fmt.Errorf("%w: supporting tx %v",
				ErrUTXOMismatch, tx.TxHash())
		}
		s.AddSupportingTx(tx)
	}

	var p2sh [1]byte
	if _, err := io.ReadFull(r, p2sh[:]); err != nil {
		return nil, nil, err
	}
	var redeemScript []byte
	switch p2sh[0] {
	case 0:
	case 1:
		redeemScript, err = wire.ReadVarBytes(
			r, 0, txscript.MaxScriptSize, "redeem script",
		)
		if err != nil {
			return nil, nil, err
		}
		local.AddScript(redeemScript)

	default:
		return nil, nil, fmt.Errorf("%w: p2sh flag %d",
			ErrTxSigCollectFormat, p2sh[0])
	}

	count, err := readLegacyCount(r, "signatures")
	if err != nil {
		return nil, nil, err
	}
	sigs := make([]legacySig, count)
	paths := make(map[string]resolver.BIP32Path)
	for i := range sigs {
		fields := make([][]byte, 3)
		for j := range fields {
			fields[j], err = wire.ReadVarBytes(
				r, 0, txscript.MaxScriptSize, "signature",
			)
			if err != nil {
				return nil, nil, err
			}
		}
		sigs[i] = legacySig{
			pubKey: fields[0], sig: fields[1], locator: fields[2],
		}
		local.AddPubKey(fields[0])

		if len(fields[2]) == 0 {
			continue
		}
		fingerprint, path, err := psbt.ReadBip32Derivation(fields[2])
		if err != nil {
			return nil, nil, err
		}
		bip32Path := resolver.BIP32Path{
			Fingerprint: fingerprint, Path: path,
		}
		local.AddPath(fields[0], bip32Path)
		paths[hex.EncodeToString(fields[0])] = bip32Path
	}

	var sequence uint32
	if err := binary.Read(r, binary.LittleEndian, &sequence); err != nil {
		return nil, nil, err
	}

	rawExt, err := wire.ReadVarBytes(
		r, 0, wire.MaxBlockPayload, "input extension",
	)
	if err != nil {
		return nil, nil, err
	}
	ext := &legacyExt{}
	stream, err := tlv.NewStream(ext.records(true)...)
	if err != nil {
		return nil, nil, err
	}
	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(rawExt))
	if err != nil {
		return nil, nil, err
	}

	sp := NewOutPointSpender(op, WithSequence(sequence))
	sp.mergePaths(paths)

	if _, ok := parsed[legacyWitnessScriptType]; ok {
		local.AddScript(ext.witnessScript)
	}

	// Without an explicit locking script we fall back to the one implied
	// by the redeem or witness script. A supporting transaction, if any,
	// must agree with it.
	pkScript := ext.pkScript
	switch {
	case len(pkScript) > 0:

	case len(redeemScript) > 0:
		pkScript, err = scriptHashPkScript(redeemScript)

	case len(ext.witnessScript) > 0:
		pkScript, err = witnessScriptHashPkScript(ext.witnessScript)
	}
	if err != nil {
		return nil, nil, err
	}

	_, hasValue := parsed[legacyValueType]
	if hasValue && len(pkScript) > 0 {
		utxo := NewUTXO(op, btcutil.Amount(ext.value), pkScript)
		if err := sp.SetUTXO(utxo); err != nil {
			return nil, nil, err
		}
	}
	if len(supporting) > 0 {
		tx, err := s.supportingTx(op.Hash)
		if err != nil {
			return nil, nil, err
		}
		utxo, err := UTXOFromTx(tx, op.Index)
		if err != nil {
			return nil, nil, err
		}
		if err := sp.SetUTXO(utxo); err != nil {
			return nil, nil, err
		}
	}
	if sp.utxo.IsSome() {
		pkScript := sp.utxo.UnwrapOr(UTXO{}).PkScript
		sp.isP2SH = stdscript.IsPayToScriptHash(pkScript)
	}

	if len(ext.scriptSig) == 0 && len(ext.witness) == 0 {
		return sp, sigs, nil
	}

	var witness wire.TxWitness
	if len(ext.witness) > 0 {
		witness, err = parseWitness(ext.witness)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := sp.adoptFinal(ext.scriptSig, witness); err != nil {
		return nil, nil, err
	}

	return sp, sigs, nil
}

// scriptHashPkScript returns the P2SH locking script of redeemScript.
func scriptHashPkScript(redeemScript []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// witnessScriptHashPkScript returns the P2WSH locking script of
// witnessScript.
func witnessScriptHashPkScript(witnessScript []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(chainhash.HashB(witnessScript)).
		Script()
}
