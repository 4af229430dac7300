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

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/interpreter"
	"github.com/btcsuite/btcsigner/internal/stdscript"
	"github.com/btcsuite/btcsigner/resolver"
	"github.com/btcsuite/btcsigner/sigerr"
	"github.com/btcsuite/btcsigner/sighash"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// OutPointRefLen is the length of a raw outpoint reference: the 32 byte
// transaction hash followed by the little endian output index.
const OutPointRefLen = chainhash.HashSize + 4

var (
	// ErrSequenceMismatch is returned when merging spenders that disagree
	// on the input sequence.
	ErrSequenceMismatch = errors.New("sequence mismatch")

	// ErrOutPointMismatch is returned when merging spenders of different
	// outpoints.
	ErrOutPointMismatch = errors.New("outpoint mismatch")

	// ErrLegSigned is returned when injecting a signature into a stack
	// that has already been finalized.
	ErrLegSigned = errors.New("stack already signed")

	// ErrLegUnresolved is returned when injecting a signature into a stack
	// that has not been resolved, or that is absent.
	ErrLegUnresolved = errors.New("stack not resolved")

	// ErrUnknownPubKey is returned when no signature placeholder of the
	// stack references the public key.
	ErrUnknownPubKey = errors.New("no signature slot for public key")

	// ErrInvalidSignature is returned for a signature that does not
	// verify against the input's sighash.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrStateRegression is returned when an operation would move a stack
	// back to an earlier state.
	ErrStateRegression = errors.New("spender state would regress")

	// ErrMergeConflict is returned when two spenders carry incompatible
	// entries for the same placeholder.
	ErrMergeConflict = errors.New("conflicting stack entries")

	// ErrNotSigned is returned when finalized data is requested from a
	// spender that is not signed.
	ErrNotSigned = errors.New("spender not signed")

	// ErrUnknownItem is returned for a stack item the spender cannot
	// serialize.
	ErrUnknownItem = errors.New("unknown stack item")

	// ErrBadOutPointRef is returned for a raw outpoint reference of the
	// wrong length.
	ErrBadOutPointRef = errors.New("malformed outpoint reference")
)

// SpenderStatus is the state of one leg, legacy or witness, of a spender.
type SpenderStatus uint8

const (
	// StatusUnknown means the leg has not been resolved.
	StatusUnknown SpenderStatus = iota

	// StatusEmpty means the leg is intentionally absent, e.g. the legacy
	// leg of a native witness input.
	StatusEmpty

	// StatusResolved means the public data of the leg is known but no
	// signature has been collected.
	StatusResolved

	// StatusPartiallySigned means some but not all signatures have been
	// collected.
	StatusPartiallySigned

	// StatusSigned means the leg has been finalized into script or
	// witness bytes.
	StatusSigned
)

// String returns the SpenderStatus as a human-readable name.
func (s SpenderStatus) String() string {
	switch s {
	case StatusUnknown:
		return "Unknown"
	case StatusEmpty:
		return "Empty"
	case StatusResolved:
		return "Resolved"
	case StatusPartiallySigned:
		return "PartiallySigned"
	case StatusSigned:
		return "Signed"
	default:
		return fmt.Sprintf("SpenderStatus(%d)", uint8(s))
	}
}

// rank orders the states. Empty and Resolved share a rank.
func (s SpenderStatus) rank() int {
	switch s {
	case StatusEmpty, StatusResolved:
		return 1
	case StatusPartiallySigned:
		return 2
	case StatusSigned:
		return 3
	default:
		return 0
	}
}

// SigContext is what a spender needs to compute and check the sighash of its
// input: the transaction, the input index and the BIP143 cache shared by the
// inputs of the transaction.
type SigContext struct {
	Tx     sighash.TxView
	Index  int
	SegWit *sighash.SegWit

	// Flags are the interpreter flags finalized unlocking data is
	// checked with. The zero value selects interpreter.StandardFlags.
	Flags interpreter.Flags
}

// engine returns an interpreter engine over the transaction of the context.
func (c SigContext) engine() *interpreter.Engine {
	flags := c.Flags
	if flags == 0 {
		flags = interpreter.StandardFlags
	}

	return interpreter.NewEngine(c.Tx, flags, c.SegWit)
}

// digest returns the sighash of the input for subScript.
func (c SigContext) digest(hashType txscript.SigHashType, subScript []byte,
	isWitness bool) ([]byte, error) {

	if c.Tx == nil {
		return nil, fmt.Errorf("%w: no transaction context",
			ErrInvalidSignature)
	}

	if isWitness {
		segwit := c.SegWit
		if segwit == nil {
			segwit = sighash.NewSegWit()
		}

		return segwit.SigHash(hashType, c.Tx, subScript, c.Index)
	}

	return sighash.Legacy{}.SigHash(hashType, c.Tx, subScript, c.Index)
}

// verify checks sig, a DER signature followed by its sighash type byte,
// against pubKey.
func (c SigContext) verify(pubKey, sig, subScript []byte,
	isWitness bool) error {

	if len(sig) < 2 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(sig))
	}

	hashType := txscript.SigHashType(sig[len(sig)-1])
	signature, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	digest, err := c.digest(hashType, subScript, isWitness)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if !signature.Verify(digest, key) {
		return fmt.Errorf("%w: key %x", ErrInvalidSignature, pubKey)
	}

	return nil
}

// leg is one of the two unlocking paths of an input. Until the leg is
// signed its placeholders live in items; afterwards only the finalized
// script (legacy) or witness is kept.
type leg struct {
	status  SpenderStatus
	items   map[uint32]resolver.StackItem
	script  []byte
	witness wire.TxWitness
}

// clone returns a deep copy of the leg.
func (l *leg) clone() leg {
	c := leg{
		status:  l.status,
		script:  cloneBytes(l.script),
		witness: cloneWitness(l.witness),
	}
	if l.items != nil {
		c.items = make(map[uint32]resolver.StackItem, len(l.items))
		for id, item := range l.items {
			c.items[id] = item.Clone()
		}
	}

	return c
}

// sorted returns the items in ascending id order.
func (l *leg) sorted() []resolver.StackItem {
	items := make([]resolver.StackItem, 0, len(l.items))
	for _, item := range l.items {
		items = append(items, item)
	}
	resolver.SortItems(items)

	return items
}

// sigSlots returns the number of signature placeholders of the leg.
func (l *leg) sigSlots() int {
	var n int
	for _, item := range l.items {
		switch item.(type) {
		case *resolver.Sig, *resolver.MultiSig:
			n++
		}
	}

	return n
}

// SpenderOption configures a ScriptSpender.
type SpenderOption func(*ScriptSpender)

// WithSequence sets the input sequence number.
func WithSequence(sequence uint32) SpenderOption {
	return func(s *ScriptSpender) {
		s.sequence = sequence
	}
}

// WithSigHashType sets the sighash type used for the signatures of the
// input.
func WithSigHashType(hashType txscript.SigHashType) SpenderOption {
	return func(s *ScriptSpender) {
		s.hashType = hashType
	}
}

// ScriptSpender tracks the resolution and signing of one input.
//
// NOTE: A spender is owned by a single Signer and is not safe for concurrent
// use.
type ScriptSpender struct {
	outPoint wire.OutPoint
	utxo     fn.Option[UTXO]
	sequence uint32
	hashType txscript.SigHashType

	isP2SH  bool
	hasCSV  bool
	hasCLTV bool

	legacy  leg
	witness leg

	paths map[string]resolver.BIP32Path

	proprietary []KeyValue
}

// NewSpender returns a spender of utxo.
func NewSpender(utxo UTXO, opts ...SpenderOption) *ScriptSpender {
	s := NewOutPointSpender(utxo.OutPoint, opts...)
	s.utxo = fn.Some(NewUTXO(utxo.OutPoint, utxo.Value, utxo.PkScript))

	return s
}

// NewOutPointSpender returns a spender of op whose UTXO is not known yet. It
// can be attached later with SetUTXO or derived from a supporting
// transaction.
func NewOutPointSpender(op wire.OutPoint,
	opts ...SpenderOption) *ScriptSpender {

	s := &ScriptSpender{
		outPoint: op,
		utxo:     fn.None[UTXO](),
		sequence: wire.MaxTxInSequenceNum,
		hashType: txscript.SigHashAll,
		paths:    make(map[string]resolver.BIP32Path),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewRefSpender returns a spender from a raw 36 byte outpoint reference.
func NewRefSpender(ref []byte, opts ...SpenderOption) (*ScriptSpender,
	error) {

	op, err := parseOutPointRef(ref)
	if err != nil {
		return nil, err
	}

	return NewOutPointSpender(op, opts...), nil
}

// parseOutPointRef decodes a raw outpoint reference.
func parseOutPointRef(ref []byte) (wire.OutPoint, error) {
	if len(ref) != OutPointRefLen {
		return wire.OutPoint{}, fmt.Errorf("%w: %d bytes",
			ErrBadOutPointRef, len(ref))
	}

	hash, err := chainhash.NewHash(ref[:chainhash.HashSize])
	if err != nil {
		return wire.OutPoint{}, err
	}
	index := binary.LittleEndian.Uint32(ref[chainhash.HashSize:])

	return wire.OutPoint{Hash: *hash, Index: index}, nil
}

// OutPointRef returns the raw 36 byte reference of the spent outpoint.
func (s *ScriptSpender) OutPointRef() []byte {
	ref := make([]byte, OutPointRefLen)
	copy(ref, s.outPoint.Hash[:])
	binary.LittleEndian.PutUint32(ref[chainhash.HashSize:], s.outPoint.Index)

	return ref
}

// OutPoint returns the spent outpoint.
func (s *ScriptSpender) OutPoint() wire.OutPoint {
	return s.outPoint
}

// Sequence returns the input sequence number.
func (s *ScriptSpender) Sequence() uint32 {
	return s.sequence
}

// SigHashType returns the sighash type of the input's signatures.
func (s *ScriptSpender) SigHashType() txscript.SigHashType {
	return s.hashType
}

// UTXO returns the spent output, if known.
func (s *ScriptSpender) UTXO() fn.Option[UTXO] {
	return s.utxo
}

// SetUTXO attaches the spent output. It must match the spender's outpoint
// and any UTXO already attached.
func (s *ScriptSpender) SetUTXO(utxo UTXO) error {
	if utxo.OutPoint != s.outPoint {
		return fmt.Errorf("%w: %v != %v", ErrUTXOMismatch,
			utxo.OutPoint, s.outPoint)
	}

	if s.utxo.IsSome() {
		existing := s.utxo.UnwrapOr(UTXO{})
		if !existing.Equal(utxo) {
			return fmt.Errorf("%w: %v", ErrUTXOMismatch, s.outPoint)
		}

		return nil
	}
	s.utxo = fn.Some(NewUTXO(utxo.OutPoint, utxo.Value, utxo.PkScript))

	return nil
}

// IsP2SH returns whether the spent output is a P2SH output.
func (s *ScriptSpender) IsP2SH() bool {
	return s.isP2SH
}

// HasCSV returns whether the resolved scripts use CHECKSEQUENCEVERIFY.
func (s *ScriptSpender) HasCSV() bool {
	return s.hasCSV
}

// HasCLTV returns whether the resolved scripts use CHECKLOCKTIMEVERIFY.
func (s *ScriptSpender) HasCLTV() bool {
	return s.hasCLTV
}

// IsSegWit returns whether the input is spent with witness data.
func (s *ScriptSpender) IsSegWit() bool {
	return s.witness.status != StatusUnknown &&
		s.witness.status != StatusEmpty
}

// LegacyStatus returns the state of the legacy leg.
func (s *ScriptSpender) LegacyStatus() SpenderStatus {
	return s.legacy.status
}

// SegWitStatus returns the state of the witness leg.
func (s *ScriptSpender) SegWitStatus() SpenderStatus {
	return s.witness.status
}

// IsResolved returns whether both legs have been resolved.
func (s *ScriptSpender) IsResolved() bool {
	return s.legacy.status != StatusUnknown &&
		s.witness.status != StatusUnknown
}

// IsSigned returns whether the input is fully signed: either the witness leg
// is signed and the legacy leg carries no signatures, or the legacy leg is
// signed and there is no witness.
func (s *ScriptSpender) IsSigned() bool {
	legacy, witness := s.legacy.status, s.witness.status

	switch {
	case witness == StatusSigned:
		return legacy == StatusEmpty || legacy == StatusResolved

	case legacy == StatusSigned:
		return witness == StatusEmpty

	default:
		return false
	}
}

// LegacyItems returns a copy of the unsigned placeholders of the legacy leg.
func (s *ScriptSpender) LegacyItems() []resolver.StackItem {
	return resolver.CloneItems(s.legacy.sorted())
}

// WitnessItems returns a copy of the unsigned placeholders of the witness
// leg.
func (s *ScriptSpender) WitnessItems() []resolver.StackItem {
	return resolver.CloneItems(s.witness.sorted())
}

// Paths returns the known derivation paths keyed by hex public key.
func (s *ScriptSpender) Paths() map[string]resolver.BIP32Path {
	paths := make(map[string]resolver.BIP32Path, len(s.paths))
	for k, p := range s.paths {
		paths[k] = p.Clone()
	}

	return paths
}

// AddPath records the derivation path of a public key.
func (s *ScriptSpender) AddPath(pubKey []byte, path resolver.BIP32Path) {
	s.paths[hex.EncodeToString(pubKey)] = path.Clone()
}

// Proprietary returns the 0xfc records carried for the input's PSBT map.
func (s *ScriptSpender) Proprietary() []KeyValue {
	return mergeKeyValues(nil, s.proprietary)
}

// AddProprietary records a proprietary key/value pair. A key already present
// keeps its value.
func (s *ScriptSpender) AddProprietary(kv KeyValue) {
	s.proprietary = mergeKeyValues(s.proprietary, []KeyValue{kv})
}

// PubKeys returns the public keys referenced by the unsigned placeholders of
// both legs.
func (s *ScriptSpender) PubKeys() [][]byte {
	var keys [][]byte
	for _, l := range []*leg{&s.legacy, &s.witness} {
		for _, item := range l.sorted() {
			switch it := item.(type) {
			case *resolver.Sig:
				keys = append(keys, it.PubKey)
			case *resolver.MultiSig:
				keys = append(keys, it.PubKeys...)
			}
		}
	}

	return keys
}

// Clone returns a deep copy of the spender.
func (s *ScriptSpender) Clone() *ScriptSpender {
	c := &ScriptSpender{
		outPoint: s.outPoint,
		utxo:     s.utxo,
		sequence: s.sequence,
		hashType: s.hashType,
		isP2SH:   s.isP2SH,
		hasCSV:   s.hasCSV,
		hasCLTV:  s.hasCLTV,
		legacy:   s.legacy.clone(),
		witness:  s.witness.clone(),
		paths:    s.Paths(),
	}
	c.proprietary = mergeKeyValues(nil, s.proprietary)
	if s.utxo.IsSome() {
		u := s.utxo.UnwrapOr(UTXO{})
		c.utxo = fn.Some(NewUTXO(u.OutPoint, u.Value, u.PkScript))
	}

	return c
}

// leg returns the witness or the legacy leg.
func (s *ScriptSpender) leg(isWitness bool) *leg {
	if isWitness {
		return &s.witness
	}

	return &s.legacy
}

// applyResolution fills the unresolved legs from a resolved stack. Legs that
// are already resolved keep their state, which makes resolving twice a
// no-op.
func (s *ScriptSpender) applyResolution(rs *resolver.ResolvedStack) error {
	s.isP2SH = s.isP2SH || rs.IsP2SH
	s.hasCSV = s.hasCSV || rs.HasCSV
	s.hasCLTV = s.hasCLTV || rs.HasCLTV
	s.mergePaths(rs.Paths)

	if s.legacy.status == StatusUnknown {
		s.legacy.setItems(rs.Items)
	}

	if rs.Witness != nil {
		s.hasCSV = s.hasCSV || rs.Witness.HasCSV
		s.hasCLTV = s.hasCLTV || rs.Witness.HasCLTV
		s.mergePaths(rs.Witness.Paths)

		if s.witness.status == StatusUnknown {
			s.witness.setItems(rs.Witness.Items)
		}
	} else if s.witness.status == StatusUnknown {
		s.witness.status = StatusEmpty
	}

	return s.processStacks()
}

// setItems installs resolved placeholders into an unresolved leg.
func (l *leg) setItems(items []resolver.StackItem) {
	if len(items) == 0 {
		l.status = StatusEmpty
		return
	}

	l.items = make(map[uint32]resolver.StackItem, len(items))
	for _, item := range items {
		l.items[item.ID()] = item.Clone()
	}
	l.status = StatusResolved
}

// mergePaths records the paths not known yet.
func (s *ScriptSpender) mergePaths(paths map[string]resolver.BIP32Path) {
	for k, p := range paths {
		if _, ok := s.paths[k]; !ok {
			s.paths[k] = p.Clone()
		}
	}
}

// processStacks re-evaluates the state of both legs from their
// placeholders, finalizing any leg whose signatures are complete.
func (s *ScriptSpender) processStacks() error {
	if err := s.processLeg(&s.legacy, false); err != nil {
		return err
	}

	return s.processLeg(&s.witness, true)
}

// processLeg re-evaluates a single leg.
func (s *ScriptSpender) processLeg(l *leg, isWitness bool) error {
	switch l.status {
	case StatusUnknown, StatusEmpty, StatusSigned:
		return nil
	}

	// A leg without signature slots is complete on its own only when the
	// input has no other leg. The push-only legacy leg of a nested
	// witness input stays resolved.
	other := s.leg(!isWitness)
	bare := other.status == StatusEmpty

	next := evalItems(l.items, bare)
	if next.rank() < l.status.rank() {
		return sigerr.Newf(sigerr.KindSpenderState, ErrStateRegression,
			"%v: %v -> %v", s.outPoint, l.status, next)
	}

	log.Tracef("Input %v %s leg: %v -> %v", s.outPoint, legName(isWitness),
		l.status, next)

	l.status = next
	if next != StatusSigned {
		return nil
	}

	pushes, err := serializeItems(l.sorted(), false)
	if err != nil {
		return err
	}

	if isWitness {
		l.witness = pushes
	} else {
		l.script, err = stdscript.PushData(pushes)
		if err != nil {
			return err
		}
	}
	l.items = nil

	log.Tracef("Input %v %s leg finalized: %v", s.outPoint,
		legName(isWitness), newLogClosure(func() string {
			return spew.Sdump(pushes)
		}))

	return nil
}

// legName names a leg in log messages.
func legName(isWitness bool) string {
	if isWitness {
		return "witness"
	}

	return "legacy"
}

// evalItems derives the state of a leg from its placeholders. Signatures
// are checked when they are injected, so presence means validity here.
func evalItems(items map[uint32]resolver.StackItem,
	bare bool) SpenderStatus {

	var (
		slots, complete int
		partial         bool
	)
	for _, item := range items {
		switch it := item.(type) {
		case *resolver.Sig:
			slots++
			if it.IsSigned() {
				complete++
			}

		case *resolver.MultiSig:
			slots++
			switch {
			case it.IsComplete():
				complete++
			case it.SigCount() > 0:
				partial = true
			}
		}
	}

	switch {
	case slots == 0 && bare:
		return StatusSigned

	case slots == 0:
		return StatusResolved

	case complete == slots:
		return StatusSigned

	case complete > 0 || partial:
		return StatusPartiallySigned

	default:
		return StatusResolved
	}
}

// serializeItems returns the elements pushed by the unlocking data of a leg.
// items are in ascending id order and are pushed in descending id order.
// With partial set, missing signatures are replaced by empty elements so
// that incomplete stacks can still be evaluated.
func serializeItems(items []resolver.StackItem, partial bool) ([][]byte,
	error) {

	pushes := make([][]byte, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		switch it := items[i].(type) {
		case *resolver.PushData:
			pushes = append(pushes, it.Data)

		case *resolver.SerializedScript:
			pushes = append(pushes, it.Script)

		case *resolver.OpCode:
			switch {
			case it.Op == txscript.OP_0:
				pushes = append(pushes, []byte{})

			case it.Op >= txscript.OP_1 && it.Op <= txscript.OP_16:
				pushes = append(pushes,
					[]byte{it.Op - txscript.OP_1 + 1})

			default:
				return nil, fmt.Errorf("%w: opcode %#x",
					ErrUnknownItem, it.Op)
			}

		case *resolver.Sig:
			switch {
			case it.IsSigned():
				pushes = append(pushes, it.Signature)
			case partial:
				pushes = append(pushes, []byte{})
			default:
				return nil, fmt.Errorf("%w: missing signature "+
					"for %x", ErrNotSigned, it.PubKey)
			}

		case *resolver.MultiSig:
			sigs := it.OrderedSigs()
			if len(sigs) < it.M {
				if !partial {
					return nil, fmt.Errorf("%w: %d of %d "+
						"signatures", ErrNotSigned,
						len(sigs), it.M)
				}
				for j := len(sigs); j < it.M; j++ {
					pushes = append(pushes, []byte{})
				}
			}
			pushes = append(pushes, sigs...)

		default:
			return nil, sigerr.Newf(sigerr.KindSpenderState,
				ErrUnknownItem, "%T", it)
		}
	}

	return pushes, nil
}

// ScriptSig returns the scriptSig of the input. A push-only legacy leg with
// no signature slots, such as the redeem script push of a nested witness
// input, is serialized on demand.
func (s *ScriptSpender) ScriptSig() ([]byte, error) {
	switch s.legacy.status {
	case StatusSigned:
		return cloneBytes(s.legacy.script), nil

	case StatusEmpty:
		return nil, nil

	case StatusResolved:
		if s.legacy.sigSlots() != 0 {
			break
		}
		pushes, err := serializeItems(s.legacy.sorted(), false)
		if err != nil {
			return nil, err
		}

		return stdscript.PushData(pushes)
	}

	return nil, sigerr.Newf(sigerr.KindSpenderState, ErrNotSigned,
		"%v: legacy leg %v", s.outPoint, s.legacy.status)
}

// Witness returns the witness of the input.
func (s *ScriptSpender) Witness() (wire.TxWitness, error) {
	switch s.witness.status {
	case StatusSigned:
		return cloneWitness(s.witness.witness), nil

	case StatusEmpty:
		return nil, nil
	}

	return nil, sigerr.Newf(sigerr.KindSpenderState, ErrNotSigned,
		"%v: witness leg %v", s.outPoint, s.witness.status)
}

// partialScriptSig returns the scriptSig with empty elements in place of
// the missing signatures.
func (s *ScriptSpender) partialScriptSig() ([]byte, error) {
	switch s.legacy.status {
	case StatusSigned:
		return cloneBytes(s.legacy.script), nil

	case StatusResolved, StatusPartiallySigned:
		pushes, err := serializeItems(s.legacy.sorted(), true)
		if err != nil {
			return nil, err
		}

		return stdscript.PushData(pushes)
	}

	return nil, nil
}

// partialWitness returns the witness with empty elements in place of the
// missing signatures.
func (s *ScriptSpender) partialWitness() (wire.TxWitness, error) {
	switch s.witness.status {
	case StatusSigned:
		return cloneWitness(s.witness.witness), nil

	case StatusResolved, StatusPartiallySigned:
		return serializeItems(s.witness.sorted(), true)
	}

	return nil, nil
}

// TxIn returns the input. With signed set, the finalized unlocking data is
// required; otherwise the input carries empty scripts.
func (s *ScriptSpender) TxIn(signed bool) (*wire.TxIn, error) {
	op := s.outPoint
	txIn := wire.NewTxIn(&op, nil, nil)
	txIn.Sequence = s.sequence

	if !signed {
		return txIn, nil
	}

	if !s.IsSigned() {
		return nil, sigerr.Newf(sigerr.KindSpenderState, ErrNotSigned,
			"%v: legacy %v, witness %v", s.outPoint,
			s.legacy.status, s.witness.status)
	}

	var err error
	txIn.SignatureScript, err = s.ScriptSig()
	if err != nil {
		return nil, err
	}
	txIn.Witness, err = s.Witness()
	if err != nil {
		return nil, err
	}

	return txIn, nil
}

// requestSig asks proxy for the signature of pubKey over the sighash of
// subScript, and checks the result.
func (s *ScriptSpender) requestSig(proxy SigningProxy, ctx SigContext,
	pubKey, subScript []byte, isWitness bool) ([]byte, error) {

	digest, err := ctx.digest(s.hashType, subScript, isWitness)
	if err != nil {
		return nil, sigerr.Newf(sigerr.KindSigning, err,
			"input %d sighash", ctx.Index)
	}

	raw, err := proxy.SignHash(pubKey, digest)
	if err != nil {
		return nil, sigerr.Newf(sigerr.KindSigning, err,
			"input %d key %x", ctx.Index, pubKey)
	}

	sig := make([]byte, 0, len(raw)+1)
	sig = append(sig, raw...)
	sig = append(sig, byte(s.hashType))

	if err := ctx.verify(pubKey, sig, subScript, isWitness); err != nil {
		return nil, sigerr.Newf(sigerr.KindSigning, err,
			"input %d key %x", ctx.Index, pubKey)
	}

	return sig, nil
}

// sign asks proxy for a signature for every open placeholder. Keys the proxy
// cannot sign for are skipped, leaving the leg partially signed. It returns
// the number of signatures added.
func (s *ScriptSpender) sign(proxy SigningProxy, ctx SigContext) (int,
	error) {

	var added int
	for _, isWitness := range []bool{false, true} {
		l := s.leg(isWitness)
		if l.status != StatusResolved &&
			l.status != StatusPartiallySigned {

			continue
		}

		for _, item := range l.sorted() {
			switch it := item.(type) {
			case *resolver.Sig:
				if it.IsSigned() {
					continue
				}

				sig, err := s.requestSig(
					proxy, ctx, it.PubKey, it.SubScript,
					isWitness,
				)
				if err != nil {
					logSigningErr(err)
					continue
				}
				it.Signature = sig
				added++

			case *resolver.MultiSig:
				for i, pubKey := range it.PubKeys {
					if it.IsComplete() {
						break
					}
					if _, ok := it.Sigs[i]; ok {
						continue
					}

					sig, err := s.requestSig(
						proxy, ctx, pubKey,
						it.SubScript, isWitness,
					)
					if err != nil {
						logSigningErr(err)
						continue
					}
					it.Sigs[i] = sig
					added++
				}
			}
		}
	}

	return added, s.processStacks()
}

// logSigningErr logs a swallowed signing error. A missing private key is
// the expected outcome for the keys of other co-signers.
func logSigningErr(err error) {
	if errors.Is(err, resolver.ErrNoPrivKey) {
		log.Debugf("Skipping placeholder: %v", err)
		return
	}

	log.Warnf("Unable to sign placeholder: %v", err)
}

// InjectSignature adds an externally produced signature, DER encoded with
// the sighash type byte appended, to the witness or legacy leg. The
// signature is checked against the sighash of the input described by ctx
// before it is accepted. Injecting a signature already present is a no-op.
func (s *ScriptSpender) InjectSignature(ctx SigContext, pubKey, sig []byte,
	isWitness bool) error {

	l := s.leg(isWitness)
	switch l.status {
	case StatusSigned:
		return sigerr.Newf(sigerr.KindSpenderState, ErrLegSigned,
			"%v %s leg", s.outPoint, legName(isWitness))

	case StatusUnknown, StatusEmpty:
		return sigerr.Newf(sigerr.KindSpenderState, ErrLegUnresolved,
			"%v %s leg is %v", s.outPoint, legName(isWitness),
			l.status)
	}

	var found bool
	for _, item := range l.sorted() {
		switch it := item.(type) {
		case *resolver.Sig:
			if !bytes.Equal(it.PubKey, pubKey) {
				continue
			}
			found = true
			if it.IsSigned() {
				continue
			}

			err := ctx.verify(pubKey, sig, it.SubScript, isWitness)
			if err != nil {
				return sigerr.Newf(sigerr.KindVerification, err,
					"input %v", s.outPoint)
			}
			it.Signature = cloneBytes(sig)

		case *resolver.MultiSig:
			i := it.KeyIndex(pubKey)
			if i < 0 {
				continue
			}
			found = true
			if _, ok := it.Sigs[i]; ok {
				continue
			}

			err := ctx.verify(pubKey, sig, it.SubScript, isWitness)
			if err != nil {
				return sigerr.Newf(sigerr.KindVerification, err,
					"input %v", s.outPoint)
			}
			it.Sigs[i] = cloneBytes(sig)
		}
	}

	if !found {
		return sigerr.Newf(sigerr.KindSpenderState, ErrUnknownPubKey,
			"%v: %x", s.outPoint, pubKey)
	}

	return s.processStacks()
}

// Signatures returns the collected signatures of both legs keyed by hex
// public key. Finalized legs no longer carry placeholders and contribute
// nothing.
func (s *ScriptSpender) Signatures() map[string][]byte {
	sigs := make(map[string][]byte)
	for _, l := range []*leg{&s.legacy, &s.witness} {
		for _, item := range l.items {
			switch it := item.(type) {
			case *resolver.Sig:
				if it.IsSigned() {
					key := hex.EncodeToString(it.PubKey)
					sigs[key] = cloneBytes(it.Signature)
				}

			case *resolver.MultiSig:
				for i, sig := range it.Sigs {
					key := hex.EncodeToString(it.PubKeys[i])
					sigs[key] = cloneBytes(sig)
				}
			}
		}
	}

	return sigs
}

// Merge folds the contributions of other, a spender of the same outpoint
// built by an independent signer, into s. Placeholders are united by id and
// signatures from other are checked against ctx before they are adopted;
// those that fail are dropped. A finalized leg of other is only adopted if
// the input then verifies, and is ignored otherwise. On error s is left
// unchanged.
func (s *ScriptSpender) Merge(other *ScriptSpender, ctx SigContext) error {
	if s.outPoint != other.outPoint {
		return sigerr.Newf(sigerr.KindSpenderState, ErrOutPointMismatch,
			"%v != %v", s.outPoint, other.outPoint)
	}
	if s.sequence != other.sequence {
		return sigerr.Newf(sigerr.KindSpenderState, ErrSequenceMismatch,
			"%v: %d != %d", s.outPoint, s.sequence, other.sequence)
	}

	// We'll work on a copy so a conflict half way through doesn't leave
	// a partially merged spender behind.
	merged := s.Clone()

	if other.utxo.IsSome() {
		err := merged.SetUTXO(other.utxo.UnwrapOr(UTXO{}))
		if err != nil {
			return sigerr.Newf(sigerr.KindSpenderState, err,
				"merge %v", s.outPoint)
		}
	}

	merged.isP2SH = merged.isP2SH || other.isP2SH
	merged.hasCSV = merged.hasCSV || other.hasCSV
	merged.hasCLTV = merged.hasCLTV || other.hasCLTV
	merged.mergePaths(other.paths)
	merged.proprietary = mergeKeyValues(merged.proprietary, other.proprietary)

	// Finalized legs carry no placeholders to check signatures against,
	// so a leg adopted in that state is only kept if the whole input then
	// verifies.
	adopted := make(map[bool]leg)
	for _, isWitness := range []bool{false, true} {
		dst, src := merged.leg(isWitness), other.leg(isWitness)
		if src.status == StatusSigned && dst.status != StatusSigned {
			adopted[isWitness] = dst.clone()
		}

		err := mergeLeg(dst, src, ctx, isWitness)
		if err != nil {
			return sigerr.Newf(sigerr.KindSpenderState, err,
				"merge %v %s leg", s.outPoint,
				legName(isWitness))
		}
	}

	if err := merged.processStacks(); err != nil {
		return err
	}

	if len(adopted) > 0 {
		if err := merged.verifyFinal(ctx); err != nil {
			log.Warnf("Ignoring signed %v from merge: %v", s.outPoint,
				err)

			for isWitness, l := range adopted {
				*merged.leg(isWitness) = l
			}
		}
	}

	for _, isWitness := range []bool{false, true} {
		before := s.leg(isWitness).status
		after := merged.leg(isWitness).status
		if after.rank() < before.rank() {
			return sigerr.Newf(sigerr.KindSpenderState,
				ErrStateRegression, "merge %v: %v -> %v",
				s.outPoint, before, after)
		}
	}

	*s = *merged

	return nil
}

// mergeLeg folds src into dst.
func mergeLeg(dst, src *leg, ctx SigContext, isWitness bool) error {
	switch {
	case dst.status == StatusSigned, src.status == StatusUnknown:
		return nil

	case src.status == StatusSigned:
		*dst = src.clone()
		return nil

	case dst.status == StatusUnknown:
		*dst = src.clone()
		if dst.status == StatusEmpty {
			return nil
		}

		// The status is recomputed from the signatures that survive.
		dst.status = StatusResolved
		for _, item := range dst.items {
			dropInvalidSigs(item, ctx, isWitness)
		}

		return nil

	case dst.status == StatusEmpty || src.status == StatusEmpty:
		if dst.status != src.status {
			return fmt.Errorf("%w: %v and %v", ErrMergeConflict,
				dst.status, src.status)
		}

		return nil
	}

	for id, item := range src.items {
		local, ok := dst.items[id]
		if !ok {
			local = item.Clone()
			dropInvalidSigs(local, ctx, isWitness)
			dst.items[id] = local

			continue
		}

		if err := mergeItem(local, item, ctx, isWitness); err != nil {
			return fmt.Errorf("placeholder %d: %w", id, err)
		}
	}

	return nil
}

// mergeItem folds remote into local, two placeholders with the same id.
func mergeItem(local, remote resolver.StackItem, ctx SigContext,
	isWitness bool) error {

	if local.Type() != remote.Type() {
		return fmt.Errorf("%w: %v and %v", ErrMergeConflict,
			local.Type(), remote.Type())
	}

	switch l := local.(type) {
	case *resolver.PushData:
		r := remote.(*resolver.PushData)
		if !bytes.Equal(l.Data, r.Data) {
			return fmt.Errorf("%w: push data", ErrMergeConflict)
		}

	case *resolver.SerializedScript:
		r := remote.(*resolver.SerializedScript)
		if !bytes.Equal(l.Script, r.Script) {
			return fmt.Errorf("%w: script", ErrMergeConflict)
		}

	case *resolver.OpCode:
		r := remote.(*resolver.OpCode)
		if l.Op != r.Op {
			return fmt.Errorf("%w: opcode", ErrMergeConflict)
		}

	case *resolver.Sig:
		r := remote.(*resolver.Sig)
		if !bytes.Equal(l.PubKey, r.PubKey) {
			return fmt.Errorf("%w: sig key", ErrMergeConflict)
		}

		// We'll keep whichever side carries a valid signature,
		// preferring our own.
		if l.IsSigned() && ctx.verify(
			l.PubKey, l.Signature, l.SubScript, isWitness,
		) == nil {

			return nil
		}
		l.Signature = nil

		if r.IsSigned() && ctx.verify(
			r.PubKey, r.Signature, r.SubScript, isWitness,
		) == nil {

			l.Signature = cloneBytes(r.Signature)
		}

	case *resolver.MultiSig:
		r := remote.(*resolver.MultiSig)
		if l.M != r.M || len(l.PubKeys) != len(r.PubKeys) {
			return fmt.Errorf("%w: multisig shape", ErrMergeConflict)
		}
		for i := range l.PubKeys {
			if !bytes.Equal(l.PubKeys[i], r.PubKeys[i]) {
				return fmt.Errorf("%w: multisig keys",
					ErrMergeConflict)
			}
		}

		for i, sig := range l.Sigs {
			err := ctx.verify(l.PubKeys[i], sig, l.SubScript,
				isWitness)
			if err != nil {
				delete(l.Sigs, i)
			}
		}
		for i, sig := range r.Sigs {
			if _, ok := l.Sigs[i]; ok {
				continue
			}
			err := ctx.verify(r.PubKeys[i], sig, r.SubScript,
				isWitness)
			if err != nil {
				log.Debugf("Dropping merged signature: %v", err)
				continue
			}
			l.Sigs[i] = cloneBytes(sig)
		}

	default:
		return sigerr.Newf(sigerr.KindSpenderState, ErrUnknownItem,
			"%T", l)
	}

	return nil
}

// dropInvalidSigs removes the signatures of item that do not verify against
// ctx.
func dropInvalidSigs(item resolver.StackItem, ctx SigContext,
	isWitness bool) {

	switch it := item.(type) {
	case *resolver.Sig:
		if !it.IsSigned() {
			return
		}
		err := ctx.verify(it.PubKey, it.Signature, it.SubScript,
			isWitness)
		if err != nil {
			log.Debugf("Dropping merged signature: %v", err)
			it.Signature = nil
		}

	case *resolver.MultiSig:
		for i, sig := range it.Sigs {
			err := ctx.verify(it.PubKeys[i], sig, it.SubScript,
				isWitness)
			if err != nil {
				log.Debugf("Dropping merged signature: %v", err)
				delete(it.Sigs, i)
			}
		}
	}
}

// verifyFinal returns an error unless the unlocking data of the input
// verifies against ctx.
func (s *ScriptSpender) verifyFinal(ctx SigContext) error {
	if ctx.Tx == nil {
		return fmt.Errorf("%w: no transaction context",
			ErrInvalidSignature)
	}

	state := s.evaluate(ctx.engine(), ctx.Index)
	if !state.IsValid() {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, state)
	}

	return nil
}

// evaluate runs the interpreter over the input's current unlocking data,
// with empty elements standing in for missing signatures.
func (s *ScriptSpender) evaluate(engine *interpreter.Engine,
	idx int) *interpreter.TxInEvalState {

	if s.utxo.IsNone() {
		state := interpreter.NewTxInEvalState()
		state.Err = interpreter.ErrMissingPrevOut

		return state
	}
	pkScript := s.utxo.UnwrapOr(UTXO{}).PkScript

	sigScript, err := s.partialScriptSig()
	if err != nil {
		state := interpreter.NewTxInEvalState()
		state.Err = err

		return state
	}
	witness, err := s.partialWitness()
	if err != nil {
		state := interpreter.NewTxInEvalState()
		state.Err = err

		return state
	}

	return engine.VerifyInput(idx, pkScript, sigScript, witness)
}

// sortedPaths returns the paths ordered by public key, for deterministic
// serialization.
func sortedPaths(paths map[string]resolver.BIP32Path) []string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// cloneWitness deep copies a witness, preserving nil.
func cloneWitness(w wire.TxWitness) wire.TxWitness {
	if w == nil {
		return nil
	}

	c := make(wire.TxWitness, len(w))
	for i, item := range w {
		c[i] = cloneBytes(item)
	}

	return c
}
