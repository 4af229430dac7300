// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package signer drives the resolution, signing, merging and serialization
// of a transaction. A Signer owns one ScriptSpender per input and a
// RecipientMap for the outputs. Independent signers holding the same
// unsigned transaction can each contribute signatures and be merged, either
// directly or after a round trip through PSBT or TxSigCollect.
package signer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcsigner/internal/stdscript"
	"github.com/btcsuite/btcsigner/interpreter"
	"github.com/btcsuite/btcsigner/pkg/btcunit"
	"github.com/btcsuite/btcsigner/resolver"
	"github.com/btcsuite/btcsigner/sigerr"
	"github.com/btcsuite/btcsigner/sighash"
)

var (
	// ErrNoSpenders is returned when signing a transaction without
	// inputs.
	ErrNoSpenders = errors.New("no spenders")

	// ErrNoRecipients is returned when signing a transaction without
	// outputs.
	ErrNoRecipients = errors.New("no recipients")

	// ErrInsufficientInput is returned when the outputs spend more than
	// the inputs provide.
	ErrInsufficientInput = errors.New("output value exceeds input value")

	// ErrDuplicateSpender is returned when adding a second spender for the
	// same outpoint.
	ErrDuplicateSpender = errors.New("duplicate spender")

	// ErrSpenderIndex is returned for an input index out of range.
	ErrSpenderIndex = errors.New("spender index out of range")

	// ErrTxFrozen is returned when changing the inputs or outputs of a
	// transaction that already carries signatures.
	ErrTxFrozen = errors.New("transaction carries signatures")

	// ErrUnresolved is returned by strict serialization when a spender has
	// not been resolved.
	ErrUnresolved = errors.New("spender not resolved")

	// ErrTxMismatch is returned when merging signers of different
	// transactions.
	ErrTxMismatch = errors.New("transaction mismatch")

	// ErrPrivateRoot is returned when a BIP32 root carries a private key.
	ErrPrivateRoot = errors.New("bip32 root is private")

	// ErrRootNetwork is returned when a BIP32 root belongs to another
	// network.
	ErrRootNetwork = errors.New("bip32 root is for another network")

	// ErrRootPath is returned when the path of a BIP32 root does not match
	// the depth of its key.
	ErrRootPath = errors.New("bip32 root path does not match depth")
)

// BIP32Root is a public extended key along with the fingerprint and path of
// the master key it derives from. Roots are exported with PSBTs so that
// other signers can locate their keys.
type BIP32Root struct {
	// Fingerprint is the fingerprint of the master key.
	Fingerprint uint32

	// Path is the derivation path from the master key to XPub.
	Path []uint32

	// XPub is the public extended key.
	XPub *hdkeychain.ExtendedKey
}

// NewBIP32Root parses a base58 extended public key.
func NewBIP32Root(xpub string, fingerprint uint32, path []uint32,
	params *chaincfg.Params) (BIP32Root, error) {

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return BIP32Root{}, err
	}
	if key.IsPrivate() {
		return BIP32Root{}, ErrPrivateRoot
	}
	if !key.IsForNet(params) {
		return BIP32Root{}, fmt.Errorf("%w: %s", ErrRootNetwork,
			params.Name)
	}
	if len(path) != int(key.Depth()) {
		return BIP32Root{}, fmt.Errorf("%w: %d elements at depth %d",
			ErrRootPath, len(path), key.Depth())
	}

	return BIP32Root{
		Fingerprint: fingerprint,
		Path:        append([]uint32(nil), path...),
		XPub:        key,
	}, nil
}

// equal returns whether both roots describe the same key.
func (r BIP32Root) equal(other BIP32Root) bool {
	return r.Fingerprint == other.Fingerprint &&
		r.XPub.String() == other.XPub.String()
}

// Option configures a Signer.
type Option func(*Signer)

// WithVersion sets the transaction version.
func WithVersion(version int32) Option {
	return func(s *Signer) {
		s.version = version
	}
}

// WithLockTime sets the transaction lock time.
func WithLockTime(lockTime uint32) Option {
	return func(s *Signer) {
		s.lockTime = lockTime
	}
}

// WithFeed sets the key-resolution feed.
func WithFeed(feed resolver.Feed) Option {
	return func(s *Signer) {
		s.feed = feed
	}
}

// WithChainParams sets the network. It is used to validate BIP32 roots and
// for the network magic of legacy TxSigCollect blobs.
func WithChainParams(params *chaincfg.Params) Option {
	return func(s *Signer) {
		s.params = params
	}
}

// WithSupportingTxProvider sets an external source of supporting
// transactions, consulted after the signer's own.
func WithSupportingTxProvider(provider SupportingTxProvider) Option {
	return func(s *Signer) {
		s.provider = provider
	}
}

// WithVerifyFlags sets the interpreter flags used by Evaluate. Signing
// always adds interpreter.ScriptVerifySegWit.
func WithVerifyFlags(flags interpreter.Flags) Option {
	return func(s *Signer) {
		s.flags = flags
	}
}

// Signer aggregates the spenders and recipients of one transaction.
//
// NOTE: A Signer is not safe for concurrent use. Signers of the same
// transaction built by independent workers are combined with Merge.
type Signer struct {
	version  int32
	lockTime uint32

	spenders   []*ScriptSpender
	recipients *RecipientMap

	feed     resolver.Feed
	params   *chaincfg.Params
	txs      supportingTxs
	provider SupportingTxProvider
	roots    []BIP32Root

	proprietary []KeyValue

	flags  interpreter.Flags
	segwit *sighash.SegWit
}

// New returns an empty signer.
func New(opts ...Option) *Signer {
	s := &Signer{
		version:    wire.TxVersion,
		recipients: NewRecipientMap(),
		params:     &chaincfg.MainNetParams,
		txs:        make(supportingTxs),
		flags:      interpreter.StandardFlags,
		segwit:     sighash.NewSegWit(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Version returns the transaction version.
func (s *Signer) Version() int32 {
	return s.version
}

// LockTime returns the transaction lock time.
func (s *Signer) LockTime() uint32 {
	return s.lockTime
}

// ChainParams returns the network of the signer.
func (s *Signer) ChainParams() *chaincfg.Params {
	return s.params
}

// SetFeed replaces the key-resolution feed.
func (s *Signer) SetFeed(feed resolver.Feed) {
	s.feed = feed
}

// Spenders returns the spenders in input order.
func (s *Signer) Spenders() []*ScriptSpender {
	return append([]*ScriptSpender(nil), s.spenders...)
}

// Spender returns the spender of input idx.
func (s *Signer) Spender(idx int) (*ScriptSpender, error) {
	if idx < 0 || idx >= len(s.spenders) {
		return nil, fmt.Errorf("%w: %d of %d", ErrSpenderIndex, idx,
			len(s.spenders))
	}

	return s.spenders[idx], nil
}

// Recipients returns a copy of the recipient map. Outputs are changed
// through AddRecipient and AddRecipientToGroup, annotations through
// AnnotateRecipient.
func (s *Signer) Recipients() *RecipientMap {
	return s.recipients.Clone()
}

// AnnotateRecipient copies the paths, scripts and proprietary records of r
// into every recipient paying to r.PkScript, keeping those already set. The
// value of r is ignored. Annotations don't change the transaction, so they
// are accepted after signing started.
func (s *Signer) AnnotateRecipient(r *ScriptRecipient) error {
	var found bool
	for _, mine := range s.recipients.All() {
		if bytes.Equal(mine.PkScript, r.PkScript) {
			mine.mergeAnnotations(r)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %x", ErrRecipientNotFound, r.PkScript)
	}

	return nil
}

// BIP32Roots returns the BIP32 public roots.
func (s *Signer) BIP32Roots() []BIP32Root {
	return append([]BIP32Root(nil), s.roots...)
}

// Proprietary returns the global 0xfc records carried for PSBT
// round-tripping.
func (s *Signer) Proprietary() []KeyValue {
	return mergeKeyValues(nil, s.proprietary)
}

// AddProprietary records a global proprietary key/value pair. A key already
// present keeps its value.
func (s *Signer) AddProprietary(kv KeyValue) {
	s.proprietary = mergeKeyValues(s.proprietary, []KeyValue{kv})
}

// hasSignatures returns whether any spender carries a signature.
func (s *Signer) hasSignatures() bool {
	for _, sp := range s.spenders {
		if sp.legacy.status.rank() >= StatusPartiallySigned.rank() ||
			sp.witness.status.rank() >=
				StatusPartiallySigned.rank() {

			return true
		}
	}

	return false
}

// spenderIndex returns the input index of op, or -1.
func (s *Signer) spenderIndex(op wire.OutPoint) int {
	for i, sp := range s.spenders {
		if sp.outPoint == op {
			return i
		}
	}

	return -1
}

// AddSpender appends an input.
func (s *Signer) AddSpender(sp *ScriptSpender) error {
	if s.spenderIndex(sp.outPoint) >= 0 {
		return fmt.Errorf("%w: %v", ErrDuplicateSpender, sp.outPoint)
	}
	if s.hasSignatures() {
		return sigerr.Newf(sigerr.KindSpenderState, ErrTxFrozen,
			"add spender %v", sp.outPoint)
	}

	s.spenders = append(s.spenders, sp)
	s.segwit.Invalidate()

	return nil
}

// AddRecipient appends an output to the default group.
func (s *Signer) AddRecipient(r *ScriptRecipient) error {
	return s.AddRecipientToGroup(DefaultRecipientGroup, r)
}

// AddRecipientToGroup appends an output to group.
func (s *Signer) AddRecipientToGroup(group uint32, r *ScriptRecipient) error {
	if s.hasSignatures() {
		return sigerr.Newf(sigerr.KindSpenderState, ErrTxFrozen,
			"add recipient %x", r.PkScript)
	}
	if err := s.recipients.Add(group, r); err != nil {
		return err
	}
	s.segwit.Invalidate()

	return nil
}

// AddSupportingTx records a transaction whose outputs may be spent by the
// signer.
func (s *Signer) AddSupportingTx(tx *wire.MsgTx) {
	s.txs[tx.TxHash()] = tx.Copy()
}

// SupportingTxs returns the signer's own supporting transactions, ordered by
// hash.
func (s *Signer) SupportingTxs() []*wire.MsgTx {
	hashes := sortedTxHashes(s.txs)

	txs := make([]*wire.MsgTx, 0, len(hashes))
	for _, h := range hashes {
		txs = append(txs, s.txs[h].Copy())
	}

	return txs
}

// AddBIP32Root records a public root. A root already known is ignored.
func (s *Signer) AddBIP32Root(root BIP32Root) {
	for _, r := range s.roots {
		if r.equal(root) {
			return
		}
	}
	s.roots = append(s.roots, root)
}

// supportingTx looks up a supporting transaction, first in the signer's own
// set and then through the external provider.
func (s *Signer) supportingTx(hash chainhash.Hash) (*wire.MsgTx, error) {
	tx, err := s.txs.SupportingTx(hash)
	if err == nil || s.provider == nil {
		return tx, err
	}

	return s.provider.SupportingTx(hash)
}

// utxoFor returns the output spent by sp, deriving it from a supporting
// transaction and attaching it to the spender when needed.
func (s *Signer) utxoFor(sp *ScriptSpender) (UTXO, error) {
	if sp.utxo.IsSome() {
		return sp.utxo.UnwrapOr(UTXO{}), nil
	}

	tx, err := s.supportingTx(sp.outPoint.Hash)
	if err != nil {
		return UTXO{}, fmt.Errorf("%w: %v: %v", ErrMissingUTXO,
			sp.outPoint, err)
	}

	utxo, err := UTXOFromTx(tx, sp.outPoint.Index)
	if err != nil {
		return UTXO{}, err
	}
	if err := sp.SetUTXO(utxo); err != nil {
		return UTXO{}, err
	}

	return utxo, nil
}

// prevOutFetcher returns a fetcher over every UTXO that is known.
func (s *Signer) prevOutFetcher() *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, sp := range s.spenders {
		utxo, err := s.utxoFor(sp)
		if err != nil {
			continue
		}
		fetcher.AddPrevOut(sp.outPoint, utxo.TxOut())
	}

	return fetcher
}

// unsignedTx builds the transaction with empty input scripts.
func (s *Signer) unsignedTx() *wire.MsgTx {
	tx := wire.NewMsgTx(s.version)
	tx.LockTime = s.lockTime

	for _, sp := range s.spenders {
		txIn, _ := sp.TxIn(false)
		tx.AddTxIn(txIn)
	}
	for _, r := range s.recipients.All() {
		tx.AddTxOut(r.TxOut())
	}

	return tx
}

// view returns the sighash view of the unsigned transaction. The BIP143
// midstate is dropped, so it is computed once for the view and then shared
// by every input checked against it.
func (s *Signer) view() sighash.TxView {
	s.segwit.Invalidate()

	return sighash.NewMsgTxView(s.unsignedTx(), s.prevOutFetcher())
}

// sigContext returns the sighash context of input idx.
func (s *Signer) sigContext(idx int, view sighash.TxView) SigContext {
	return SigContext{
		Tx: view, Index: idx, SegWit: s.segwit, Flags: s.flags,
	}
}

// SigContext returns the sighash context of input idx, for use with
// ScriptSpender.InjectSignature and ScriptSpender.Merge.
func (s *Signer) SigContext(idx int) (SigContext, error) {
	if _, err := s.Spender(idx); err != nil {
		return SigContext{}, err
	}

	return s.sigContext(idx, s.view()), nil
}

// ResolvePublicData resolves every spender that is not resolved yet and
// whose UTXO is available, and annotates the recipients with the paths and
// scripts the feed knows. A spender that cannot be resolved stays pending;
// the returned outcomes, one per input, tell why.
func (s *Signer) ResolvePublicData() []resolver.Outcome {
	feed := s.resolverFeed()

	outcomes := make([]resolver.Outcome, len(s.spenders))
	for i, sp := range s.spenders {
		if sp.IsResolved() {
			outcomes[i] = resolver.Resolved(nil)
			continue
		}

		utxo, err := s.utxoFor(sp)
		if err != nil {
			outcomes[i] = resolver.Pending(err)
			log.Debugf("Input %d (%v) pending: %v", i, sp.outPoint,
				err)

			continue
		}

		outcome := resolver.TryResolve(utxo.PkScript, feed)
		if outcome.Kind == resolver.OutcomeResolved {
			if err := sp.applyResolution(outcome.Stack); err != nil {
				outcome = resolver.Fatal(err)
			}
		}
		outcomes[i] = outcome

		log.Debugf("Input %d (%v) resolution: %v", i, sp.outPoint,
			outcome)
	}

	for _, r := range s.recipients.All() {
		s.annotateRecipient(r, feed)
	}

	return outcomes
}

// resolverFeed returns the feed, or an empty one, which is still enough to
// resolve templates that carry their public keys in the clear.
func (s *Signer) resolverFeed() resolver.Feed {
	if s.feed == nil {
		return resolver.NewMemFeed()
	}

	return s.feed
}

// annotateRecipient fills in the paths and scripts of an output from the
// feed. Outputs the feed knows nothing about are left untouched.
func (s *Signer) annotateRecipient(r *ScriptRecipient, feed resolver.Feed) {
	rs, err := resolver.Resolve(r.PkScript, feed)
	if err != nil {
		log.Tracef("Recipient %x not annotated: %v", r.PkScript, err)
		return
	}

	stacks := []*resolver.ResolvedStack{rs}
	if rs.Witness != nil {
		stacks = append(stacks, rs.Witness)
	}
	for _, stack := range stacks {
		for k, p := range stack.Paths {
			if _, ok := r.Paths[k]; !ok {
				r.Paths[k] = p.Clone()
			}
		}
	}

	for _, item := range rs.Items {
		script, ok := item.(*resolver.SerializedScript)
		if ok && rs.IsP2SH && len(r.RedeemScript) == 0 {
			r.RedeemScript = cloneBytes(script.Script)
		}
	}
	if rs.Witness != nil {
		for _, item := range rs.Witness.Items {
			script, ok := item.(*resolver.SerializedScript)
			if ok && len(r.WitnessScript) == 0 {
				r.WitnessScript = cloneBytes(script.Script)
			}
		}
	}
}

// Sign resolves what can be resolved and asks proxy for every signature
// still missing. Inputs the proxy holds no key for are left as they are, so
// signing a partially owned transaction succeeds. Once called, evaluation
// of the signer always verifies witness data.
func (s *Signer) Sign(proxy SigningProxy) error {
	s.flags |= interpreter.ScriptVerifySegWit

	if len(s.spenders) == 0 {
		return sigerr.New(sigerr.KindSpenderState, "sign", ErrNoSpenders)
	}
	if s.recipients.Len() == 0 {
		return sigerr.New(sigerr.KindSpenderState, "sign",
			ErrNoRecipients)
	}

	// The input total is only known when every UTXO is, which is not
	// always the case for a co-signer holding a partial view.
	if in, ok := s.inputTotal(); ok && in < s.recipients.Total() {
		return sigerr.Newf(sigerr.KindVerification,
			ErrInsufficientInput, "inputs %v, outputs %v", in,
			s.recipients.Total())
	}

	s.ResolvePublicData()

	// The transaction is frozen for the duration of the pass, so one view
	// serves every input.
	view := s.view()

	var added, signed int
	for i, sp := range s.spenders {
		if !sp.IsResolved() || sp.IsSigned() {
			continue
		}

		s.seedFeed(sp)
		s.annotateSpender(sp)

		n, err := sp.sign(proxy, s.sigContext(i, view))
		if err != nil {
			return err
		}
		added += n

		if sp.IsSigned() {
			signed++
		}
	}

	log.Infof("Sign pass added %d signatures, %d of %d inputs newly "+
		"signed", added, signed, len(s.spenders))

	return nil
}

// seedFeed hands the redeem and witness scripts of sp to the feed, so that
// scripts which cannot be derived from a BIP32 root resolve on later
// lookups.
func (s *Signer) seedFeed(sp *ScriptSpender) {
	seeder, ok := s.feed.(resolver.Seeder)
	if !ok {
		return
	}

	for _, l := range []*leg{&sp.legacy, &sp.witness} {
		for _, item := range l.items {
			script, ok := item.(*resolver.SerializedScript)
			if !ok {
				continue
			}

			h := sha256.Sum256(script.Script)
			seeder.Seed(h[:], script.Script)
			seeder.Seed(btcutil.Hash160(script.Script), script.Script)
		}
	}
}

// annotateSpender records the paths of the spender's keys that the feed
// knows and the spender does not.
func (s *Signer) annotateSpender(sp *ScriptSpender) {
	pathFeed, ok := s.feed.(resolver.PathFeed)
	if !ok {
		return
	}

	for _, pubKey := range sp.PubKeys() {
		if _, ok := sp.paths[hex.EncodeToString(pubKey)]; ok {
			continue
		}

		path, err := pathFeed.Bip32PathForPubKey(pubKey)
		if err != nil {
			continue
		}
		sp.AddPath(pubKey, path)
	}
}

// InjectSignature adds an externally produced signature for pubKey to input
// idx. The leg is chosen from the shape of the input.
func (s *Signer) InjectSignature(idx int, pubKey, sig []byte) error {
	sp, err := s.Spender(idx)
	if err != nil {
		return err
	}

	return sp.InjectSignature(
		s.sigContext(idx, s.view()), pubKey, sig, sp.IsSegWit(),
	)
}

// IsResolved returns whether every spender is resolved.
func (s *Signer) IsResolved() bool {
	for _, sp := range s.spenders {
		if !sp.IsResolved() {
			return false
		}
	}

	return len(s.spenders) > 0
}

// IsSigned returns whether every spender is signed.
func (s *Signer) IsSigned() bool {
	for _, sp := range s.spenders {
		if !sp.IsSigned() {
			return false
		}
	}

	return len(s.spenders) > 0
}

// SerializeSignedTx returns the signed transaction. Every spender must be
// signed.
func (s *Signer) SerializeSignedTx() (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(s.version)
	tx.LockTime = s.lockTime

	for _, sp := range s.spenders {
		txIn, err := sp.TxIn(true)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(txIn)
	}
	for _, r := range s.recipients.All() {
		tx.AddTxOut(r.TxOut())
	}

	return tx, nil
}

// SerializeUnsignedTx returns the transaction with empty input scripts. In
// loose mode pending spenders are tolerated; otherwise every spender must be
// resolved.
func (s *Signer) SerializeUnsignedTx(loose bool) (*wire.MsgTx, error) {
	if !loose {
		for i, sp := range s.spenders {
			if !sp.IsResolved() {
				return nil, sigerr.Newf(sigerr.KindSpenderState,
					ErrUnresolved, "input %d (%v)", i,
					sp.outPoint)
			}
		}
	}

	return s.unsignedTx(), nil
}

// TxID returns the id of the transaction. Witness data does not contribute
// to it, so the id of a transaction spending only witness inputs is known
// before it is signed. Legacy inputs must be signed.
func (s *Signer) TxID() (chainhash.Hash, error) {
	tx := s.unsignedTx()
	for i, sp := range s.spenders {
		script, err := sp.ScriptSig()
		if err != nil {
			return chainhash.Hash{}, err
		}
		tx.TxIn[i].SignatureScript = script
	}

	return tx.TxHash(), nil
}

// inputTotal returns the sum of the input values, if every UTXO is known.
func (s *Signer) inputTotal() (btcutil.Amount, bool) {
	var total btcutil.Amount
	for _, sp := range s.spenders {
		utxo, err := s.utxoFor(sp)
		if err != nil {
			return 0, false
		}
		total += utxo.Value
	}

	return total, true
}

// Fee returns the difference between the input and output values.
func (s *Signer) Fee() (btcutil.Amount, error) {
	in, ok := s.inputTotal()
	if !ok {
		return 0, ErrMissingUTXO
	}

	return in - s.recipients.Total(), nil
}

// FeeRate returns the fee rate of the signed transaction.
func (s *Signer) FeeRate() (btcunit.SatPerVByte, error) {
	fee, err := s.Fee()
	if err != nil {
		return btcunit.SatPerVByte{}, err
	}

	tx, err := s.SerializeSignedTx()
	if err != nil {
		return btcunit.SatPerVByte{}, err
	}

	return btcunit.CalcSatPerVByte(fee, btcunit.TxWeight(tx).ToVB()), nil
}

// Evaluate runs the interpreter over every input, using empty elements in
// place of missing signatures, and records the outcome per input. A signer
// whose outputs spend more than its known inputs is marked invalid as a
// whole.
func (s *Signer) Evaluate() *interpreter.TxEvalState {
	view := s.view()
	engine := interpreter.NewEngine(view, s.flags, s.segwit)

	state := interpreter.NewTxEvalState(len(s.spenders))
	for i, sp := range s.spenders {
		if _, err := s.utxoFor(sp); err != nil {
			in := interpreter.NewTxInEvalState()
			in.Err = err
			state.Update(i, in)

			continue
		}
		state.Update(i, sp.evaluate(engine, i))
	}

	if in, ok := s.inputTotal(); ok && in < s.recipients.Total() {
		state.Err = sigerr.Newf(sigerr.KindVerification,
			ErrInsufficientInput, "inputs %v, outputs %v", in,
			s.recipients.Total())
	}

	return state
}

// Verify returns whether every input is validly signed.
func (s *Signer) Verify() bool {
	return s.Evaluate().IsValid()
}

// CompareEvalState returns whether both signers evaluate to the same
// per-input outcome.
func (s *Signer) CompareEvalState(other *Signer) bool {
	return s.Evaluate().Equal(other.Evaluate())
}

// Clone returns a deep copy of the signer. The feed and the external
// supporting transaction provider are shared.
func (s *Signer) Clone() *Signer {
	c := &Signer{
		version:    s.version,
		lockTime:   s.lockTime,
		recipients: s.recipients.Clone(),
		feed:       s.feed,
		params:     s.params,
		txs:        make(supportingTxs, len(s.txs)),
		provider:   s.provider,
		roots:      append([]BIP32Root(nil), s.roots...),
		flags:      s.flags,
		segwit:     sighash.NewSegWit(),
	}
	c.proprietary = mergeKeyValues(nil, s.proprietary)
	for _, sp := range s.spenders {
		c.spenders = append(c.spenders, sp.Clone())
	}
	for h, tx := range s.txs {
		c.txs[h] = tx
	}

	return c
}

// Merge folds the state of other, a signer of the same transaction, into s.
// Spenders are merged by outpoint and recipients per group. While neither
// side carries signatures, inputs and outputs only known to other are
// adopted; afterwards the sets must agree. On error s is left unchanged.
func (s *Signer) Merge(other *Signer) error {
	if s.version != other.version || s.lockTime != other.lockTime {
		return sigerr.Newf(sigerr.KindSpenderState, ErrTxMismatch,
			"version %d/%d, lock time %d/%d", s.version,
			other.version, s.lockTime, other.lockTime)
	}

	frozen := s.hasSignatures() || other.hasSignatures()
	merged := s.Clone()

	for h, tx := range other.txs {
		if _, ok := merged.txs[h]; !ok {
			merged.txs[h] = tx
		}
	}
	for _, root := range other.roots {
		merged.AddBIP32Root(root)
	}
	merged.flags |= other.flags
	merged.proprietary = mergeKeyValues(
		merged.proprietary, other.proprietary,
	)

	// We'll line up the inputs first, adopting unknown ones while that
	// is still allowed, and share UTXOs so that the sighash view below
	// covers every input either side knows about.
	for _, osp := range other.spenders {
		idx := merged.spenderIndex(osp.outPoint)
		if idx < 0 {
			if frozen {
				return sigerr.Newf(sigerr.KindSpenderState,
					ErrTxFrozen, "merge adds input %v",
					osp.outPoint)
			}
			merged.spenders = append(merged.spenders, osp.Clone())

			continue
		}

		sp := merged.spenders[idx]
		if sp.utxo.IsNone() && osp.utxo.IsSome() {
			err := sp.SetUTXO(osp.utxo.UnwrapOr(UTXO{}))
			if err != nil {
				return err
			}
		}
	}
	if frozen && len(merged.spenders) != len(other.spenders) {
		return sigerr.Newf(sigerr.KindSpenderState, ErrTxFrozen,
			"merge with %d inputs into %d", len(other.spenders),
			len(merged.spenders))
	}

	if frozen {
		if !merged.recipients.Equal(other.recipients) {
			return sigerr.New(sigerr.KindSpenderState,
				"merge changes outputs", ErrTxFrozen)
		}
		for _, id := range other.recipients.Groups() {
			mine := merged.recipients.Group(id)
			for i, r := range other.recipients.Group(id) {
				mine[i].mergeAnnotations(r)
			}
		}
	} else {
		merged.recipients.merge(other.recipients)
	}

	view := merged.view()
	for _, osp := range other.spenders {
		idx := merged.spenderIndex(osp.outPoint)
		err := merged.spenders[idx].Merge(osp, merged.sigContext(idx, view))
		if err != nil {
			return err
		}
	}

	*s = *merged

	return nil
}

// FromTx builds a signer from a transaction. Inputs carrying unlocking data
// are taken as signed, for verification; inputs with empty scripts are left
// unresolved, to be resolved against utxos, supporting transactions or
// the feed.
func FromTx(tx *wire.MsgTx, utxos []UTXO, opts ...Option) (*Signer,
	error) {

	s := New(opts...)
	s.version = tx.Version
	s.lockTime = tx.LockTime

	byOutPoint := make(map[wire.OutPoint]UTXO, len(utxos))
	for _, u := range utxos {
		byOutPoint[u.OutPoint] = u
	}

	for _, txIn := range tx.TxIn {
		sp := NewOutPointSpender(
			txIn.PreviousOutPoint, WithSequence(txIn.Sequence),
		)
		if u, ok := byOutPoint[txIn.PreviousOutPoint]; ok {
			if err := sp.SetUTXO(u); err != nil {
				return nil, err
			}
			sp.isP2SH = stdscript.IsPayToScriptHash(u.PkScript)
		}

		err := sp.adoptFinal(txIn.SignatureScript, txIn.Witness)
		if err != nil {
			return nil, err
		}

		// A signed input must stay signed, so it is added past the
		// frozen check.
		if s.spenderIndex(sp.outPoint) >= 0 {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateSpender,
				sp.outPoint)
		}
		s.spenders = append(s.spenders, sp)
	}

	if _, err := s.addTxOuts(tx.TxOut); err != nil {
		return nil, err
	}

	return s, nil
}

// addTxOuts adds the outputs of a transaction as recipients and returns them
// in output order. Outputs go to the default group, unless a script repeats,
// in which case every output gets its own group so that the output order is
// kept.
func (s *Signer) addTxOuts(txOuts []*wire.TxOut) ([]*ScriptRecipient, error) {
	scripts := make(map[string]struct{}, len(txOuts))
	for _, txOut := range txOuts {
		scripts[string(txOut.PkScript)] = struct{}{}
	}
	unique := len(scripts) == len(txOuts)

	recipients := make([]*ScriptRecipient, 0, len(txOuts))
	for i, txOut := range txOuts {
		group := DefaultRecipientGroup
		if !unique {
			group = uint32(i)
		}

		r := NewRecipient(btcutil.Amount(txOut.Value), txOut.PkScript)
		if err := s.recipients.Add(group, r); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}

	return recipients, nil
}

// ParseRawTx decodes a raw transaction, with or without witness data, and
// builds a signer from it with FromTx.
func ParseRawTx(raw []byte, utxos []UTXO, opts ...Option) (*Signer,
	error) {

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, sigerr.New(sigerr.KindDeserialization,
			"raw transaction", err)
	}

	return FromTx(tx, utxos, opts...)
}

// adoptFinal installs finalized unlocking data read from a transaction.
// The scriptSig of a nested witness input is kept as an unsigned legacy leg
// of pushes, so that the input reads as signed through its witness.
func (s *ScriptSpender) adoptFinal(sigScript []byte,
	witness wire.TxWitness) error {

	switch {
	case len(witness) > 0:
		s.witness = leg{status: StatusSigned, witness: cloneWitness(witness)}

		if len(sigScript) == 0 {
			s.legacy = leg{status: StatusEmpty}
			return nil
		}

		pushes, err := stdscript.PushedData(sigScript)
		if err != nil {
			return sigerr.New(sigerr.KindDeserialization,
				"nested witness scriptSig", err)
		}

		items := make([]resolver.StackItem, 0, len(pushes))
		for i, push := range pushes {
			id := uint32(len(pushes) - 1 - i)
			if id == 0 {
				items = append(items,
					resolver.NewSerializedScript(id, push))
				continue
			}
			items = append(items, resolver.NewPushData(id, push))
		}
		s.legacy.setItems(items)
		s.isP2SH = true

	case len(sigScript) > 0:
		s.legacy = leg{status: StatusSigned, script: cloneBytes(sigScript)}
		s.witness = leg{status: StatusEmpty}
	}

	return nil
}
