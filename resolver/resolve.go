// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcsigner/internal/scriptnum"
	"github.com/btcsuite/btcsigner/internal/stdscript"
	"github.com/btcsuite/btcsigner/sigerr"
	"github.com/davecgh/go-spew/spew"
)

const (
	// maxPubKeysPerMultiSig is the maximum number of public keys allowed
	// in a multi-signature template.
	maxPubKeysPerMultiSig = 20

	// pubKeyBytesLenUncompressed is the length of an uncompressed public
	// key: a 0x04 prefix and both 32 byte coordinates.
	pubKeyBytesLenUncompressed = 65
)

var (
	// ErrMalformedScript is returned when a script cannot be tokenized or
	// leaves the symbolic stack in an impossible state.
	ErrMalformedScript = errors.New("malformed script")

	// ErrUnsupportedOpcode is returned when a script uses an opcode the
	// resolver cannot reason about symbolically.
	ErrUnsupportedOpcode = errors.New("unsupported opcode")

	// ErrHashMismatch is returned when a preimage handed out by the feed
	// does not hash to the requested digest.
	ErrHashMismatch = errors.New("preimage does not match hash")

	// ErrUnresolvedEntry is returned when a stack entry required by the
	// script cannot be bound to any placeholder.
	ErrUnresolvedEntry = errors.New("stack entry cannot be resolved")

	// ErrNestedP2SH is returned for a redeem or witness script that is
	// itself a P2SH template.
	ErrNestedP2SH = errors.New("nested pay-to-script-hash")
)

// ResolvedStack is the result of resolving a locking script. Items lists the
// placeholders of the base (scriptSig) leg in ascending id order; the
// unlocking script pushes them in descending id order. Witness is non-nil for
// native and P2SH-nested version 0 witness programs.
type ResolvedStack struct {
	// Items are the placeholders of this leg ordered by id.
	Items []StackItem

	// IsP2SH is set if the locking script is a P2SH template.
	IsP2SH bool

	// HasCSV is set if CHECKSEQUENCEVERIFY was encountered.
	HasCSV bool

	// HasCLTV is set if CHECKLOCKTIMEVERIFY was encountered.
	HasCLTV bool

	// Witness is the nested resolution of the witness program, if any.
	Witness *ResolvedStack

	// Paths maps hex encoded public keys found during resolution to
	// their derivation path, when the feed knows it.
	Paths map[string]BIP32Path
}

// IsSegWit returns whether the resolved output is spent with witness data.
func (r *ResolvedStack) IsSegWit() bool {
	return r.Witness != nil
}

// PubKeys returns every public key referenced by a signature placeholder or
// pushed as data in this leg and the witness leg.
func (r *ResolvedStack) PubKeys() [][]byte {
	var keys [][]byte
	for _, item := range r.Items {
		keys = append(keys, itemPubKeys(item)...)
	}
	if r.Witness != nil {
		keys = append(keys, r.Witness.PubKeys()...)
	}

	return keys
}

// itemPubKeys returns the public keys referenced by a single item.
func itemPubKeys(item StackItem) [][]byte {
	switch it := item.(type) {
	case *Sig:
		return [][]byte{it.PubKey}

	case *MultiSig:
		return it.PubKeys

	case *PushData:
		if isPubKey(it.Data) {
			return [][]byte{it.Data}
		}
	}

	return nil
}

// isPubKey returns whether data parses as a secp256k1 public key.
func isPubKey(data []byte) bool {
	if len(data) != btcec.PubKeyBytesLenCompressed &&
		len(data) != pubKeyBytesLenUncompressed {

		return false
	}
	_, err := btcec.ParsePubKey(data)

	return err == nil
}

// entryKind tags an entry of the symbolic stack.
type entryKind uint8

const (
	// entryStatic holds bytes known from the script itself.
	entryStatic entryKind = iota

	// entryInput is an element the unlocking data must supply. Its bytes
	// become known once an equality check binds it to a preimage.
	entryInput

	// entryHash is the digest of another entry computed by a hashing
	// opcode.
	entryHash

	// entryResult is the boolean produced by a signature check.
	entryResult
)

// entry is one element of the resolver arena. Dependent entries refer to
// their source by arena index.
type entry struct {
	kind entryKind

	// data is set for static entries and bound inputs.
	data  []byte
	bound bool

	// id is the placeholder id of an input entry.
	id uint32

	// op and src describe a hash entry.
	op  byte
	src int
}

// stackResolver walks one script leg symbolically.
type stackResolver struct {
	feed Feed

	arena  []entry
	stack  []int
	nextID uint32
	items  map[uint32]StackItem

	// p2sh is set when the script being walked is the P2SH template and
	// redeem receives the bound redeem script.
	p2sh   bool
	redeem []byte

	hasCSV  bool
	hasCLTV bool
}

// newStackResolver returns a resolver with an empty arena and id counter.
func newStackResolver(feed Feed) *stackResolver {
	return &stackResolver{
		feed:  feed,
		items: make(map[uint32]StackItem),
	}
}

// pushEntry appends e to the arena and pushes it on the stack.
func (r *stackResolver) pushEntry(e entry) {
	r.arena = append(r.arena, e)
	r.stack = append(r.stack, len(r.arena)-1)
}

// pushStatic pushes known bytes.
func (r *stackResolver) pushStatic(data []byte) {
	r.pushEntry(entry{kind: entryStatic, data: data, bound: true})
}

// pull creates a new input entry, i.e. an element the unlocking data has to
// place below everything the script has consumed so far.
func (r *stackResolver) pull() int {
	r.arena = append(r.arena, entry{kind: entryInput, id: r.nextID})
	r.nextID++

	return len(r.arena) - 1
}

// pop removes the top of the stack. Popping an empty stack pulls a new input.
func (r *stackResolver) pop() int {
	if len(r.stack) == 0 {
		return r.pull()
	}

	idx := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]

	return idx
}

// peek returns the top of the stack, pulling an input onto it if empty.
func (r *stackResolver) peek() int {
	if len(r.stack) == 0 {
		r.stack = append(r.stack, r.pull())
	}

	return r.stack[len(r.stack)-1]
}

// known returns the bytes of the entry at idx if they are known.
func (r *stackResolver) known(idx int) ([]byte, bool) {
	e := &r.arena[idx]
	switch e.kind {
	case entryStatic, entryInput:
		return e.data, e.bound
	}

	return nil, false
}

// unboundInput returns the placeholder id of the entry at idx if it is an
// input without an item yet.
func (r *stackResolver) unboundInput(idx int) (uint32, bool) {
	e := &r.arena[idx]
	if e.kind != entryInput || e.bound {
		return 0, false
	}
	if _, ok := r.items[e.id]; ok {
		return 0, false
	}

	return e.id, true
}

// resolveErr wraps err as a resolution error.
func resolveErr(err error, format string, args ...interface{}) error {
	return sigerr.Newf(sigerr.KindResolution, err, format, args...)
}

// run walks script. The stack is reset but the id counter carries over so
// that a redeem script continues numbering after its P2SH wrapper.
func (r *stackResolver) run(script []byte) error {
	r.stack = r.stack[:0]

	codeSep := 0
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()

		switch {
		case op == txscript.OP_0:
			r.pushStatic(nil)

		case op <= txscript.OP_PUSHDATA4:
			r.pushStatic(cloneBytes(tokenizer.Data()))

		case op == txscript.OP_1NEGATE:
			r.pushStatic(scriptnum.Num(-1).Bytes())

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			r.pushStatic(scriptnum.Num(op - txscript.OP_1 + 1).Bytes())

		case op == txscript.OP_NOP:

		case op == txscript.OP_CODESEPARATOR:
			codeSep = int(tokenizer.ByteIndex())

		case op == txscript.OP_DUP:
			idx := r.pop()
			r.stack = append(r.stack, idx, idx)

		case op == txscript.OP_DROP:
			idx := r.pop()
			if _, ok := r.unboundInput(idx); ok {
				return resolveErr(ErrUnresolvedEntry,
					"dropped element is never constrained")
			}

		case op == txscript.OP_RIPEMD160, op == txscript.OP_SHA256,
			op == txscript.OP_HASH160, op == txscript.OP_HASH256:

			r.hash(op)

		case op == txscript.OP_EQUAL, op == txscript.OP_EQUALVERIFY:
			if err := r.equal(op == txscript.OP_EQUALVERIFY); err != nil {
				return err
			}

		case op == txscript.OP_VERIFY:
			if err := r.verify(); err != nil {
				return err
			}

		case op == txscript.OP_CHECKSIG, op == txscript.OP_CHECKSIGVERIFY:
			err := r.checkSig(
				script[codeSep:], op == txscript.OP_CHECKSIGVERIFY,
			)
			if err != nil {
				return err
			}

		case op == txscript.OP_CHECKMULTISIG,
			op == txscript.OP_CHECKMULTISIGVERIFY:

			err := r.checkMultiSig(
				script[codeSep:],
				op == txscript.OP_CHECKMULTISIGVERIFY,
			)
			if err != nil {
				return err
			}

		case op == txscript.OP_CHECKLOCKTIMEVERIFY:
			if _, ok := r.known(r.peek()); !ok {
				return resolveErr(ErrUnresolvedEntry,
					"locktime operand is not static")
			}
			r.hasCLTV = true

		case op == txscript.OP_CHECKSEQUENCEVERIFY:
			if _, ok := r.known(r.peek()); !ok {
				return resolveErr(ErrUnresolvedEntry,
					"sequence operand is not static")
			}
			r.hasCSV = true

		default:
			return resolveErr(ErrUnsupportedOpcode, "%s",
				opcodeName(op))
		}
	}
	if err := tokenizer.Err(); err != nil {
		return resolveErr(ErrMalformedScript, "%v", err)
	}

	return nil
}

// opcodeName returns the mnemonic of op.
func opcodeName(op byte) string {
	name, err := txscript.DisasmString([]byte{op})
	if err != nil {
		return fmt.Sprintf("opcode 0x%02x", op)
	}

	return name
}

// hash applies a hashing opcode. Known bytes are hashed directly, anything
// else becomes a hash entry whose source is resolved at the next equality.
func (r *stackResolver) hash(op byte) {
	src := r.pop()
	if data, ok := r.known(src); ok {
		digest, _ := stdscript.Digest(op, data)
		r.pushStatic(digest)

		return
	}

	r.pushEntry(entry{kind: entryHash, op: op, src: src})
}

// equal handles EQUAL and EQUALVERIFY. When one side is a known digest and
// the other the hash of an unknown input, the feed is asked for the preimage
// and the input is bound to it.
func (r *stackResolver) equal(isVerify bool) error {
	a, b := r.pop(), r.pop()

	dataA, okA := r.known(a)
	dataB, okB := r.known(b)

	var result bool
	switch {
	case okA && okB:
		result = bytes.Equal(dataA, dataB)

	case okA && r.arena[b].kind == entryHash:
		if err := r.bindPreimage(b, dataA); err != nil {
			return err
		}
		result = true

	case okB && r.arena[a].kind == entryHash:
		if err := r.bindPreimage(a, dataB); err != nil {
			return err
		}
		result = true

	default:
		return resolveErr(ErrUnresolvedEntry,
			"equality between two unknown elements")
	}

	if isVerify {
		if !result {
			return resolveErr(ErrMalformedScript,
				"EQUALVERIFY of static elements fails")
		}

		return nil
	}

	r.pushStatic(scriptnum.FromBool(result))

	return nil
}

// bindPreimage resolves the input behind the hash entry at hashIdx so that
// it hashes to digest.
func (r *stackResolver) bindPreimage(hashIdx int, digest []byte) error {
	h := r.arena[hashIdx]
	id, ok := r.unboundInput(h.src)
	if !ok {
		return resolveErr(ErrUnresolvedEntry,
			"hash source is not a free input")
	}

	preimage, err := r.feed.ResolveByHash(digest)
	if err != nil {
		return resolveErr(err, "resolve %x", digest)
	}

	check, _ := stdscript.Digest(h.op, preimage)
	if !bytes.Equal(check, digest) {
		return resolveErr(ErrHashMismatch, "preimage of %x", digest)
	}

	src := &r.arena[h.src]
	src.data = preimage
	src.bound = true

	if r.p2sh && r.redeem == nil {
		r.redeem = preimage
		r.items[id] = NewSerializedScript(id, preimage)

		return nil
	}

	r.items[id] = NewPushData(id, preimage)

	return nil
}

// verify handles OP_VERIFY.
func (r *stackResolver) verify() error {
	idx := r.pop()
	if r.arena[idx].kind == entryResult {
		return nil
	}

	data, ok := r.known(idx)
	if !ok {
		return resolveErr(ErrUnresolvedEntry, "VERIFY of unknown element")
	}
	if !scriptnum.AsBool(data) {
		return resolveErr(ErrMalformedScript, "VERIFY of false element")
	}

	return nil
}

// checkSig binds a Sig placeholder to the public key on top of the stack.
func (r *stackResolver) checkSig(subScript []byte, isVerify bool) error {
	pkIdx, sigIdx := r.pop(), r.pop()

	pubKey, ok := r.known(pkIdx)
	if !ok {
		return resolveErr(ErrUnresolvedEntry, "CHECKSIG public key "+
			"is unknown")
	}

	id, ok := r.unboundInput(sigIdx)
	if !ok {
		return resolveErr(ErrUnresolvedEntry, "CHECKSIG signature is "+
			"not supplied by the unlocking data")
	}
	r.items[id] = NewSig(id, pubKey, subScript)

	if !isVerify {
		r.pushEntry(entry{kind: entryResult})
	}

	return nil
}

// smallInt decodes a static small integer operand.
func (r *stackResolver) smallInt(idx int, what string) (int, error) {
	data, ok := r.known(idx)
	if !ok {
		return 0, resolveErr(ErrUnresolvedEntry, "%s is not static",
			what)
	}

	n, err := scriptnum.Make(data, true, scriptnum.DefaultMaxLen)
	if err != nil {
		return 0, resolveErr(ErrMalformedScript, "%s: %v", what, err)
	}

	return int(n), nil
}

// checkMultiSig binds a MultiSig placeholder for all signatures and an
// OP_0 placeholder for the extra element CHECKMULTISIG consumes.
func (r *stackResolver) checkMultiSig(subScript []byte, isVerify bool) error {
	n, err := r.smallInt(r.pop(), "key count")
	if err != nil {
		return err
	}
	if n < 0 || n > maxPubKeysPerMultiSig {
		return resolveErr(ErrMalformedScript, "invalid key count %d", n)
	}

	// Keys are popped last first, so we'll fill the list from the back
	// to keep script order.
	pubKeys := make([][]byte, n)
	for i := n - 1; i >= 0; i-- {
		key, ok := r.known(r.pop())
		if !ok {
			return resolveErr(ErrUnresolvedEntry,
				"multisig public key %d is unknown", i)
		}
		pubKeys[i] = key
	}

	m, err := r.smallInt(r.pop(), "signature count")
	if err != nil {
		return err
	}
	if m < 0 || m > n {
		return resolveErr(ErrMalformedScript,
			"invalid threshold %d of %d", m, n)
	}

	sigID, ok := r.unboundInput(r.pop())
	if !ok {
		return resolveErr(ErrUnresolvedEntry, "multisig signatures "+
			"are not supplied by the unlocking data")
	}
	r.items[sigID] = NewMultiSig(sigID, m, pubKeys, subScript)

	dummyID, ok := r.unboundInput(r.pop())
	if !ok {
		return resolveErr(ErrUnresolvedEntry, "multisig dummy is not "+
			"supplied by the unlocking data")
	}
	r.items[dummyID] = NewOpCode(dummyID, txscript.OP_0)

	if !isVerify {
		r.pushEntry(entry{kind: entryResult})
	}

	return nil
}

// finish checks that every pulled input has been bound and returns the
// items ordered by id.
func (r *stackResolver) finish() ([]StackItem, error) {
	items := make([]StackItem, 0, len(r.items))
	for id := uint32(0); id < r.nextID; id++ {
		item, ok := r.items[id]
		if !ok {
			return nil, resolveErr(ErrUnresolvedEntry,
				"placeholder %d has no binding", id)
		}
		items = append(items, item)
	}

	return items, nil
}

// Resolve walks pkScript and returns the placeholders an unlocking script
// and witness must supply to satisfy it. The feed is queried for the
// preimages of every hash the script commits to. Errors are sigerr.Error
// values of kind KindResolution, wrapping ErrNotFound when the feed lacks a
// preimage.
func Resolve(pkScript []byte, feed Feed) (*ResolvedStack, error) {
	var (
		result *ResolvedStack
		err    error
	)

	switch program, ok := stdscript.WitnessProgram(pkScript); {
	case ok:
		result = &ResolvedStack{}
		result.Witness, err = resolveWitness(program, feed)

	default:
		result, err = resolveLegacy(pkScript, feed)
	}
	if err != nil {
		return nil, err
	}

	result.Paths = collectPaths(result, feed)

	log.Tracef("Resolved %x: %v", pkScript, newLogClosure(func() string {
		return spew.Sdump(result)
	}))

	return result, nil
}

// resolveLegacy resolves a script spent through scriptSig, following a P2SH
// redeem script and a nested witness program.
func resolveLegacy(pkScript []byte, feed Feed) (*ResolvedStack, error) {
	r := newStackResolver(feed)
	r.p2sh = stdscript.IsPayToScriptHash(pkScript)

	if err := r.run(pkScript); err != nil {
		return nil, err
	}

	result := &ResolvedStack{IsP2SH: r.p2sh}

	if r.p2sh {
		switch {
		case r.redeem == nil:
			return nil, resolveErr(ErrUnresolvedEntry,
				"p2sh redeem script not bound")

		case stdscript.IsPayToScriptHash(r.redeem):
			return nil, resolveErr(ErrNestedP2SH, "redeem %x",
				r.redeem)
		}

		// A witness program redeem script is satisfied from the
		// witness. The legacy leg only pushes the program itself.
		if program, ok := stdscript.WitnessProgram(r.redeem); ok {
			witness, err := resolveWitness(program, feed)
			if err != nil {
				return nil, err
			}
			result.Witness = witness
		} else if err := r.run(r.redeem); err != nil {
			return nil, err
		}
	}

	items, err := r.finish()
	if err != nil {
		return nil, err
	}

	result.Items = items
	result.HasCSV = r.hasCSV
	result.HasCLTV = r.hasCLTV

	return result, nil
}

// resolveWitness resolves a version 0 witness program. The id counter starts
// afresh since the witness is a separate stack.
func resolveWitness(program []byte, feed Feed) (*ResolvedStack, error) {
	w := newStackResolver(feed)

	var script []byte
	switch len(program) {
	case stdscript.PubKeyHashLen:
		var err error
		script, err = stdscript.PayToPubKeyHash(program)
		if err != nil {
			return nil, resolveErr(ErrMalformedScript, "%v", err)
		}

	case stdscript.ScriptHashLen:
		witnessScript, err := feed.ResolveByHash(program)
		if err != nil {
			return nil, resolveErr(err, "resolve witness script %x",
				program)
		}

		check, _ := stdscript.Digest(txscript.OP_SHA256, witnessScript)
		if !bytes.Equal(check, program) {
			return nil, resolveErr(ErrHashMismatch,
				"witness script of %x", program)
		}
		if stdscript.IsPayToScriptHash(witnessScript) {
			return nil, resolveErr(ErrNestedP2SH, "witness script %x",
				witnessScript)
		}

		// The witness script is the last witness element, so it
		// takes the first id.
		w.pull()
		w.items[0] = NewSerializedScript(0, witnessScript)
		script = witnessScript

	default:
		return nil, resolveErr(ErrMalformedScript,
			"witness program length %d", len(program))
	}

	if err := w.run(script); err != nil {
		return nil, err
	}

	items, err := w.finish()
	if err != nil {
		return nil, err
	}

	return &ResolvedStack{
		Items:   items,
		HasCSV:  w.hasCSV,
		HasCLTV: w.hasCLTV,
	}, nil
}

// collectPaths asks a PathFeed for the derivation path of every public key
// in the resolved stack. Keys without a path are skipped.
func collectPaths(result *ResolvedStack, feed Feed) map[string]BIP32Path {
	paths := make(map[string]BIP32Path)

	pathFeed, ok := feed.(PathFeed)
	if !ok {
		return paths
	}

	for _, pubKey := range result.PubKeys() {
		path, err := pathFeed.Bip32PathForPubKey(pubKey)
		if err != nil {
			continue
		}
		paths[hex.EncodeToString(pubKey)] = path
	}

	return paths
}
