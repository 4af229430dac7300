// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package interpreter

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// MUnset is the threshold of an input for which no signature check ran. An
// input in this state is never valid.
const MUnset = -1

// TxInEvalState is the verification snapshot of a single input.
type TxInEvalState struct {
	// N is the number of public keys declared by the signature checks.
	N int

	// M is the number of valid signatures required, or MUnset.
	M int

	// PubKeys maps hex encoded public keys to whether a valid signature
	// by that key was found.
	PubKeys map[string]bool

	// StackValid is set when the scripts executed without error and left
	// a true value on the stack.
	StackValid bool

	// Err is the hard failure that stopped evaluation, if any.
	Err error

	// validSigs counts the signature checks that succeeded. A key
	// satisfying several checks is counted once per check.
	validSigs int
}

// NewTxInEvalState returns an empty state.
func NewTxInEvalState() *TxInEvalState {
	return &TxInEvalState{
		M:       MUnset,
		PubKeys: make(map[string]bool),
	}
}

// addThreshold records a signature check requiring m of n keys.
func (s *TxInEvalState) addThreshold(m, n int) {
	if s.M == MUnset {
		s.M = 0
	}
	s.M += m
	s.N += n
}

// recordPubKey records the outcome of a signature check against pubKey. A
// valid result is sticky.
func (s *TxInEvalState) recordPubKey(pubKey []byte, valid bool) {
	key := hex.EncodeToString(pubKey)
	s.PubKeys[key] = s.PubKeys[key] || valid
	if valid {
		s.validSigs++
	}
}

// ValidCount returns the number of keys with a valid signature.
func (s *TxInEvalState) ValidCount() int {
	var count int
	for _, valid := range s.PubKeys {
		if valid {
			count++
		}
	}

	return count
}

// IsValid returns whether the input is fully and validly signed.
func (s *TxInEvalState) IsValid() bool {
	if !s.StackValid || s.Err != nil || s.M == MUnset {
		return false
	}

	return s.validSigs >= s.M
}

// IsSignedBy returns whether pubKey produced a valid signature.
func (s *TxInEvalState) IsSignedBy(pubKey []byte) bool {
	return s.PubKeys[hex.EncodeToString(pubKey)]
}

// Equal compares the outcome of two evaluations: validity, thresholds and
// per-key results. Errors are compared by presence only.
func (s *TxInEvalState) Equal(other *TxInEvalState) bool {
	if s.IsValid() != other.IsValid() || s.M != other.M ||
		s.N != other.N || (s.Err == nil) != (other.Err == nil) {

		return false
	}

	if len(s.PubKeys) != len(other.PubKeys) {
		return false
	}
	for k, v := range s.PubKeys {
		if ov, ok := other.PubKeys[k]; !ok || ov != v {
			return false
		}
	}

	return true
}

// String returns a one line summary of the state.
func (s *TxInEvalState) String() string {
	keys := make([]string, 0, len(s.PubKeys))
	for k, v := range s.PubKeys {
		keys = append(keys, fmt.Sprintf("%s:%v", k, v))
	}
	sort.Strings(keys)

	return fmt.Sprintf("valid=%v m=%d n=%d keys=[%s] err=%v", s.IsValid(),
		s.M, s.N, strings.Join(keys, " "), s.Err)
}

// TxEvalState aggregates the input states of a transaction.
type TxEvalState struct {
	inputs []*TxInEvalState

	// Err is a failure of the transaction as a whole, such as outputs
	// spending more than the inputs provide.
	Err error
}

// NewTxEvalState returns a state for numInputs inputs, each initially
// unset.
func NewTxEvalState(numInputs int) *TxEvalState {
	s := &TxEvalState{inputs: make([]*TxInEvalState, numInputs)}
	for i := range s.inputs {
		s.inputs[i] = NewTxInEvalState()
	}

	return s
}

// Update stores the state of input idx.
func (s *TxEvalState) Update(idx int, state *TxInEvalState) {
	s.inputs[idx] = state
}

// Input returns the state of input idx.
func (s *TxEvalState) Input(idx int) *TxInEvalState {
	return s.inputs[idx]
}

// Len returns the number of inputs.
func (s *TxEvalState) Len() int {
	return len(s.inputs)
}

// IsValid returns whether there is at least one input and every input is
// valid.
func (s *TxEvalState) IsValid() bool {
	if len(s.inputs) == 0 || s.Err != nil {
		return false
	}
	for _, in := range s.inputs {
		if !in.IsValid() {
			return false
		}
	}

	return true
}

// Invalid returns the indexes of the inputs that are not valid.
func (s *TxEvalState) Invalid() []int {
	var idx []int
	for i, in := range s.inputs {
		if !in.IsValid() {
			idx = append(idx, i)
		}
	}

	return idx
}

// Equal returns whether both states hold equal input states.
func (s *TxEvalState) Equal(other *TxEvalState) bool {
	if len(s.inputs) != len(other.inputs) ||
		(s.Err == nil) != (other.Err == nil) {

		return false
	}
	for i := range s.inputs {
		if !s.inputs[i].Equal(other.inputs[i]) {
			return false
		}
	}

	return true
}
