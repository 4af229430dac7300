// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package interpreter

import (
	"fmt"

	"github.com/btcsuite/btcsigner/internal/scriptnum"
)

// stack is a script evaluation stack. The last element is the top.
type stack struct {
	items        [][]byte
	verifyMinNum bool
}

// Depth returns the number of items on the stack.
func (s *stack) Depth() int {
	return len(s.items)
}

// PushByteArray adds the given back array to the top of the stack.
func (s *stack) PushByteArray(so []byte) {
	s.items = append(s.items, so)
}

// PushInt pushes a script number.
func (s *stack) PushInt(n scriptnum.Num) {
	s.PushByteArray(n.Bytes())
}

// PushBool pushes a boolean.
func (s *stack) PushBool(v bool) {
	s.PushByteArray(scriptnum.FromBool(v))
}

// PopByteArray pops the value off the top of the stack and returns it.
func (s *stack) PopByteArray() ([]byte, error) {
	return s.nipN(0)
}

// PopInt pops a script number limited to scriptnum.DefaultMaxLen bytes.
func (s *stack) PopInt() (scriptnum.Num, error) {
	so, err := s.PopByteArray()
	if err != nil {
		return 0, err
	}

	return scriptnum.Make(so, s.verifyMinNum, scriptnum.DefaultMaxLen)
}

// PopBool pops a boolean.
func (s *stack) PopBool() (bool, error) {
	so, err := s.PopByteArray()
	if err != nil {
		return false, err
	}

	return scriptnum.AsBool(so), nil
}

// PeekByteArray returns the Nth item on the stack without removing it.
func (s *stack) PeekByteArray(idx int) ([]byte, error) {
	sz := len(s.items)
	if idx < 0 || idx >= sz {
		return nil, fmt.Errorf("%w: index %d, depth %d",
			ErrStackUnderflow, idx, sz)
	}

	return s.items[sz-idx-1], nil
}

// nipN removes the Nth object on the stack and returns it.
func (s *stack) nipN(idx int) ([]byte, error) {
	sz := len(s.items)
	if idx < 0 || idx > sz-1 {
		return nil, fmt.Errorf("%w: index %d, depth %d",
			ErrStackUnderflow, idx, sz)
	}

	so := s.items[sz-idx-1]
	if idx == 0 {
		s.items = s.items[:sz-1]
	} else {
		copy(s.items[sz-idx-1:], s.items[sz-idx:])
		s.items = s.items[:sz-1]
	}

	return so, nil
}

// NipN removes the Nth object on the stack.
func (s *stack) NipN(idx int) error {
	_, err := s.nipN(idx)
	return err
}

// Tuck copies the item at the top of the stack and inserts it before the
// 2nd to top item.
func (s *stack) Tuck() error {
	so2, err := s.PopByteArray()
	if err != nil {
		return err
	}
	so1, err := s.PopByteArray()
	if err != nil {
		return err
	}
	s.PushByteArray(so2)
	s.PushByteArray(so1)
	s.PushByteArray(so2)

	return nil
}

// DropN removes the top N items from the stack.
func (s *stack) DropN(n int) error {
	if n < 1 || n > len(s.items) {
		return fmt.Errorf("%w: drop %d, depth %d", ErrStackUnderflow,
			n, len(s.items))
	}
	s.items = s.items[:len(s.items)-n]

	return nil
}

// DupN duplicates the top N items on the stack.
func (s *stack) DupN(n int) error {
	if n < 1 || n > len(s.items) {
		return fmt.Errorf("%w: dup %d, depth %d", ErrStackUnderflow,
			n, len(s.items))
	}

	// Iteratively duplicate the value n-1 down the stack n times. This
	// leaves an in-order duplicate of the top n items on the stack.
	for i := n; i > 0; i-- {
		so, err := s.PeekByteArray(n - 1)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}

	return nil
}

// RotN rotates the top 3N items on the stack to the left N times.
func (s *stack) RotN(n int) error {
	if n < 1 || 3*n > len(s.items) {
		return fmt.Errorf("%w: rot %d, depth %d", ErrStackUnderflow,
			n, len(s.items))
	}

	entry := 3*n - 1
	for i := n; i > 0; i-- {
		so, err := s.nipN(entry)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}

	return nil
}

// SwapN swaps the top N items on the stack with those below them.
func (s *stack) SwapN(n int) error {
	if n < 1 || 2*n > len(s.items) {
		return fmt.Errorf("%w: swap %d, depth %d", ErrStackUnderflow,
			n, len(s.items))
	}

	entry := 2*n - 1
	for i := n; i > 0; i-- {
		// Swap 2n-1th entry to top.
		so, err := s.nipN(entry)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}

	return nil
}

// OverN copies N items N items back to the top of the stack.
func (s *stack) OverN(n int) error {
	if n < 1 || 2*n > len(s.items) {
		return fmt.Errorf("%w: over %d, depth %d", ErrStackUnderflow,
			n, len(s.items))
	}

	// Copy 2n-1th entry to top of the stack.
	entry := 2*n - 1
	for ; n > 0; n-- {
		so, err := s.PeekByteArray(entry)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}

	return nil
}

// PickN copies the item N items back in the stack to the top.
func (s *stack) PickN(n int) error {
	so, err := s.PeekByteArray(n)
	if err != nil {
		return err
	}
	s.PushByteArray(so)

	return nil
}

// RollN moves the item N items back in the stack to the top.
func (s *stack) RollN(n int) error {
	so, err := s.nipN(n)
	if err != nil {
		return err
	}
	s.PushByteArray(so)

	return nil
}
