// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMultiSigIsComplete checks the threshold test of multisig placeholders,
// including the 0-of-n case that needs no signature at all.
func TestMultiSigIsComplete(t *testing.T) {
	t.Parallel()

	pubKeys := [][]byte{
		testKey(1).PubKey().SerializeCompressed(),
		testKey(2).PubKey().SerializeCompressed(),
	}

	testCases := []struct {
		// name is the name of the test case.
		name string

		// m is the threshold of the placeholder.
		m int

		// sigs is the number of signatures collected.
		sigs int

		// complete is the expected result.
		complete bool
	}{
		{name: "0 of 2 unsigned", m: 0, sigs: 0, complete: true},
		{name: "1 of 2 unsigned", m: 1, sigs: 0, complete: false},
		{name: "1 of 2 signed", m: 1, sigs: 1, complete: true},
		{name: "2 of 2 partial", m: 2, sigs: 1, complete: false},
		{name: "2 of 2 signed", m: 2, sigs: 2, complete: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: A placeholder holding tc.sigs signatures.
			ms := NewMultiSig(0, tc.m, pubKeys, nil)
			for i := 0; i < tc.sigs; i++ {
				ms.Sigs[i] = []byte{0x30, byte(i)}
			}

			// Act and Assert: The threshold test matches.
			require.Equal(t, tc.complete, ms.IsComplete())
		})
	}
}
