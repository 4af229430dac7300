// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sigerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestKindString checks the names of the error kinds.
func TestKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ResolutionError", KindResolution.String())
	require.Equal(t, "SigningError", KindSigning.String())
	require.Equal(t, "Unknown Kind (42)", Kind(42).String())
}

// TestErrorWrapping checks that typed errors print, unwrap and classify
// through further wrapping.
func TestErrorWrapping(t *testing.T) {
	t.Parallel()

	errBase := errors.New("base")

	testCases := []struct {
		// name is the name of the test case.
		name string

		// err is the error under test.
		err error

		// kind is the expected kind.
		kind Kind

		// msg is the expected message.
		msg string

		// wraps is whether errBase is expected in the chain.
		wraps bool
	}{
		{
			name:  "plain",
			err:   New(KindResolution, "resolve", errBase),
			kind:  KindResolution,
			msg:   "ResolutionError: resolve: base",
			wraps: true,
		},
		{
			name: "no cause",
			err:  New(KindSpenderState, "merge", nil),
			kind: KindSpenderState,
			msg:  "SpenderStateError: merge",
		},
		{
			name:  "formatted",
			err:   Newf(KindDeserialization, errBase, "input %d", 3),
			kind:  KindDeserialization,
			msg:   "DeserializationError: input 3: base",
			wraps: true,
		},
		{
			name: "wrapped",
			err: fmt.Errorf("outer: %w",
				New(KindVerification, "verify", errBase)),
			kind:  KindVerification,
			msg:   "outer: VerificationFailure: verify: base",
			wraps: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.msg, tc.err.Error())
			require.True(t, IsKind(tc.err, tc.kind))
			require.False(t, IsKind(tc.err, KindSigning))
			require.Equal(t, tc.wraps, errors.Is(tc.err, errBase))
		})
	}

	require.False(t, IsKind(errBase, KindResolution))
	require.False(t, IsKind(nil, KindResolution))
}
