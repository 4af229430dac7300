// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scriptnum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNumBytes checks the encoding of script numbers and that decoding
// inverts it.
func TestNumBytes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		num        Num
		serialized []byte
	}{
		{0, nil},
		{1, []byte{0x01}},
		{-1, []byte{0x81}},
		{127, []byte{0x7f}},
		{-127, []byte{0xff}},
		{128, []byte{0x80, 0x00}},
		{-128, []byte{0x80, 0x80}},
		{256, []byte{0x00, 0x01}},
		{-256, []byte{0x00, 0x81}},
		{32768, []byte{0x00, 0x80, 0x00}},
		{-32768, []byte{0x00, 0x80, 0x80}},
		{2147483647, []byte{0xff, 0xff, 0xff, 0x7f}},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.serialized, tc.num.Bytes(), "num %d", tc.num)

		got, err := Make(tc.serialized, true, DefaultMaxLen)
		require.NoError(t, err)
		require.Equal(t, tc.num, got)
	}
}

// TestMakeRejects checks the encodings that are refused.
func TestMakeRejects(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		// name is the name of the test case.
		name string

		// serialized is the encoded number.
		serialized []byte

		// maxLen is the length limit.
		maxLen int

		// err is the expected error.
		err error
	}{
		{"too long", []byte{1, 2, 3, 4, 5}, DefaultMaxLen, ErrNumberTooBig},
		{"zero padded", []byte{0x01, 0x00}, DefaultMaxLen, ErrMinimalData},
		{"negative zero", []byte{0x80}, DefaultMaxLen, ErrMinimalData},
		{"lock time overflow", make([]byte, 6), LockTimeMaxLen,
			ErrNumberTooBig},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Make(tc.serialized, true, tc.maxLen)
			require.ErrorIs(t, err, tc.err)
		})
	}

	// Without the minimal requirement padding is accepted.
	n, err := Make([]byte{0x01, 0x00}, false, DefaultMaxLen)
	require.NoError(t, err)
	require.Equal(t, Num(1), n)
}

// TestInt32 checks clamping.
func TestInt32(t *testing.T) {
	t.Parallel()

	require.Equal(t, int32(math.MaxInt32), Num(math.MaxInt64).Int32())
	require.Equal(t, int32(math.MinInt32), Num(math.MinInt64).Int32())
	require.Equal(t, int32(-5), Num(-5).Int32())
}

// TestBool checks the truthiness of stack elements.
func TestBool(t *testing.T) {
	t.Parallel()

	require.False(t, AsBool(nil))
	require.False(t, AsBool([]byte{0x00, 0x00}))
	require.False(t, AsBool([]byte{0x00, 0x80}))
	require.True(t, AsBool([]byte{0x80, 0x00}))
	require.True(t, AsBool([]byte{0x01}))

	require.True(t, AsBool(FromBool(true)))
	require.False(t, AsBool(FromBool(false)))
}
