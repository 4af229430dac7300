// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestSizeConversion checks the conversions between weight units and
// virtual bytes.
func TestSizeConversion(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		// name is the name of the test case.
		name string

		// weight is the size in weight units.
		weight uint64

		// vbytes is the expected size in virtual bytes.
		vbytes uint64

		// str is the expected printed virtual size.
		str string
	}{
		{"zero", 0, 0, "0 vb"},
		{"exact", 400, 100, "100 vb"},
		{"rounded up", 401, 101, "101 vb"},
		{"one", 1, 1, "1 vb"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			vb := NewWeightUnit(tc.weight).ToVB()
			require.Equal(t, tc.vbytes, vb.Uint64())
			require.Equal(t, tc.str, vb.String())
			require.Equal(t, tc.weight, vb.ToWU().Uint64())
		})
	}

	require.Equal(t, uint64(40), NewVByte(10).ToWU().Uint64())
	require.Equal(t, "40 wu", NewVByte(10).ToWU().String())
}

// TestTxWeight checks the weight of a transaction without witness data.
func TestTxWeight(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	require.Equal(
		t, uint64(tx.SerializeSize()*4), TxWeight(tx).Uint64(),
	)
}

// TestSatPerVByte checks rate computation, printing and fees.
func TestSatPerVByte(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		// name is the name of the test case.
		name string

		// fee is the fee paid.
		fee btcutil.Amount

		// weight is the size paid for, in weight units.
		weight uint64

		// str is the expected printed rate.
		str string
	}{
		{"whole", 1000, 400, "10.000 sat/vb"},
		{"fractional", 1000, 561, "7.130 sat/vb"},
		{"sub-sat", 1, 4000, "0.001 sat/vb"},
		{"zero size", 1000, 0, "0.000 sat/vb"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rate := CalcSatPerVByte(
				tc.fee, NewWeightUnit(tc.weight).ToVB(),
			)
			require.Equal(t, tc.str, rate.String())
		})
	}

	ten := NewSatPerVByte(10)
	require.True(t, ten.Equal(CalcSatPerVByte(1000, NewVByte(100))))
	require.Equal(t, 1, ten.Cmp(NewSatPerVByte(9)))
	require.Equal(t, -1, SatPerVByte{}.Cmp(ten))

	// Fees round down.
	rate := CalcSatPerVByte(1000, NewWeightUnit(561).ToVB())
	require.Equal(t, btcutil.Amount(998), rate.FeeForVByte(
		NewWeightUnit(560).ToVB(),
	))
	require.Equal(t, btcutil.Amount(250), ten.FeeForVByte(
		NewWeightUnit(100).ToVB(),
	))
}
