// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo scales weight units to kilo-weight units.
	kilo = 1000

	// rateDecimals is the number of decimals a rate is printed with, so
	// that rates below 1 sat/vb are still told apart.
	rateDecimals = 3
)

// SatPerVByte is a fee rate in satoshis per virtual byte. It is held as an
// exact ratio of satoshis per kilo-weight unit.
type SatPerVByte struct {
	satsPerKWU *big.Rat
}

// NewSatPerVByte returns a rate of rate satoshis per virtual byte.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(rate, NewVByte(1))
}

// CalcSatPerVByte returns the rate that pays fee for a transaction of size
// vb. A zero size gives a zero rate.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	if vb.wu == 0 {
		return SatPerVByte{satsPerKWU: new(big.Rat)}
	}

	return SatPerVByte{satsPerKWU: big.NewRat(
		int64(fee)*kilo, capInt64(vb.wu),
	)}
}

// rat returns the ratio, treating the zero value as a zero rate.
func (s SatPerVByte) rat() *big.Rat {
	if s.satsPerKWU == nil {
		return new(big.Rat)
	}

	return s.satsPerKWU
}

// FeeForVByte returns the fee this rate pays for size vb, rounded down.
func (s SatPerVByte) FeeForVByte(vb VByte) btcutil.Amount {
	fee := new(big.Rat).Mul(s.rat(), big.NewRat(capInt64(vb.wu), kilo))
	return btcutil.Amount(new(big.Int).Quo(fee.Num(), fee.Denom()).Int64())
}

// Cmp compares two rates like big.Rat.Cmp.
func (s SatPerVByte) Cmp(other SatPerVByte) int {
	return s.rat().Cmp(other.rat())
}

// Equal returns whether both rates are the same.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.Cmp(other) == 0
}

// String returns the rate in sat/vb.
func (s SatPerVByte) String() string {
	perVB := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)

	return perVB.FloatString(rateDecimals) + " sat/vb"
}

// capInt64 converts u to an int64, capping it at math.MaxInt64. Sizes are
// bounded by consensus well below the cap.
func capInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}
