// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scriptnum implements the little-endian sign-magnitude numbers used
// by script arithmetic and by the small integer pushes of multisig templates.
package scriptnum

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultMaxLen is the default number of bytes allowed for numbers
	// that are consumed by arithmetic opcodes.
	DefaultMaxLen = 4

	// LockTimeMaxLen is the number of bytes allowed for the operands of
	// CHECKLOCKTIMEVERIFY and CHECKSEQUENCEVERIFY.
	LockTimeMaxLen = 5
)

var (
	// ErrNumberTooBig is returned when a number exceeds the maximum
	// allowed length.
	ErrNumberTooBig = errors.New("script number overflow")

	// ErrMinimalData is returned when a number is not minimally encoded.
	ErrMinimalData = errors.New("non-minimally encoded script number")
)

// Num is a script number. Values are int64 so results of arithmetic on
// 4-byte operands can never overflow.
type Num int64

// checkMinimalDataEncoding returns whether or not the passed byte array
// adheres to the minimal encoding requirements.
func checkMinimalDataEncoding(v []byte) error {
	if len(v) == 0 {
		return nil
	}

	// The most significant byte, excluding the sign bit, must not be zero
	// unless the next byte needs its high bit for the sign.
	if v[len(v)-1]&0x7f == 0 {
		if len(v) == 1 || v[len(v)-2]&0x80 == 0 {
			return fmt.Errorf("%w: %x", ErrMinimalData, v)
		}
	}

	return nil
}

// Bytes returns the number serialized as a little endian with a sign bit.
//
// Example encodings:
//
//	   127 -> [0x7f]
//	  -127 -> [0xff]
//	   128 -> [0x80 0x00]
//	  -128 -> [0x80 0x80]
//	   129 -> [0x81 0x00]
//	  -129 -> [0x81 0x80]
//	   256 -> [0x00 0x01]
//	  -256 -> [0x00 0x81]
//	 32767 -> [0xff 0x7f]
//	-32767 -> [0xff 0xff]
//	 32768 -> [0x00 0x80 0x00]
//	-32768 -> [0x00 0x80 0x80]
func (n Num) Bytes() []byte {
	if n == 0 {
		return nil
	}

	isNegative := n < 0
	if isNegative {
		n = -n
	}

	result := make([]byte, 0, 9)
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}

	// When the most significant byte already has the high bit set, an
	// additional byte is required to carry the sign.
	if result[len(result)-1]&0x80 != 0 {
		extraByte := byte(0x00)
		if isNegative {
			extraByte = 0x80
		}
		result = append(result, extraByte)
	} else if isNegative {
		result[len(result)-1] |= 0x80
	}

	return result
}

// Int32 returns the number clamped to a valid int32.
func (n Num) Int32() int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}

	return int32(n)
}

// Make interprets the passed serialized bytes as an encoded integer and
// returns the result as a script number.
func Make(v []byte, requireMinimal bool, maxLen int) (Num, error) {
	if len(v) > maxLen {
		return 0, fmt.Errorf("%w: %d bytes > max %d", ErrNumberTooBig,
			len(v), maxLen)
	}

	if requireMinimal {
		if err := checkMinimalDataEncoding(v); err != nil {
			return 0, err
		}
	}

	if len(v) == 0 {
		return 0, nil
	}

	var result int64
	for i, val := range v {
		result |= int64(val) << uint8(8*i)
	}

	// The sign bit lives in the most significant byte.
	if v[len(v)-1]&0x80 != 0 {
		result &= ^(int64(0x80) << uint8(8*(len(v)-1)))
		return Num(-result), nil
	}

	return Num(result), nil
}

// AsBool returns the boolean interpretation of a stack element. Any non-zero
// value is true, with negative zero also counting as false.
func AsBool(t []byte) bool {
	for i := range t {
		if t[i] != 0 {
			// Negative zero is still zero.
			if i == len(t)-1 && t[i] == 0x80 {
				return false
			}
			return true
		}
	}

	return false
}

// FromBool converts a boolean into the appropriate stack element.
func FromBool(v bool) []byte {
	if v {
		return []byte{1}
	}

	return nil
}
