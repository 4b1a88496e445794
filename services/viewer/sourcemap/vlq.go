// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sourcemap

import (
	"errors"
	"fmt"
	"strings"
)

const (
	vlqBaseShift       = 5
	vlqBase            = 1 << vlqBaseShift // 32
	vlqBaseMask        = vlqBase - 1       // 0b11111
	vlqContinuationBit = vlqBase           // 0b100000

	// maxVLQDigits bounds a single value. 7 digits carry 35 bits, enough for
	// any int32 magnitude plus the sign bit.
	maxVLQDigits = 7

	base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
)

var (
	// ErrInvalidDigit is returned when a character is not a base64 digit.
	ErrInvalidDigit = errors.New("invalid base64 digit")

	// ErrTruncatedValue is returned when input ends while a continuation bit is set.
	ErrTruncatedValue = errors.New("truncated vlq value")

	// ErrValueOverflow is returned when a value uses more than maxVLQDigits digits.
	ErrValueOverflow = errors.New("vlq value overflow")
)

// base64Values maps an ASCII byte to its 6-bit value, or -1.
var base64Values = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(base64Alphabet); i++ {
		t[base64Alphabet[i]] = int8(i)
	}
	return t
}()

// DecodeVLQ decodes one signed value starting at s[pos].
//
// Description:
//
//	Each digit contributes 5 value bits, least significant group first.
//	Bit 5 of a digit is the continuation flag. After reassembly the least
//	significant bit of the magnitude is the sign.
//
// Inputs:
//
//	s   - The encoded text.
//	pos - Byte offset of the first digit.
//
// Outputs:
//
//	value - The decoded signed integer.
//	next  - Offset of the first byte after the value.
//	error - ErrInvalidDigit, ErrTruncatedValue or ErrValueOverflow.
func DecodeVLQ(s string, pos int) (value int, next int, err error) {
	var result, shift int
	for digits := 0; ; digits++ {
		if pos >= len(s) {
			return 0, pos, ErrTruncatedValue
		}
		if digits >= maxVLQDigits {
			return 0, pos, ErrValueOverflow
		}
		d := base64Values[s[pos]]
		if d < 0 {
			return 0, pos, fmt.Errorf("%w %q at offset %d", ErrInvalidDigit, s[pos], pos)
		}
		pos++
		result += int(d&vlqBaseMask) << shift
		if d&vlqContinuationBit == 0 {
			break
		}
		shift += vlqBaseShift
	}

	negative := result&1 == 1
	result >>= 1
	if negative {
		result = -result
	}
	return result, pos, nil
}

// EncodeVLQ encodes a signed integer as base64 VLQ digits.
func EncodeVLQ(v int) string {
	var vlq int
	if v < 0 {
		vlq = (-v << 1) | 1
	} else {
		vlq = v << 1
	}

	var b strings.Builder
	for {
		digit := vlq & vlqBaseMask
		vlq >>= vlqBaseShift
		if vlq > 0 {
			digit |= vlqContinuationBit
		}
		b.WriteByte(base64Alphabet[digit])
		if vlq == 0 {
			break
		}
	}
	return b.String()
}

// EncodeSegment encodes a list of deltas as one comma-free segment.
func EncodeSegment(deltas ...int) string {
	var b strings.Builder
	for _, d := range deltas {
		b.WriteString(EncodeVLQ(d))
	}
	return b.String()
}
