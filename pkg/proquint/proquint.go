// Copyright 2018 The Kura Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package proquint renders integers as pronounceable identifiers, such as
// "lusab-babad", which the server uses to name sessions in its logs.
package proquint

import (
	"errors"
	"fmt"
	"strings"
)

const (
	consonants = "bdfghjklmnprstvz"
	vowels     = "aiou"
)

// ErrInvalid is wrapped by every decoding failure.
var ErrInvalid = errors.New("invalid proquint")

// Encode16 renders i as five letters of alternating consonants and vowels:
//
// Four-bits as a consonant:
//	0 1 2 3 4 5 6 7 8 9 A B C D E F
//	b d f g h j k l m n p r s t v z
//
// Two-bits as a vowel:
//	0 1 2 3
//	a i o u
//
// Whole 16-bit word, where "con" = consonant, "vo" = vowel:
//	0 1 2 3 4 5 6 7 8 9 A B C D E F
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|con    |vo |con    |vo |con    |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
func Encode16(i uint16) string {
	var b [5]byte
	b[0] = consonants[i>>12]
	b[1] = vowels[i>>10&3]
	b[2] = consonants[i>>6&0xF]
	b[3] = vowels[i>>4&3]
	b[4] = consonants[i&0xF]
	return string(b[:])
}

// Encode32 renders i as two words joined by a dash, high half first.
func Encode32(i uint32) string {
	return Encode16(uint16(i>>16)) + "-" + Encode16(uint16(i))
}

// Encode64 renders i as four words joined by dashes, high half first.
func Encode64(i uint64) string {
	return Encode32(uint32(i>>32)) + "-" + Encode32(uint32(i))
}

// Decode16 is the inverse of Encode16.
func Decode16(quint string) (uint16, error) {
	if len(quint) != 5 {
		return 0, fmt.Errorf("%w %q: want 5 letters", ErrInvalid, quint)
	}

	var i uint16
	for j := 0; j < len(quint); j++ {
		alphabet, bits := consonants, 4
		if j%2 == 1 {
			alphabet, bits = vowels, 2
		}
		n := strings.IndexByte(alphabet, quint[j])
		if n < 0 {
			return 0, fmt.Errorf("%w %q: unexpected %q", ErrInvalid, quint, quint[j])
		}
		i = i<<bits | uint16(n)
	}
	return i, nil
}

// Decode32 is the inverse of Encode32.
func Decode32(quint string) (uint32, error) {
	hi, lo, ok := strings.Cut(quint, "-")
	if !ok {
		return 0, fmt.Errorf("%w %q: want two words", ErrInvalid, quint)
	}
	h, err := Decode16(hi)
	if err != nil {
		return 0, err
	}
	l, err := Decode16(lo)
	if err != nil {
		return 0, err
	}
	return uint32(h)<<16 | uint32(l), nil
}

// Decode64 is the inverse of Encode64.
func Decode64(quint string) (uint64, error) {
	if len(quint) != 5*4+3 {
		return 0, fmt.Errorf("%w %q: want four words", ErrInvalid, quint)
	}
	h, err := Decode32(quint[:11])
	if err != nil {
		return 0, err
	}
	if quint[11] != '-' {
		return 0, fmt.Errorf("%w %q: want four words", ErrInvalid, quint)
	}
	l, err := Decode32(quint[12:])
	if err != nil {
		return 0, err
	}
	return uint64(h)<<32 | uint64(l), nil
}
