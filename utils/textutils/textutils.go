// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package textutils provides text normalization helpers.
package textutils

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LowerASCIIFolding normalizes a string by removing accents, lowercasing, and trimming spaces.
func LowerASCIIFolding(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.TrimSpace(strings.ToLower(s)),
	)

	return s
}

// dashes that people paste from word processors in place of an ASCII minus.
var dashes = runes.In(&unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x2010, Hi: 0x2015, Stride: 1},
		{Lo: 0x2212, Hi: 0x2212, Stride: 1},
		{Lo: 0xfe58, Hi: 0xfe58, Stride: 1},
		{Lo: 0xfe63, Hi: 0xfe63, Stride: 1},
		{Lo: 0xff0d, Hi: 0xff0d, Stride: 1},
	},
})

// NormalizeNumerals applies NFKC, so full-width digits and commas become
// ASCII, and replaces dash look-alikes with '-'.
func NormalizeNumerals(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFKC,
			runes.Map(func(r rune) rune {
				if dashes.Contains(r) {
					return '-'
				}

				return r
			}),
		),
		s,
	)

	return s
}

// FormatInt formats an integer with commas for human readability.
func FormatInt(n int64) string {
	in := strconv.FormatInt(n, 10)

	numOfDigits := len(in)
	if n < 0 {
		numOfDigits-- // First character is the - sign (not a digit)
	}

	numOfCommas := (numOfDigits - 1) / 3

	out := make([]byte, len(in)+numOfCommas)
	if n < 0 {
		in, out[0] = in[1:], '-'
	}

	for i, j, k := len(in)-1, len(out)-1, 0; ; i, j = i-1, j-1 {
		out[j] = in[i]
		if i == 0 {
			return string(out)
		}

		if k++; k == 3 {
			j, k = j-1, 0
			out[j] = ','
		}
	}
}
