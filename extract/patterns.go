// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/utils/textutils"
)

// number is a signed decimal literal, fraction optional.
const number = `(-?\d+(?:\.\d+)?)`

var (
	queryRegex = regexp.MustCompile(`(?i)[?&]query=` + number + `%2C` + number)
	pinRegex   = regexp.MustCompile(`@` + number + `,` + number + `,?\d*z?`)
	qRegex     = regexp.MustCompile(`[?&]q=` + number + `,` + number)
	placeRegex = regexp.MustCompile(`/place/[^/]+/@` + number + `,` + number)
	bareRegex  = regexp.MustCompile(number + `\s*,\s*` + number)
)

// Anchored rules, tried in order. Each captures latitude then longitude.
var pinnedRules = []*regexp.Regexp{
	queryRegex,
	pinRegex,
	qRegex,
	placeRegex,
}

// PatternExtractor finds coordinates written in the text of a map link.
// It never touches the network.
type PatternExtractor struct {
	normalize bool
}

// NewPatternExtractor returns an extractor. When normalize is set, inputs
// are NFKC normalized and dash look-alikes become '-' before matching.
func NewPatternExtractor(normalize bool) *PatternExtractor {
	return &PatternExtractor{normalize: normalize}
}

// Method implements Layer.
func (*PatternExtractor) Method() Method {
	return MethodPattern
}

// Extract implements Layer.
func (e *PatternExtractor) Extract(_ context.Context, raw string) (spatial.Point, bool) {
	p, err := e.Match(raw)

	return p, err == nil
}

// Match returns the coordinates of raw or the reason there are none:
// ErrEmptyInput, ErrNoMatch or ErrOutOfRange. The first rule that matches
// decides; an out of range match does not fall through to later rules.
func (e *PatternExtractor) Match(raw string) (spatial.Point, error) {
	if strings.TrimSpace(raw) == "" {
		return spatial.Point{}, ErrEmptyInput
	}

	if e.normalize {
		raw = textutils.NormalizeNumerals(raw)
	}

	for _, rule := range pinnedRules {
		if m := rule.FindStringSubmatch(raw); m != nil {
			return pair(m[1], m[2])
		}
	}

	return matchBare(unescape(raw))
}

// matchPin applies the pin marker rule alone.
func matchPin(s string) (spatial.Point, error) {
	m := pinRegex.FindStringSubmatch(s)
	if m == nil {
		return spatial.Point{}, ErrNoMatch
	}

	return pair(m[1], m[2])
}

// matchBare finds the first "a,b" pair and guesses the order: (lat, lng)
// when it fits, else (lng, lat).
func matchBare(s string) (spatial.Point, error) {
	m := bareRegex.FindStringSubmatch(s)
	if m == nil {
		return spatial.Point{}, ErrNoMatch
	}

	a, errA := strconv.ParseFloat(m[1], 64)
	b, errB := strconv.ParseFloat(m[2], 64)

	if errA != nil || errB != nil {
		return spatial.Point{}, ErrOutOfRange
	}

	switch {
	case math.Abs(a) <= 90 && math.Abs(b) <= 180:
		return spatial.Point{Lat: a, Lng: b}, nil
	case math.Abs(b) <= 90 && math.Abs(a) <= 180:
		return spatial.Point{Lat: b, Lng: a}, nil
	default:
		return spatial.Point{}, ErrOutOfRange
	}
}

// pair parses captured latitude and longitude literals and validates them.
func pair(latText, lngText string) (spatial.Point, error) {
	lat, errLat := strconv.ParseFloat(latText, 64)
	lng, errLng := strconv.ParseFloat(lngText, 64)

	// Only overflow can fail here; treat it as out of range.
	if errLat != nil || errLng != nil {
		return spatial.Point{}, ErrOutOfRange
	}

	p, ok := spatial.Validate(lng, lat)
	if !ok {
		return spatial.Point{}, ErrOutOfRange
	}

	return p, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}

	return 0, false
}

// unescape decodes %XX sequences and leaves malformed ones untouched.
// '+' is kept as is.
func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	var sb strings.Builder

	sb.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])

			if ok1 && ok2 {
				sb.WriteByte(hi<<4 | lo)

				i += 2

				continue
			}
		}

		sb.WriteByte(s[i])
	}

	return sb.String()
}
