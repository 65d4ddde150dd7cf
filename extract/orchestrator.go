// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package extract turns map links into coordinates. An Extractor runs an
// ordered list of layers, from plain pattern matching to page scraping and
// place search, either one after the other or all at once.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
)

// Mode selects how an Extractor runs its layers.
type Mode string

// Modes.
const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// ParseMode parses a mode name. The empty string is sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeParallel:
		return ModeParallel, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Extractor runs extraction layers in priority order. It is safe for
// concurrent use.
type Extractor struct {
	layers          []Layer
	overallTimeout  time.Duration
	joinTimeout     time.Duration
	agreementRadius float64
	logger          *log.Logger
}

// NewExtractor builds the layers enabled by opts.
func NewExtractor(opts Options) (*Extractor, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	opts = opts.withDefaults()

	patterns := NewPatternExtractor(opts.Normalize)
	layers := []Layer{patterns}

	if !opts.Offline {
		client := opts.newHTTPClient()

		layers = append(layers,
			NewResolver(client, opts.ResolverDomains, opts.ResolverTimeout, patterns, opts.Logger),
			NewScraper(client, opts.ScraperTimeout, opts.MaxBodySize, opts.Logger),
			NewPlaceSearch(client, opts.APIKey, opts.PlacesURL, opts.PlacesTimeout, opts.Logger),
		)

		if opts.EnableBrowser {
			layers = append(layers, NewBrowser(opts.BrowserTimeout, opts.BrowserSettle, opts.UserAgent, opts.Logger))
		}
	}

	return NewExtractorWithLayers(layers, opts)
}

// NewExtractorWithLayers uses layers as given, in priority order. Only the
// timeouts, agreement radius and logger of opts are used.
func NewExtractorWithLayers(layers []Layer, opts Options) (*Extractor, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if len(layers) == 0 {
		return nil, errors.New("no extraction layers")
	}

	seen := make(map[Method]bool, len(layers))
	for _, l := range layers {
		if seen[l.Method()] {
			return nil, fmt.Errorf("duplicate layer %q", l.Method())
		}

		seen[l.Method()] = true
	}

	opts = opts.withDefaults()

	return &Extractor{
		layers:          layers,
		overallTimeout:  opts.OverallTimeout,
		joinTimeout:     opts.JoinTimeout,
		agreementRadius: opts.AgreementRadius,
		logger:          opts.Logger,
	}, nil
}

// Methods returns the layer methods in priority order.
func (e *Extractor) Methods() []Method {
	methods := make([]Method, len(e.layers))
	for i, l := range e.layers {
		methods[i] = l.Method()
	}

	return methods
}

// Extract runs the layers one at a time and returns the first point found.
func (e *Extractor) Extract(ctx context.Context, raw string) (spatial.Point, bool) {
	return e.ExtractSequential(ctx, raw).Point()
}

// Run extracts raw in the given mode.
func (e *Extractor) Run(ctx context.Context, raw string, mode Mode) *Result {
	if mode == ModeParallel {
		return e.ExtractAll(ctx, raw)
	}

	return e.ExtractSequential(ctx, raw)
}

// ExtractSequential runs the layers in order and stops at the first one that
// finds a point. Later layers are not attempted.
func (e *Extractor) ExtractSequential(ctx context.Context, raw string) *Result {
	start := time.Now()
	res := newResult(raw, ModeSequential, e.layers, e.agreementRadius)

	if strings.TrimSpace(raw) == "" {
		return res
	}

	for i, l := range e.layers {
		if ctx.Err() != nil {
			break
		}

		t := time.Now()
		p, ok := l.Extract(ctx, raw)

		o := &res.Outcomes[i]
		o.Attempted = true
		o.Elapsed = time.Since(t)
		o.OK = ok && p.Valid()
		o.TimedOut = !o.OK && ctx.Err() != nil

		if o.OK {
			o.Point = p

			break
		}
	}

	res.Elapsed = time.Since(start)

	return res
}

type report struct {
	index   int
	point   spatial.Point
	ok      bool
	elapsed time.Duration
}

// ExtractAll runs every layer concurrently, bounded by the overall timeout.
// The best point follows layer priority, not completion order. Once the
// best point is known, layers of lower priority get the join timeout to
// report. Layers still running are cancelled and marked as timed out.
func (e *Extractor) ExtractAll(ctx context.Context, raw string) *Result {
	start := time.Now()
	res := newResult(raw, ModeParallel, e.layers, e.agreementRadius)

	if strings.TrimSpace(raw) == "" {
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, e.overallTimeout)
	defer cancel()

	// Buffered so abandoned layers never block.
	reports := make(chan report, len(e.layers))

	for i, l := range e.layers {
		res.Outcomes[i].Attempted = true

		go func() {
			t := time.Now()
			p, ok := l.Extract(ctx, raw)
			reports <- report{index: i, point: p, ok: ok && p.Valid(), elapsed: time.Since(t)}
		}()
	}

	done := make([]bool, len(e.layers))
	pending := len(e.layers)

	var grace <-chan time.Time

collect:
	for pending > 0 {
		select {
		case r := <-reports:
			done[r.index] = true
			pending--

			o := &res.Outcomes[r.index]
			o.Elapsed = r.elapsed
			o.OK = r.ok

			if r.ok {
				o.Point = r.point
			}

			if grace == nil && pending > 0 && bestKnown(done, res.Outcomes) {
				timer := time.NewTimer(e.joinTimeout)
				defer timer.Stop()

				grace = timer.C
			}
		case <-grace:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	for i := range res.Outcomes {
		if !done[i] {
			res.Outcomes[i].TimedOut = true
			res.Outcomes[i].Elapsed = time.Since(start)
		}
	}

	res.Elapsed = time.Since(start)

	if pending > 0 {
		e.logger.Debug("abandoned slow layers", "input", raw, "pending", pending, "elapsed", res.Elapsed)
	}

	return res
}

// bestKnown reports whether some layer succeeded and every layer of higher
// priority has reported.
func bestKnown(done []bool, outcomes []Outcome) bool {
	for i := range outcomes {
		if !done[i] {
			return false
		}

		if outcomes[i].OK {
			return true
		}
	}

	return false
}
