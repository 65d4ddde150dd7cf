// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"time"

	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
)

// Outcome is what one layer reported for an input.
type Outcome struct {
	Method    Method        `json:"method"`
	Point     spatial.Point `json:"point"`
	OK        bool          `json:"ok"`
	Attempted bool          `json:"attempted"`
	TimedOut  bool          `json:"timed_out"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Result collects the outcomes of every layer, in priority order.
type Result struct {
	Input    string        `json:"input"`
	Mode     Mode          `json:"mode"`
	Outcomes []Outcome     `json:"outcomes"`
	Elapsed  time.Duration `json:"elapsed"`

	agreementRadius float64
}

func newResult(raw string, mode Mode, layers []Layer, radius float64) *Result {
	res := &Result{
		Input:           raw,
		Mode:            mode,
		Outcomes:        make([]Outcome, len(layers)),
		agreementRadius: radius,
	}

	for i, l := range layers {
		res.Outcomes[i].Method = l.Method()
	}

	return res
}

// Best returns the successful outcome of highest priority.
func (r *Result) Best() (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.OK {
			return o, true
		}
	}

	return Outcome{}, false
}

// Point returns the best point, if any.
func (r *Result) Point() (spatial.Point, bool) {
	best, ok := r.Best()

	return best.Point, ok
}

// Get returns the outcome of method m.
func (r *Result) Get(m Method) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Method == m {
			return o, true
		}
	}

	return Outcome{}, false
}

// Succeeded counts the layers that found a point.
func (r *Result) Succeeded() int {
	n := 0

	for _, o := range r.Outcomes {
		if o.OK {
			n++
		}
	}

	return n
}

// Agreement counts the successful layers whose point lies in the same
// cluster as the best point.
func (r *Result) Agreement() int {
	var (
		points []spatial.Point
		best   = -1
	)

	for _, o := range r.Outcomes {
		if !o.OK {
			continue
		}

		if best < 0 {
			best = len(points)
		}

		points = append(points, o.Point)
	}

	if best < 0 {
		return 0
	}

	for _, cluster := range spatial.Cluster(points, r.agreementRadius) {
		for _, idx := range cluster {
			if idx == best {
				return len(cluster)
			}
		}
	}

	return 1
}
