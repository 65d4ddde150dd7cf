// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"github.com/zumanm1/MAP-LINK-LONG-LANG/extract"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/sheet"
)

// FromRows converts processed workbook rows into extractions.
func FromRows(source string, rows []sheet.RowResult) []*Extraction {
	extractions := make([]*Extraction, 0, len(rows))

	for _, r := range rows {
		e := &Extraction{
			Source:   source,
			RowNum:   r.Row,
			Input:    r.Input,
			Method:   string(r.Method),
			Status:   string(r.Status),
			Attempts: r.Attempts,
		}

		if r.Status == sheet.RowSuccess {
			p := r.Point
			e.Point = &p
		}

		extractions = append(extractions, e)
	}

	return extractions
}

// FromResult converts a single extraction result.
func FromResult(source string, res *extract.Result) *Extraction {
	e := &Extraction{
		Source:   source,
		Input:    res.Input,
		Status:   StatusFailed,
		Attempts: 1,
	}

	if best, ok := res.Best(); ok {
		p := best.Point
		e.Point = &p
		e.Method = string(best.Method)
		e.Status = StatusSuccess
	}

	return e
}
