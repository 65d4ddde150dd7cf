// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/extract"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
	"golang.org/x/sync/errgroup"
)

// Comment texts written for rows without coordinates.
const (
	StatusSuccess = "Success"
	StatusSkipped = "Skipped: No map link provided"
)

func failedStatus(attempts int) string {
	return fmt.Sprintf("Failed after %d attempts: Could not extract coordinates from URL", attempts)
}

func parallelStatus(res *extract.Result) string {
	return fmt.Sprintf("Success: %d/%d methods succeeded", res.Succeeded(), len(res.Outcomes))
}

// RowStatus classifies a processed row.
type RowStatus string

// Row statuses.
const (
	RowSuccess RowStatus = "success"
	RowFailed  RowStatus = "failed"
	RowSkipped RowStatus = "skipped"
)

// Extractor is the part of extract.Extractor the processor uses.
type Extractor interface {
	Run(ctx context.Context, raw string, mode extract.Mode) *extract.Result
	Methods() []extract.Method
}

// RetryPolicy bounds the attempts made for a single row.
type RetryPolicy struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DefaultRetryPolicy returns 3 attempts, 2 seconds apart, 180 seconds each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    2 * time.Second,
		Timeout:  180 * time.Second,
	}
}

// Options configures a Processor.
type Options struct {
	Mode  extract.Mode
	Retry RetryPolicy
	// Concurrency is the number of rows in flight. Zero means GOMAXPROCS.
	Concurrency int
	// ReportMethods adds per-method coordinate columns in parallel mode.
	ReportMethods bool
	// Required names header columns that must exist besides the map column.
	Required []string
	// Progress, if set, is called after each row. It may be called from
	// several goroutines.
	Progress func(done, total int)
	Logger   *log.Logger
}

// RowResult is the outcome of one data row.
type RowResult struct {
	Row      int            `json:"row"`
	Input    string         `json:"input"`
	Name     string         `json:"name,omitempty"`
	Status   RowStatus      `json:"status"`
	Comment  string         `json:"comment"`
	Point    spatial.Point  `json:"point"`
	Method   extract.Method `json:"method,omitempty"`
	Attempts int            `json:"attempts"`

	result *extract.Result
}

// Summary is the outcome of processing a workbook.
type Summary struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Rows       []RowResult   `json:"rows"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Processor fills coordinates for every map link of a workbook.
type Processor struct {
	extractor Extractor
	opts      Options
}

// NewProcessor returns a processor using e.
func NewProcessor(e Extractor, opts Options) *Processor {
	if opts.Mode == "" {
		opts.Mode = extract.ModeSequential
	}

	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = 1
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}

	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Processor{extractor: e, opts: opts}
}

// Process extracts every row of book and writes the results back to it.
// On cancellation the rows finished so far are still written and the
// context error is returned with the partial summary.
func (p *Processor) Process(ctx context.Context, book *Workbook) (*Summary, error) {
	start := time.Now()

	cols, err := FindColumns(book.Header())
	if err != nil {
		return nil, err
	}

	if err = RequireColumns(book.Header(), p.opts.Required); err != nil {
		return nil, err
	}

	if cols, err = book.EnsureColumns(cols); err != nil {
		return nil, err
	}

	var perMethod methodColumns
	if p.opts.ReportMethods && p.opts.Mode == extract.ModeParallel {
		if perMethod, err = book.ensureMethodColumns(p.extractor.Methods()); err != nil {
			return nil, err
		}
	}

	total := book.NumRows()
	rows := make([]RowResult, total)
	done := make([]bool, total)

	var finished atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i := range total {
		input := strings.TrimSpace(book.Cell(i, cols.Map))
		name := strings.TrimSpace(book.Cell(i, cols.Name))

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			rows[i] = p.processRow(gctx, i+1, input)
			rows[i].Name = name
			done[i] = true

			if p.opts.Progress != nil {
				p.opts.Progress(int(finished.Add(1)), total)
			}

			return nil
		})
	}

	waitErr := g.Wait()

	summary := &Summary{Total: total}

	for i := range rows {
		if !done[i] {
			continue
		}

		if err := p.writeRow(book, cols, perMethod, i, &rows[i]); err != nil {
			return nil, err
		}

		switch rows[i].Status {
		case RowSuccess:
			summary.Successful++
		case RowFailed:
			summary.Failed++
		case RowSkipped:
			summary.Skipped++
		}

		summary.Rows = append(summary.Rows, rows[i])
	}

	summary.Elapsed = time.Since(start)

	p.opts.Logger.Info("processed workbook",
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"elapsed", summary.Elapsed.Round(time.Millisecond))

	if waitErr != nil {
		return summary, waitErr
	}

	return summary, ctx.Err()
}

func (p *Processor) processRow(ctx context.Context, row int, input string) RowResult {
	r := RowResult{Row: row, Input: input}

	if input == "" {
		r.Status = RowSkipped
		r.Comment = StatusSkipped

		return r
	}

	logger := p.opts.Logger.With("row", row)

	for attempt := 1; attempt <= p.opts.Retry.Attempts; attempt++ {
		r.Attempts = attempt

		res := p.attempt(ctx, input)
		if best, ok := res.Best(); ok {
			r.Status = RowSuccess
			r.Point = best.Point
			r.Method = best.Method
			r.result = res

			r.Comment = StatusSuccess
			if res.Mode == extract.ModeParallel {
				r.Comment = parallelStatus(res)
			}

			logger.Debug("extracted", "method", best.Method, "point", best.Point, "attempt", attempt)

			return r
		}

		r.result = res

		if attempt == p.opts.Retry.Attempts {
			break
		}

		logger.Debug("retrying", "attempt", attempt, "delay", p.opts.Retry.Delay)

		if err := sleep(ctx, p.opts.Retry.Delay); err != nil {
			break
		}
	}

	r.Status = RowFailed
	r.Comment = failedStatus(r.Attempts)

	logger.Warn("no coordinates", "input", input, "attempts", r.Attempts)

	return r
}

func (p *Processor) attempt(ctx context.Context, input string) *extract.Result {
	if p.opts.Retry.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.opts.Retry.Timeout)
		defer cancel()
	}

	return p.extractor.Run(ctx, input, p.opts.Mode)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Processor) writeRow(book *Workbook, cols Columns, perMethod methodColumns, i int, r *RowResult) error {
	var lng, lat any

	if r.Status == RowSuccess {
		lng, lat = r.Point.Lng, r.Point.Lat
	}

	if err := errors.Join(
		book.SetCell(i, cols.Longitude, lng),
		book.SetCell(i, cols.Latitude, lat),
		book.SetCell(i, cols.Comments, r.Comment),
	); err != nil {
		return err
	}

	if r.result == nil {
		return nil
	}

	for _, o := range r.result.Outcomes {
		c, ok := perMethod[o.Method]
		if !ok || !o.OK {
			continue
		}

		if err := errors.Join(
			book.SetCell(i, c[0], o.Point.Lng),
			book.SetCell(i, c[1], o.Point.Lat),
		); err != nil {
			return err
		}
	}

	return nil
}

// Outcomes returns the per-method outcomes of the last attempt, if any.
func (r *RowResult) Outcomes() []extract.Outcome {
	if r.result == nil {
		return nil
	}

	return r.result.Outcomes
}

// SplitPaths returns the failed and skipped file names for output.
func SplitPaths(output string) (failed, skipped string) {
	ext := filepath.Ext(output)
	stem := strings.TrimSuffix(output, ext)

	if ext == "" {
		ext = ".xlsx"
	}

	return stem + "_failed" + ext, stem + "_skipped" + ext
}

// SaveSplits writes the failed and skipped rows of summary to the files
// named by SplitPaths. Files are written only when they have rows. It
// returns the paths written.
func (w *Workbook) SaveSplits(output string, summary *Summary) ([]string, error) {
	var failed, skipped []int

	for _, r := range summary.Rows {
		switch r.Status {
		case RowFailed:
			failed = append(failed, r.Row-1)
		case RowSkipped:
			skipped = append(skipped, r.Row-1)
		}
	}

	failedPath, skippedPath := SplitPaths(output)

	var written []string

	for _, split := range []struct {
		path string
		rows []int
	}{
		{failedPath, failed},
		{skippedPath, skipped},
	} {
		if len(split.rows) == 0 {
			continue
		}

		f, err := w.subset(split.rows)
		if err != nil {
			return written, fmt.Errorf("building %s: %w", split.path, err)
		}

		err = f.SaveAs(split.path)
		f.Close()

		if err != nil {
			return written, fmt.Errorf("saving %s: %w", split.path, err)
		}

		written = append(written, split.path)
	}

	return written, nil
}
