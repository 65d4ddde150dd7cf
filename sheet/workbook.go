// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package sheet reads map links from the first sheet of an .xlsx workbook and
// writes the extracted coordinates back next to them.
package sheet

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ErrEmptySheet is returned for workbooks without a header row.
var ErrEmptySheet = errors.New("sheet is empty")

// Workbook is the first sheet of an .xlsx file. Cell writes go to the file
// and to the cached rows.
type Workbook struct {
	file      *excelize.File
	sheetName string
	rows      [][]string
}

// Open opens the workbook at path.
func Open(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening Excel file: %w", err)
	}

	return newWorkbook(f)
}

// OpenReader reads a workbook from r.
func OpenReader(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading Excel file: %w", err)
	}

	return newWorkbook(f)
}

func newWorkbook(f *excelize.File) (*Workbook, error) {
	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		f.Close()

		return nil, errors.New("no sheets found in Excel file")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("reading rows: %w", err)
	}

	if len(rows) == 0 {
		f.Close()

		return nil, ErrEmptySheet
	}

	return &Workbook{
		file:      f,
		sheetName: sheetName,
		rows:      rows,
	}, nil
}

// Close closes the underlying file.
func (w *Workbook) Close() error {
	return w.file.Close()
}

// SheetName returns the sheet name.
func (w *Workbook) SheetName() string {
	return w.sheetName
}

// Header returns the header row.
func (w *Workbook) Header() []string {
	return w.rows[0]
}

// NumRows returns the number of data rows, header excluded.
func (w *Workbook) NumRows() int {
	return len(w.rows) - 1
}

// Cell returns the value at data row i (0 based) and column col (0 based).
func (w *Workbook) Cell(i, col int) string {
	row := w.rows[i+1]
	if col < 0 || col >= len(row) {
		return ""
	}

	return row[col]
}

// Row returns a copy of data row i padded to the header width.
func (w *Workbook) Row(i int) []string {
	row := make([]string, max(len(w.rows[0]), len(w.rows[i+1])))
	copy(row, w.rows[i+1])

	return row
}

// SetCell writes value at data row i and column col. A nil value clears it.
func (w *Workbook) SetCell(i, col int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col+1, i+2)
	if err != nil {
		return err
	}

	if value == nil {
		value = ""
	}

	if err := w.file.SetCellValue(w.sheetName, cell, value); err != nil {
		return fmt.Errorf("writing %s: %w", cell, err)
	}

	w.cache(i+1, col, fmt.Sprint(value))

	return nil
}

// AddColumn appends a header cell and returns its column index.
func (w *Workbook) AddColumn(name string) (int, error) {
	col := len(w.rows[0])

	cell, err := excelize.CoordinatesToCellName(col+1, 1)
	if err != nil {
		return -1, err
	}

	if err := w.file.SetCellStr(w.sheetName, cell, name); err != nil {
		return -1, fmt.Errorf("adding column %s: %w", name, err)
	}

	w.rows[0] = append(w.rows[0], name)

	return col, nil
}

func (w *Workbook) cache(r, col int, value string) {
	for len(w.rows[r]) <= col {
		w.rows[r] = append(w.rows[r], "")
	}

	w.rows[r][col] = value
}

// Preview returns up to n data rows keyed by header.
func (w *Workbook) Preview(n int) []map[string]string {
	header := w.Header()
	preview := make([]map[string]string, 0, min(n, w.NumRows()))

	for i := 0; i < w.NumRows() && i < n; i++ {
		row := w.Row(i)
		m := make(map[string]string, len(header))

		for col, name := range header {
			m[name] = row[col]
		}

		preview = append(preview, m)
	}

	return preview
}

// SaveAs saves the workbook to path.
func (w *Workbook) SaveAs(path string) error {
	if err := w.file.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}

	return nil
}

// WriteTo writes the workbook to wr.
func (w *Workbook) WriteTo(wr io.Writer) (int64, error) {
	return w.file.WriteTo(wr)
}

// subset builds a new workbook with the header and the given data rows.
func (w *Workbook) subset(rows []int) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	header := w.Header()
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()

		return nil, err
	}

	for n, i := range rows {
		row := w.Row(i)

		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			f.Close()

			return nil, err
		}

		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			f.Close()

			return nil, err
		}
	}

	return f, nil
}
