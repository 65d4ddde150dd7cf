// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zumanm1/MAP-LINK-LONG-LANG/extract"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/utils/textutils"
)

var (
	// ErrMissingMapColumn is returned when no header names a map link column.
	ErrMissingMapColumn = errors.New("map link column not found")
	// ErrMissingColumns is returned by RequireColumns.
	ErrMissingColumns = errors.New("missing required columns")
)

// Accepted header names, compared after trimming, lower casing and accent
// folding.
var (
	MapColumnNames = []string{
		"map link", "maps link", "maps", "map", "map links", "maps links",
		"map_link", "maps_link", "maplink", "mapslink",
	}
	LongitudeColumnNames = []string{"long", "longitude", "lng"}
	LatitudeColumnNames  = []string{"latts", "latt", "lat", "latitude"}
	NameColumnNames      = []string{"name"}
)

// Names of the columns created when missing.
const (
	LongitudeColumn = "LONG"
	LatitudeColumn  = "LATTs"
	CommentsColumn  = "Comments"
)

// Columns holds 0 based column indexes, -1 when absent.
type Columns struct {
	Map       int
	Name      int
	Longitude int
	Latitude  int
	Comments  int
}

// FindColumns locates the known columns in header. The first matching
// column wins.
func FindColumns(header []string) (Columns, error) {
	cols := Columns{
		Map:       findColumn(header, MapColumnNames),
		Name:      findColumn(header, NameColumnNames),
		Longitude: findColumn(header, LongitudeColumnNames),
		Latitude:  findColumn(header, LatitudeColumnNames),
		Comments:  findColumn(header, []string{"comments"}),
	}

	if cols.Map < 0 {
		return cols, fmt.Errorf("%w: found columns %s", ErrMissingMapColumn, strings.Join(header, ", "))
	}

	return cols, nil
}

// RequireColumns checks that header has a column for each of names,
// compared the same way as FindColumns.
func RequireColumns(header []string, names []string) error {
	var missing []string

	for _, name := range names {
		want := textutils.LowerASCIIFolding(strings.TrimSpace(name))
		if findColumn(header, []string{want}) < 0 {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s. Found columns: %s", ErrMissingColumns,
			strings.Join(missing, ", "), strings.Join(header, ", "))
	}

	return nil
}

func findColumn(header []string, names []string) int {
	for i, h := range header {
		if slices.Contains(names, textutils.LowerASCIIFolding(strings.TrimSpace(h))) {
			return i
		}
	}

	return -1
}

// EnsureColumns adds the output columns missing from cols.
func (w *Workbook) EnsureColumns(cols Columns) (Columns, error) {
	var err error

	if cols.Longitude < 0 {
		if cols.Longitude, err = w.AddColumn(LongitudeColumn); err != nil {
			return cols, err
		}
	}

	if cols.Latitude < 0 {
		if cols.Latitude, err = w.AddColumn(LatitudeColumn); err != nil {
			return cols, err
		}
	}

	if cols.Comments < 0 {
		if cols.Comments, err = w.AddColumn(CommentsColumn); err != nil {
			return cols, err
		}
	}

	return cols, nil
}

// methodColumns maps each method to its longitude and latitude columns.
type methodColumns map[extract.Method][2]int

// MethodColumnNames returns the per-method header names for m.
func MethodColumnNames(m extract.Method) (lng, lat string) {
	title := strings.ToUpper(string(m[:1])) + string(m[1:])

	return title + "_LONG", title + "_LAT"
}

func (w *Workbook) ensureMethodColumns(methods []extract.Method) (methodColumns, error) {
	cols := make(methodColumns, len(methods))

	for _, m := range methods {
		lngName, latName := MethodColumnNames(m)

		lng := slices.Index(w.Header(), lngName)
		if lng < 0 {
			var err error
			if lng, err = w.AddColumn(lngName); err != nil {
				return nil, err
			}
		}

		lat := slices.Index(w.Header(), latName)
		if lat < 0 {
			var err error
			if lat, err = w.AddColumn(latName); err != nil {
				return nil, err
			}
		}

		cols[m] = [2]int{lng, lat}
	}

	return cols, nil
}
