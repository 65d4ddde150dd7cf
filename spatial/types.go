// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package spatial holds the coordinate types shared by the extractors, the
// spreadsheet processor and the results store.
package spatial

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadius = 6371e3 // meters

// Latitude and longitude bounds, inclusive.
const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLng = -180.0
	MaxLng = 180.0
)

// Point represents a geographical point with latitude and longitude.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate returns the point for (lng, lat) when both components are within
// their bounds. Values are never clamped or rounded. NaN is rejected.
func Validate(lng, lat float64) (Point, bool) {
	if !(lat >= MinLat && lat <= MaxLat) || !(lng >= MinLng && lng <= MaxLng) {
		return Point{}, false
	}

	return Point{Lat: lat, Lng: lng}, true
}

// Valid reports whether p is within bounds.
func (p Point) Valid() bool {
	_, ok := Validate(p.Lng, p.Lat)

	return ok
}

// String returns the WKT representation of the Point, longitude first.
func (p Point) String() string {
	return "POINT(" + strconv.FormatFloat(p.Lng, 'f', -1, 64) + " " +
		strconv.FormatFloat(p.Lat, 'f', -1, 64) + ")"
}

// Value implements the driver.Valuer interface for database serialization.
func (p Point) Value() (driver.Value, error) {
	return p.String(), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (p *Point) Scan(value any) error {
	if value == nil {
		p.Lat, p.Lng = 0, 0

		return nil
	}

	switch v := value.(type) {
	case string:
		return p.parseWKT(v)
	case []byte:
		return p.parseWKT(string(v))
	case map[string]any:
		x, okX := v["x"].(float64)
		y, okY := v["y"].(float64)

		if !okX || !okY {
			return fmt.Errorf("spatial: invalid map for point: expected 'x' and 'y' float64 fields, got %+v", v)
		}

		p.Lng = x
		p.Lat = y

		return nil
	default:
		return fmt.Errorf("spatial: unsupported type for Point scan: %T", value)
	}
}

// parseWKT accepts both "POINT(lng lat)" and DuckDB's "POINT (lng lat)".
func (p *Point) parseWKT(s string) error {
	body, ok := strings.CutPrefix(strings.TrimSpace(s), "POINT")
	if !ok {
		return fmt.Errorf("spatial: not a point: %q", s)
	}

	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "(")
	body = strings.TrimSuffix(body, ")")

	fields := strings.Fields(body)
	if len(fields) != 2 {
		return fmt.Errorf("spatial: malformed point: %q", s)
	}

	lng, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("spatial: parsing longitude: %w", err)
	}

	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return fmt.Errorf("spatial: parsing latitude: %w", err)
	}

	p.Lng, p.Lat = lng, lat

	return nil
}

// HaversineDistance calculates the distance between two points on Earth in meters.
func (p *Point) HaversineDistance(other *Point) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - p.Lat) * math.Pi / 180
	dLng := (other.Lng - p.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// Cluster groups points whose distance to any member of a group is at most
// threshold meters. It returns indexes into points, in input order.
func Cluster(points []Point, threshold float64) [][]int {
	clusters := make([][]int, 0, len(points))

	visited := make([]bool, len(points))

	for i := range points {
		if visited[i] {
			continue
		}

		cluster := []int{i}
		visited[i] = true

		for j := range points {
			if visited[j] {
				continue
			}

			for _, member := range cluster {
				if points[j].HaversineDistance(&points[member]) <= threshold {
					cluster = append(cluster, j)
					visited[j] = true

					break
				}
			}
		}

		clusters = append(clusters, cluster)
	}

	return clusters
}
