// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package store records extraction results in DuckDB.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"github.com/uber/h3-go/v4"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
)

// Extraction statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Extraction is one recorded attempt to locate a map link.
type Extraction struct {
	ID        int64          `json:"id"`
	Source    string         `json:"source"`
	RowNum    int            `json:"row_num"`
	Input     string         `json:"input"`
	Method    string         `json:"method,omitempty"`
	Point     *spatial.Point `json:"point,omitempty"`
	Status    string         `json:"status"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
	H3Res5    int64          `json:"-"`
	H3Res7    int64          `json:"-"`
	H3Res9    int64          `json:"-"`
}

var h3Resolutions = []int{5, 7, 9}

func (e *Extraction) computeH3() error {
	e.H3Res5, e.H3Res7, e.H3Res9 = 0, 0, 0

	if e.Point == nil {
		return nil
	}

	latLng := h3.NewLatLng(e.Point.Lat, e.Point.Lng)
	cells := []*int64{&e.H3Res5, &e.H3Res7, &e.H3Res9}

	for i, res := range h3Resolutions {
		cell, err := h3.LatLngToCell(latLng, res)
		if err != nil {
			return fmt.Errorf("error converting to h3 cell at res %d: %w", res, err)
		}

		*cells[i] = int64(cell)
	}

	return nil
}

func (e *Extraction) args() []any {
	var (
		point            any
		res5, res7, res9 sql.NullInt64
		method           sql.NullString
	)

	if e.Point != nil {
		point = e.Point.String()
		res5 = sql.NullInt64{Int64: e.H3Res5, Valid: true}
		res7 = sql.NullInt64{Int64: e.H3Res7, Valid: true}
		res9 = sql.NullInt64{Int64: e.H3Res9, Valid: true}
	}

	if e.Method != "" {
		method = sql.NullString{String: e.Method, Valid: true}
	}

	return []any{
		e.Source,
		e.RowNum,
		e.Input,
		method,
		point,
		e.Status,
		e.Attempts,
		e.CreatedAt,
		res5,
		res7,
		res9,
	}
}

// Repository stores extractions.
type Repository interface {
	CreateSchema() error
	SaveExtraction(e *Extraction) error
	BulkInsert(extractions []*Extraction) error
	ListExtractions(source string, limit, offset int) ([]*Extraction, error)
	CountByStatus() (map[string]int, error)
	CountByMethod() (map[string]int, error)
	DB() *sql.DB
}

type sqlRepository struct {
	db *sql.DB
}

// NewRepository returns a Repository backed by db.
func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db}
}

// Open opens the DuckDB database at path and creates the schema. An empty
// path opens an in-memory database.
func Open(path string) (Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}

	repo := NewRepository(db)
	if err := repo.CreateSchema(); err != nil {
		db.Close()

		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return repo, nil
}

// DB returns the underlying database connection.
func (r *sqlRepository) DB() *sql.DB {
	return r.db
}

func (r *sqlRepository) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS extractions_seq START 1;

		CREATE TABLE IF NOT EXISTS extractions (
			id BIGINT PRIMARY KEY DEFAULT nextval('extractions_seq'),
			source VARCHAR NOT NULL,
			row_num INTEGER NOT NULL,
			input VARCHAR NOT NULL,
			method VARCHAR,
			point VARCHAR,
			status VARCHAR NOT NULL,
			attempts INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			h3_res5 UBIGINT,
			h3_res7 UBIGINT,
			h3_res9 UBIGINT
		);
	`)

	return err
}

const insertExtraction = `
	INSERT INTO extractions(
		source,
		row_num,
		input,
		method,
		point,
		status,
		attempts,
		created_at,
		h3_res5,
		h3_res7,
		h3_res9
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (r *sqlRepository) SaveExtraction(e *Extraction) error {
	if err := e.computeH3(); err != nil {
		return err
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	return r.db.QueryRow(insertExtraction+" RETURNING id", e.args()...).Scan(&e.ID)
}

func (r *sqlRepository) BulkInsert(extractions []*Extraction) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(insertExtraction)
	if err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			err = rErr
		}

		return err
	}
	defer stmt.Close()

	now := time.Now()

	for _, e := range extractions {
		if err = e.computeH3(); err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				err = rErr
			}

			return err
		}

		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}

		if _, err = stmt.Exec(e.args()...); err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				err = rErr
			}

			return fmt.Errorf("inserting row %d of %s: %w", e.RowNum, e.Source, err)
		}
	}

	return tx.Commit()
}

func (r *sqlRepository) ListExtractions(source string, limit, offset int) ([]*Extraction, error) {
	var (
		sb   strings.Builder
		args []any
	)

	sb.WriteString(`
		SELECT id, source, row_num, input, method, point, status, attempts, created_at,
		       h3_res5, h3_res7, h3_res9
		FROM extractions`)

	if source != "" {
		sb.WriteString(" WHERE source = ?")

		args = append(args, source)
	}

	sb.WriteString(" ORDER BY id DESC")

	if limit > 0 {
		sb.WriteString(" LIMIT ?")

		args = append(args, limit)
	}

	if offset > 0 {
		sb.WriteString(" OFFSET ?")

		args = append(args, offset)
	}

	rows, err := r.db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var extractions []*Extraction

	for rows.Next() {
		var (
			e                Extraction
			method, point    sql.NullString
			res5, res7, res9 sql.NullInt64
		)

		if err := rows.Scan(
			&e.ID, &e.Source, &e.RowNum, &e.Input, &method, &point, &e.Status, &e.Attempts, &e.CreatedAt,
			&res5, &res7, &res9,
		); err != nil {
			return nil, err
		}

		e.Method = method.String

		if point.Valid {
			e.Point = &spatial.Point{}
			if err := e.Point.Scan(point.String); err != nil {
				return nil, fmt.Errorf("extraction %d: %w", e.ID, err)
			}
		}

		e.H3Res5, e.H3Res7, e.H3Res9 = res5.Int64, res7.Int64, res9.Int64

		extractions = append(extractions, &e)
	}

	return extractions, rows.Err()
}

func (r *sqlRepository) CountByStatus() (map[string]int, error) {
	return r.countBy(`SELECT status, COUNT(*) FROM extractions GROUP BY status`)
}

func (r *sqlRepository) CountByMethod() (map[string]int, error) {
	return r.countBy(`
		SELECT method, COUNT(*)
		FROM extractions
		WHERE method IS NOT NULL AND status = 'success'
		GROUP BY method`)
}

func (r *sqlRepository) countBy(query string) (map[string]int, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)

	for rows.Next() {
		var (
			key   string
			count int
		)

		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}

		counts[key] = count
	}

	return counts, rows.Err()
}
