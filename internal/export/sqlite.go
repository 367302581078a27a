// Package export writes observation records and the MDRM dictionary into a
// SQLite database using the pure-Go modernc driver.
package export

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/call-report/data-collector/internal/mdrm"
	"github.com/call-report/data-collector/internal/model"
)

//go:embed schema.sql
var Schema string

// SQLite is an observation sink backed by one database file.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared across statements.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const insertObservation = `insert or replace into observations
    (mdrm, rssd, quarter, data_type, int_data, float_data, bool_data, str_data)
    values (?, ?, ?, ?, ?, ?, ?, ?)`

// WriteObservations upserts obs in one transaction keyed by
// (mdrm, rssd, quarter). Exactly one *_data column is non-null per row.
func (s *SQLite) WriteObservations(ctx context.Context, obs []model.Observation) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertObservation)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, o := range obs {
		var (
			intData   sql.NullInt64
			floatData sql.NullFloat64
			boolData  sql.NullBool
			strData   sql.NullString
		)
		switch o.Value.Kind() {
		case model.KindInt:
			intData.Int64, intData.Valid = o.Value.Int()
		case model.KindFloat:
			floatData.Float64, floatData.Valid = o.Value.Float()
		case model.KindBool:
			boolData.Bool, boolData.Valid = o.Value.Bool()
		case model.KindString:
			strData.String, strData.Valid = o.Value.Str()
		default:
			return 0, fmt.Errorf("observation %d (%s/%s) has no value", i, o.EntityID, o.MetricCode)
		}
		_, err := stmt.ExecContext(ctx,
			o.MetricCode, o.EntityID, o.Quarter, o.Value.Kind().String(),
			intData, floatData, boolData, strData,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting %s/%s: %w", o.EntityID, o.MetricCode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(obs), nil
}

// Observations returns stored rows for one institution, optionally
// restricted to a quarter (YYYY-MM-DD), ordered by quarter then code.
func (s *SQLite) Observations(ctx context.Context, rssd, quarter string) ([]model.Observation, error) {
	q := `select mdrm, rssd, quarter, data_type, int_data, float_data, bool_data, str_data
        from observations where rssd = ?`
	args := []any{rssd}
	if quarter != "" {
		q += " and quarter = ?"
		args = append(args, quarter)
	}
	q += " order by quarter, mdrm"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var (
			o         model.Observation
			dataType  string
			intData   sql.NullInt64
			floatData sql.NullFloat64
			boolData  sql.NullBool
			strData   sql.NullString
		)
		if err := rows.Scan(&o.MetricCode, &o.EntityID, &o.Quarter, &dataType, &intData, &floatData, &boolData, &strData); err != nil {
			return nil, err
		}
		switch {
		case intData.Valid:
			o.Value = model.IntValue(intData.Int64)
		case floatData.Valid:
			o.Value = model.FloatValue(floatData.Float64)
		case boolData.Valid:
			o.Value = model.BoolValue(boolData.Bool)
		case strData.Valid:
			o.Value = model.StringValue(strData.String)
		default:
			return nil, fmt.Errorf("row %s/%s has no %s value", o.EntityID, o.MetricCode, dataType)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Count returns the number of stored observations.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "select count(*) from observations").Scan(&n)
	return n, err
}

const insertItem = `insert or replace into mdrm
    (mdrm, start_date, end_date, item_name, is_conf, item_type, item_type_explain,
     reporting_forms, description, series_glossary)
    values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// WriteDictionary upserts MDRM dictionary rows keyed by (mdrm, start_date).
// Reporting forms are stored comma-joined.
func (s *SQLite) WriteDictionary(ctx context.Context, items []mdrm.Item) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertItem)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, it := range items {
		_, err := stmt.ExecContext(ctx,
			it.MDRM, it.StartDate, it.EndDate, it.ItemName, it.Confidential,
			it.ItemType, it.ItemTypeExplain, strings.Join(it.ReportingForms, ","),
			it.Description, it.SeriesGlossary,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting %s: %w", it.MDRM, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(items), nil
}
