package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/bathy.ensemble/internal/scoring"
	"github.com/banshee-data/bathy.ensemble/internal/timeutil"
)

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// NoFold marks a run that is not part of a cross-validation.
const NoFold = -1

// Run is one archived scoring run.
type Run struct {
	RunID     string
	Label     string
	Reference string
	// Fold is the cross-validation fold, or NoFold.
	Fold      int
	CreatedAt int64
	Records   []scoring.Record
}

// Store persists scoring runs.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// SetClock replaces the clock used for creation times and busy backoff.
func (s *Store) SetClock(c timeutil.Clock) {
	s.clock = c
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// metricColumns maps report column names to table columns.
var metricColumns = map[string]string{
	"Accuracy": "accuracy",
	"F1":       "f1",
	"BA":       "ba",
	"calF1":    "cal_f1",
	"MCC":      "mcc",
	"avg4":     "avg4",
	"WghtF1":   "weighted_f1",
	"MacroF1":  "macro_f1",
	"MicroF1":  "micro_f1",
}

// tableMetrics is the table column order used by insert and scan.
var tableMetrics = []string{"Accuracy", "F1", "BA", "calF1", "MCC", "avg4", "WghtF1", "MacroF1", "MicroF1"}

// Insert archives run with its records in one transaction. An empty RunID
// is filled with a new UUID and a zero CreatedAt with the current time.
func (s *Store) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}

	return retryOnBusy(s.clock, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
			INSERT INTO scoring_runs (run_id, label, reference, fold, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			run.RunID, run.Label, run.Reference, run.Fold, run.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for pos, r := range run.Records {
			values := make([]any, len(tableMetrics))
			for i, c := range r.Columns() {
				if i >= len(r.Metrics) {
					break
				}
				if m := r.Metrics[i]; m.Valid {
					values[indexOf(tableMetrics, c)] = m.Value
				}
			}
			multiclass := len(r.Columns()) == len(scoring.MultiClassColumns)
			args := []any{run.RunID, pos, r.View, r.Algorithm, multiclass, r.Rows,
				r.Confusion.TP, r.Confusion.FP, r.Confusion.FN, r.Confusion.TN}
			args = append(args, values...)
			if _, err := tx.Exec(`
				INSERT INTO metric_records (
					run_id, position, view_name, algorithm, multiclass, row_count, tp, fp, fn, tn,
					accuracy, f1, ba, cal_f1, mcc, avg4, weighted_f1, macro_f1, micro_f1
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				args...,
			); err != nil {
				return fmt.Errorf("insert record %s/%s: %w", r.View, r.Algorithm, err)
			}
		}
		return tx.Commit()
	})
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	panic("unknown metric column " + s)
}

// List returns every run without records, newest first.
func (s *Store) List() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, label, reference, fold, created_at
		FROM scoring_runs
		ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Label, &r.Reference, &r.Fold, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Get returns a run with its records in their original order.
func (s *Store) Get(runID string) (*Run, error) {
	var r Run
	err := s.db.QueryRow(`
		SELECT run_id, label, reference, fold, created_at
		FROM scoring_runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &r.Label, &r.Reference, &r.Fold, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT view_name, algorithm, multiclass, row_count, tp, fp, fn, tn,
		       accuracy, f1, ba, cal_f1, mcc, avg4, weighted_f1, macro_f1, micro_f1
		FROM metric_records
		WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		r.Records = append(r.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRecord(rows *sql.Rows) (scoring.Record, error) {
	var rec scoring.Record
	var multiclass bool
	values := make([]sql.NullFloat64, len(tableMetrics))
	dest := []any{&rec.View, &rec.Algorithm, &multiclass, &rec.Rows,
		&rec.Confusion.TP, &rec.Confusion.FP, &rec.Confusion.FN, &rec.Confusion.TN}
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return rec, fmt.Errorf("scan record row: %w", err)
	}

	cols := scoring.BinaryColumns
	if multiclass {
		cols = scoring.MultiClassColumns
	}
	rec.Metrics = make([]scoring.Metric, len(cols))
	for i, c := range cols {
		if v := values[indexOf(tableMetrics, c)]; v.Valid {
			rec.Metrics[i] = scoring.Defined(v.Float64)
		}
	}
	return rec, nil
}

// Delete removes a run and its records.
func (s *Store) Delete(runID string) error {
	return retryOnBusy(s.clock, func() error {
		result, err := s.db.Exec(`DELETE FROM scoring_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil
	})
}
