package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	RunStatusOK     = "ok"
	RunStatusFailed = "failed"

	defaultListLimit = 50
)

// Run records one execution of a pipeline step.
type Run struct {
	ID        int64         `json:"id" yaml:"id"`
	Step      string        `json:"step" yaml:"step"`
	Status    string        `json:"status" yaml:"status"`
	Input     string        `json:"input,omitempty" yaml:"input,omitempty"`
	Output    string        `json:"output,omitempty" yaml:"output,omitempty"`
	Rows      int           `json:"rows" yaml:"rows"`
	Cols      int           `json:"cols" yaml:"cols"`
	Message   string        `json:"message,omitempty" yaml:"message,omitempty"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

const (
	insertRun = `INSERT INTO pipeline_run
		(step, status, input, output, row_count, col_count, message, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	selectRuns = `SELECT id, step, status, input, output, row_count, col_count, message, started_at, duration_ms
		FROM pipeline_run`
)

// SaveRun inserts r and sets its ID.
func SaveRun(db *sql.DB, r *Run) error {
	if db == nil {
		return ErrDBNotInitialized
	}
	if r == nil || r.Step == "" {
		return errors.New("run with a step is required")
	}
	if r.Status == "" {
		r.Status = RunStatusOK
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	err := db.QueryRow(rebind(db, insertRun),
		r.Step, r.Status, r.Input, r.Output, r.Rows, r.Cols, r.Message,
		r.StartedAt.UTC().UnixMilli(), r.Duration.Milliseconds(),
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first, optionally only of step.
func ListRuns(db *sql.DB, step string, limit int) ([]*Run, error) {
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := selectRuns
	args := make([]any, 0, 2)
	if step != "" {
		q += " WHERE step = ?"
		args = append(args, step)
	}
	q += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(rebind(db, q), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	list := make([]*Run, 0)
	for rows.Next() {
		r := &Run{}
		var started, dur int64
		if err := rows.Scan(&r.ID, &r.Step, &r.Status, &r.Input, &r.Output,
			&r.Rows, &r.Cols, &r.Message, &started, &dur); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.Duration = time.Duration(dur) * time.Millisecond
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return list, nil
}

// DeleteRuns removes every run and returns how many were deleted.
func DeleteRuns(db *sql.DB) (int64, error) {
	return deleteAll(db, "pipeline_run")
}

func deleteAll(db *sql.DB, table string) (int64, error) {
	if db == nil {
		return 0, ErrDBNotInitialized
	}
	res, err := db.Exec("DELETE FROM " + table)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted %s rows: %w", table, err)
	}
	return n, nil
}
