package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	SourceCLI    = "cli"
	SourceServer = "server"
)

// ScoreRecord is one persisted scoring. Applicant holds the applicant
// answers as JSON.
type ScoreRecord struct {
	ID          int64     `json:"id" yaml:"id"`
	Applicant   string    `json:"applicant" yaml:"applicant"`
	Probability float64   `json:"probability" yaml:"probability"`
	CreditScore int       `json:"credit_score" yaml:"credit_score"`
	Band        string    `json:"band" yaml:"band"`
	Decision    string    `json:"decision" yaml:"decision"`
	Model       string    `json:"model,omitempty" yaml:"model,omitempty"`
	Source      string    `json:"source" yaml:"source"`
	ScoredAt    time.Time `json:"scored_at" yaml:"scored_at"`
}

const (
	insertScore = `INSERT INTO score
		(applicant, probability, credit_score, band, decision, model, source, scored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	selectScores = `SELECT id, applicant, probability, credit_score, band, decision, model, source, scored_at
		FROM score`
)

// SaveScore inserts s and sets its ID.
func SaveScore(db *sql.DB, s *ScoreRecord) error {
	if db == nil {
		return ErrDBNotInitialized
	}
	if s == nil || s.Applicant == "" {
		return errors.New("score with applicant data is required")
	}
	if s.Source == "" {
		s.Source = SourceCLI
	}
	if s.ScoredAt.IsZero() {
		s.ScoredAt = time.Now()
	}

	err := db.QueryRow(rebind(db, insertScore),
		s.Applicant, s.Probability, s.CreditScore, s.Band, s.Decision, s.Model, s.Source,
		s.ScoredAt.UTC().UnixMilli(),
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert score: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScore(row scanner) (*ScoreRecord, error) {
	s := &ScoreRecord{}
	var scored int64
	if err := row.Scan(&s.ID, &s.Applicant, &s.Probability, &s.CreditScore,
		&s.Band, &s.Decision, &s.Model, &s.Source, &scored); err != nil {
		return nil, err
	}
	s.ScoredAt = time.UnixMilli(scored).UTC()
	return s, nil
}

// ListScores returns the most recent scores first.
func ListScores(db *sql.DB, limit int) ([]*ScoreRecord, error) {
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := db.Query(rebind(db, selectScores+" ORDER BY scored_at DESC, id DESC LIMIT ?"), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	list := make([]*ScoreRecord, 0)
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scores: %w", err)
	}
	return list, nil
}

// GetScore returns the score with id or ErrNotFound.
func GetScore(db *sql.DB, id int64) (*ScoreRecord, error) {
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	s, err := scanScore(db.QueryRow(rebind(db, selectScores+" WHERE id = ?"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("score %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get score %d: %w", id, err)
	}
	return s, nil
}

// DeleteScores removes every score and returns how many were deleted.
func DeleteScores(db *sql.DB) (int64, error) {
	return deleteAll(db, "score")
}
