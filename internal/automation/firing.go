package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Firing records one execution of a rule by the monitor.
type Firing struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Trigger    string    `json:"trigger"`
	FiredAt    time.Time `json:"fired_at"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// firedAtLayout is fixed width so fired_at sorts as text.
const firedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// defaultFiringLimit caps ListFirings when the caller passes no limit.
const defaultFiringLimit = 50

// FiringRepository stores rule firing history.
type FiringRepository interface {
	RecordFiring(ctx context.Context, f Firing) error

	// ListFirings returns the newest firings first.
	ListFirings(ctx context.Context, limit int) ([]Firing, error)
}

// SQLiteFiringRepository implements FiringRepository on the rule_firings table.
type SQLiteFiringRepository struct {
	db *sql.DB
}

// NewSQLiteFiringRepository creates a repository on an open, migrated database.
func NewSQLiteFiringRepository(db *sql.DB) *SQLiteFiringRepository {
	return &SQLiteFiringRepository{db: db}
}

// RecordFiring implements FiringRepository.
func (r *SQLiteFiringRepository) RecordFiring(ctx context.Context, f Firing) error {
	var errMsg *string
	if f.Error != "" {
		errMsg = &f.Error
	}
	success := 0
	if f.Success {
		success = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rule_firings (id, rule_id, rule_name, trigger, fired_at, duration_ms, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RuleID, f.RuleName, f.Trigger,
		f.FiredAt.UTC().Format(firedAtLayout),
		f.DurationMS, success, errMsg,
	)
	if err != nil {
		return fmt.Errorf("inserting rule firing: %w", err)
	}
	return nil
}

// ListFirings implements FiringRepository. A limit <= 0 selects the default.
func (r *SQLiteFiringRepository) ListFirings(ctx context.Context, limit int) ([]Firing, error) {
	if limit <= 0 {
		limit = defaultFiringLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, rule_name, trigger, fired_at, duration_ms, success, error
		FROM rule_firings
		ORDER BY fired_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rule firings: %w", err)
	}
	defer rows.Close()

	var firings []Firing
	for rows.Next() {
		var (
			f       Firing
			firedAt string
			success int
			errMsg  sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.RuleID, &f.RuleName, &f.Trigger, &firedAt, &f.DurationMS, &success, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning rule firing: %w", err)
		}
		f.FiredAt, err = time.Parse(time.RFC3339Nano, firedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing fired_at for %s: %w", f.ID, err)
		}
		f.Success = success != 0
		f.Error = errMsg.String
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rule firings: %w", err)
	}
	return firings, nil
}
