package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StateRepository persists the last known state of each device.
type StateRepository interface {
	// Save upserts the state keyed by device ID.
	Save(ctx context.Context, s State) error

	// Load returns the saved state or ErrDeviceNotFound.
	Load(ctx context.Context, id string) (State, error)

	// LoadAll returns every saved state keyed by device ID.
	LoadAll(ctx context.Context) (map[string]State, error)
}

// SQLiteStateRepository implements StateRepository on the device_state table.
type SQLiteStateRepository struct {
	db *sql.DB
}

// NewSQLiteStateRepository creates a repository on an open, migrated database.
func NewSQLiteStateRepository(db *sql.DB) *SQLiteStateRepository {
	return &SQLiteStateRepository{db: db}
}

// Save implements StateRepository. Everything besides id, type and on/off is
// stored as a JSON attributes column.
func (r *SQLiteStateRepository) Save(ctx context.Context, s State) error {
	attrs, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshalling device state: %w", err)
	}

	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO device_state (device_id, device_type, is_on, attributes, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_type = excluded.device_type,
			is_on       = excluded.is_on,
			attributes  = excluded.attributes,
			updated_at  = excluded.updated_at`,
		s.ID,
		string(s.Type),
		boolToInt(s.On),
		string(attrs),
		updated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving device state: %w", err)
	}
	return nil
}

// Load implements StateRepository.
func (r *SQLiteStateRepository) Load(ctx context.Context, id string) (State, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT device_id, device_type, is_on, attributes, updated_at FROM device_state WHERE device_id = ?", id)
	s, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return s, err
}

// LoadAll implements StateRepository.
func (r *SQLiteStateRepository) LoadAll(ctx context.Context) (map[string]State, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT device_id, device_type, is_on, attributes, updated_at FROM device_state")
	if err != nil {
		return nil, fmt.Errorf("querying device state: %w", err)
	}
	defer rows.Close()

	states := make(map[string]State)
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device state: %w", err)
	}
	return states, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(sc rowScanner) (State, error) {
	var (
		s         State
		typ       string
		on        int
		attrs     string
		updatedAt string
	)
	if err := sc.Scan(&s.ID, &typ, &on, &attrs, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, err
		}
		return State{}, fmt.Errorf("scanning device state: %w", err)
	}
	if err := json.Unmarshal([]byte(attrs), &s); err != nil {
		return State{}, fmt.Errorf("unmarshalling attributes for %s: %w", s.ID, err)
	}
	// Columns win over the JSON copy.
	s.Type = Type(typ)
	s.On = on != 0
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		s.UpdatedAt = t
	}
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RestoreAll applies saved states to the matching registered devices and
// returns how many were restored. Devices that do not implement Restorer,
// or whose saved type differs, are skipped.
func RestoreAll(ctx context.Context, repo StateRepository, reg *Registry) (int, error) {
	states, err := repo.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, d := range reg.ListDevices() {
		s, ok := states[d.ID()]
		if !ok || s.Type != d.Type() {
			continue
		}
		if r, ok := d.(Restorer); ok {
			r.Restore(s)
			n++
		}
	}
	return n, nil
}
