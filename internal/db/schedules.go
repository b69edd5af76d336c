package db

import (
	"context"
	"database/sql"
	"time"
)

// Schedule is a recurring prompt run on a cron spec.
type Schedule struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Prompt    string    `json:"prompt"`
	Enabled   bool      `json:"enabled"`
	RunCount  int       `json:"run_count"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduleStore persists scheduled prompts.
type ScheduleStore struct {
	db *sql.DB
}

// NewScheduleStore creates a store sharing the Store's connection
func NewScheduleStore(store *Store) *ScheduleStore {
	return &ScheduleStore{db: store.db}
}

// Upsert inserts or replaces a schedule
func (s *ScheduleStore) Upsert(sched Schedule) error {
	ctx := context.Background()
	enabled := 0
	if sched.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (name, spec, prompt, enabled, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET spec = excluded.spec, prompt = excluded.prompt, enabled = excluded.enabled`,
		sched.Name, sched.Spec, sched.Prompt, enabled, time.Now().Unix(),
	)
	return err
}

const scheduleColumns = `name, spec, prompt, enabled, run_count, last_run, last_error, created_at`

func scanSchedule(scan func(...any) error) (Schedule, error) {
	var (
		sched     Schedule
		enabled   int
		lastRun   sql.NullInt64
		createdAt int64
	)
	err := scan(&sched.Name, &sched.Spec, &sched.Prompt, &enabled, &sched.RunCount, &lastRun, &sched.LastError, &createdAt)
	if err != nil {
		return Schedule{}, err
	}
	sched.Enabled = enabled != 0
	if lastRun.Valid {
		sched.LastRun = time.Unix(lastRun.Int64, 0)
	}
	sched.CreatedAt = time.Unix(createdAt, 0)
	return sched, nil
}

// List returns schedules; enabledOnly filters out disabled ones
func (s *ScheduleStore) List(enabledOnly bool) ([]Schedule, error) {
	ctx := context.Background()
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// Get returns a schedule by name, or nil if not found
func (s *ScheduleStore) Get(name string) (*Schedule, error) {
	ctx := context.Background()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE name = ?`, name)
	sched, err := scanSchedule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// SetEnabled toggles a schedule
func (s *ScheduleStore) SetEnabled(name string, enabled bool) error {
	ctx := context.Background()
	val := 0
	if enabled {
		val = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET enabled = ? WHERE name = ?`, val, name)
	return err
}

// MarkRun records that a schedule just fired, bumping its run count and
// recording the failure message if the run errored.
func (s *ScheduleStore) MarkRun(name string, runErr error) error {
	ctx := context.Background()
	lastError := ""
	if runErr != nil {
		lastError = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET run_count = run_count + 1, last_run = ?, last_error = ? WHERE name = ?`,
		time.Now().Unix(), lastError, name)
	return err
}

// Delete removes a schedule
func (s *ScheduleStore) Delete(name string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE name = ?`, name)
	return err
}
