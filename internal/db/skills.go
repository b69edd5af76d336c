package db

import (
	"context"
	"database/sql"
	"time"
)

// Dynamic skill lifecycle states. New skills start on probation and
// graduate to active after successful runs; repeated failures
// deprecate them.
const (
	SkillStatusProbation  = "probation"
	SkillStatusActive     = "active"
	SkillStatusDeprecated = "deprecated"
)

// DynamicSkill is the persisted record of a generated skill file.
type DynamicSkill struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Runs        int       `json:"runs"`
	Failures    int       `json:"failures"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DynamicSkillStore persists generated skill records.
type DynamicSkillStore struct {
	db *sql.DB
}

// NewDynamicSkillStore creates a store sharing the Store's connection
func NewDynamicSkillStore(store *Store) *DynamicSkillStore {
	return &DynamicSkillStore{db: store.db}
}

// Upsert inserts or replaces a dynamic skill record
func (s *DynamicSkillStore) Upsert(skill DynamicSkill) error {
	ctx := context.Background()
	now := time.Now().Unix()
	status := skill.Status
	if status == "" {
		status = SkillStatusProbation
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dynamic_skills (name, path, description, status, runs, failures, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			description = excluded.description,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		skill.Name, skill.Path, skill.Description, status, skill.Runs, skill.Failures, now, now,
	)
	return err
}

// Get returns a dynamic skill record, or nil if not found
func (s *DynamicSkillStore) Get(name string) (*DynamicSkill, error) {
	ctx := context.Background()
	var (
		skill                DynamicSkill
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, path, description, status, runs, failures, created_at, updated_at
		 FROM dynamic_skills WHERE name = ?`, name,
	).Scan(&skill.Name, &skill.Path, &skill.Description, &skill.Status, &skill.Runs, &skill.Failures, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	skill.CreatedAt = time.Unix(createdAt, 0)
	skill.UpdatedAt = time.Unix(updatedAt, 0)
	return &skill, nil
}

// List returns all dynamic skill records, newest first
func (s *DynamicSkillStore) List() ([]DynamicSkill, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, path, description, status, runs, failures, created_at, updated_at
		 FROM dynamic_skills ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skills []DynamicSkill
	for rows.Next() {
		var (
			skill                DynamicSkill
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&skill.Name, &skill.Path, &skill.Description, &skill.Status, &skill.Runs, &skill.Failures, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		skill.CreatedAt = time.Unix(createdAt, 0)
		skill.UpdatedAt = time.Unix(updatedAt, 0)
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}

// RecordRun updates run counters and promotes or deprecates based on
// the outcome: three clean runs graduate a probation skill, three
// failures deprecate it.
func (s *DynamicSkillStore) RecordRun(name string, ok bool) error {
	ctx := context.Background()
	if ok {
		_, err := s.db.ExecContext(ctx,
			`UPDATE dynamic_skills SET runs = runs + 1,
				status = CASE WHEN status = 'probation' AND runs + 1 >= 3 THEN 'active' ELSE status END,
				updated_at = ?
			 WHERE name = ?`, time.Now().Unix(), name)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE dynamic_skills SET failures = failures + 1,
			status = CASE WHEN failures + 1 >= 3 THEN 'deprecated' ELSE status END,
			updated_at = ?
		 WHERE name = ?`, time.Now().Unix(), name)
	return err
}

// Delete removes a dynamic skill record
func (s *DynamicSkillStore) Delete(name string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dynamic_skills WHERE name = ?`, name)
	return err
}
