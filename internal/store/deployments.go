package store

import (
	"fmt"
	"time"
)

// Deployment is one audit entry for a submitted deploy job.
type Deployment struct {
	ID             string
	JobID          string
	SubmittedAt    time.Time
	CheckOnly      bool
	TestLevel      string
	ComponentCount int
}

// RecordDeployment appends to the deployment audit log.
func (s *Store) RecordDeployment(d *Deployment) error {
	checkOnly := 0
	if d.CheckOnly {
		checkOnly = 1
	}
	_, err := s.db.Exec(
		"INSERT INTO deployments (id, job_id, submitted_at, check_only, test_level, component_count) VALUES (?, ?, ?, ?, ?, ?)",
		d.ID, d.JobID, d.SubmittedAt.UTC().Format(timeFmt), checkOnly, d.TestLevel, d.ComponentCount)
	if err != nil {
		return fmt.Errorf("record deployment %s: %w", d.ID, err)
	}
	return nil
}

// ListDeployments returns the audit log, most recent first.
func (s *Store) ListDeployments(limit int) ([]*Deployment, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT id, job_id, submitted_at, check_only, test_level, component_count FROM deployments ORDER BY submitted_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []*Deployment
	for rows.Next() {
		d := &Deployment{}
		var at string
		var checkOnly int
		if err := rows.Scan(&d.ID, &d.JobID, &at, &checkOnly, &d.TestLevel, &d.ComponentCount); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		d.CheckOnly = checkOnly != 0
		if t, err := time.Parse(timeFmt, at); err == nil {
			d.SubmittedAt = t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
