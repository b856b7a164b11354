package store

import "fmt"

// Diff statuses for a source component relative to the target.
const (
	StatusNew     = "NEW"
	StatusChanged = "CHANGED"
	StatusMatch   = "MATCH"
)

// DiffRecord classifies one source component relative to the target
// environment. Path is display-only ("type/fullName").
type DiffRecord struct {
	FullName     string `json:"fullName"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	UniqueKey    string `json:"id"`
	Path         string `json:"path"`
	LastModified string `json:"lastModifiedDate"`
	RemoteID     string `json:"remoteId"`
}

// ReplaceAnalysis swaps the current analysis wholesale.
func (s *Store) ReplaceAnalysis(records []DiffRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin analysis tx: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM analysis"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear analysis: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT INTO analysis (position, type, full_name, status, unique_key, path, last_modified, remote_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare analysis insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.Exec(i, r.Type, r.FullName, r.Status, r.UniqueKey, r.Path, r.LastModified, r.RemoteID); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert analysis record %s: %w", r.UniqueKey, err)
		}
	}
	return tx.Commit()
}

// ListAnalysis returns the current analysis in classification order.
func (s *Store) ListAnalysis() ([]DiffRecord, error) {
	rows, err := s.db.Query(
		"SELECT type, full_name, status, unique_key, path, last_modified, remote_id FROM analysis ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("list analysis: %w", err)
	}
	defer rows.Close()

	var records []DiffRecord
	for rows.Next() {
		var r DiffRecord
		if err := rows.Scan(&r.Type, &r.FullName, &r.Status, &r.UniqueKey, &r.Path, &r.LastModified, &r.RemoteID); err != nil {
			return nil, fmt.Errorf("scan analysis record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
