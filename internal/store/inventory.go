package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InventoryEntry is one enumerated component in one environment. IsFile marks
// types with retrievable body content; child types carry metadata only.
type InventoryEntry struct {
	FullName     string
	Type         string
	LastModified string
	RemoteID     string
	IsFile       bool
}

// EnvMeta is the per-environment connection record kept outside the busy
// state: where we are connected and when the last successful sync finished.
type EnvMeta struct {
	Env         string
	InstanceURL string
	LastSync    *time.Time
}

// ReplaceInventory swaps the full inventory sequence for one environment in
// a single transaction. Enumeration order is preserved.
func (s *Store) ReplaceInventory(env string, entries []InventoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin inventory tx: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM inventory WHERE env = ?", env); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear inventory for %s: %w", env, err)
	}
	stmt, err := tx.Prepare(
		"INSERT INTO inventory (env, type, full_name, last_modified, remote_id, is_file, position) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare inventory insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		isFile := 0
		if e.IsFile {
			isFile = 1
		}
		if _, err := stmt.Exec(env, e.Type, e.FullName, e.LastModified, e.RemoteID, isFile, i); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert inventory entry %s#%s: %w", e.Type, e.FullName, err)
		}
	}
	return tx.Commit()
}

// ListInventory returns the environment's inventory in enumeration order.
func (s *Store) ListInventory(env string) ([]InventoryEntry, error) {
	rows, err := s.db.Query(
		"SELECT type, full_name, last_modified, remote_id, is_file FROM inventory WHERE env = ? ORDER BY position",
		env)
	if err != nil {
		return nil, fmt.Errorf("list inventory for %s: %w", env, err)
	}
	defer rows.Close()

	var entries []InventoryEntry
	for rows.Next() {
		var e InventoryEntry
		var isFile int
		if err := rows.Scan(&e.Type, &e.FullName, &e.LastModified, &e.RemoteID, &isFile); err != nil {
			return nil, fmt.Errorf("scan inventory entry: %w", err)
		}
		e.IsFile = isFile != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetInstanceURL records the authenticated endpoint for an environment.
func (s *Store) SetInstanceURL(env, instanceURL string) error {
	_, err := s.db.Exec(`INSERT INTO env_meta (env, instance_url) VALUES (?, ?)
		ON CONFLICT(env) DO UPDATE SET instance_url = excluded.instance_url`, env, instanceURL)
	if err != nil {
		return fmt.Errorf("set instance url for %s: %w", env, err)
	}
	return nil
}

// SetLastSync records a completed collection run for an environment.
func (s *Store) SetLastSync(env string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO env_meta (env, last_sync) VALUES (?, ?)
		ON CONFLICT(env) DO UPDATE SET last_sync = excluded.last_sync`,
		env, at.UTC().Format(timeFmt))
	if err != nil {
		return fmt.Errorf("set last sync for %s: %w", env, err)
	}
	return nil
}

// GetEnvMeta returns the connection record for an environment, or a zero
// record if none exists yet.
func (s *Store) GetEnvMeta(env string) (*EnvMeta, error) {
	meta := &EnvMeta{Env: env}
	var lastSync sql.NullString
	err := s.db.QueryRow("SELECT instance_url, last_sync FROM env_meta WHERE env = ?", env).
		Scan(&meta.InstanceURL, &lastSync)
	if err == sql.ErrNoRows {
		return meta, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get env meta for %s: %w", env, err)
	}
	if lastSync.Valid && lastSync.String != "" {
		if t, err := time.Parse(timeFmt, lastSync.String); err == nil {
			meta.LastSync = &t
		}
	}
	return meta, nil
}
