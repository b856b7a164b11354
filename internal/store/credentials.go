package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PutCredentials stores a sealed credential blob for an environment. The
// store never sees plaintext; sealing happens in the session package.
func (s *Store) PutCredentials(env string, blob []byte) error {
	_, err := s.db.Exec(`INSERT INTO credentials (env, blob, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(env) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		env, blob, time.Now().UTC().Format(timeFmt))
	if err != nil {
		return fmt.Errorf("put credentials for %s: %w", env, err)
	}
	return nil
}

// GetCredentials returns the sealed blob for an environment, or nil if none
// is stored.
func (s *Store) GetCredentials(env string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow("SELECT blob FROM credentials WHERE env = ?", env).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials for %s: %w", env, err)
	}
	return blob, nil
}

// DeleteCredentials forgets a stored credential blob.
func (s *Store) DeleteCredentials(env string) error {
	if _, err := s.db.Exec("DELETE FROM credentials WHERE env = ?", env); err != nil {
		return fmt.Errorf("delete credentials for %s: %w", env, err)
	}
	return nil
}
