package index

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetBlob returns the cached content of path in repo at sha.
func (db *DB) GetBlob(repo, path, sha string) (string, bool, error) {
	var content []byte
	err := db.conn.QueryRow(`SELECT content FROM blobs WHERE repo = ? AND path = ? AND sha = ?`, repo, path, sha).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("index: get blob: %w", err)
	}
	return string(content), true, nil
}

// PutBlob caches content for path in repo at sha. Older SHAs of the same
// path in the same repo are dropped.
func (db *DB) PutBlob(repo, path, sha, content string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM blobs WHERE repo = ? AND path = ? AND sha <> ?`, repo, path, sha); err != nil {
		return fmt.Errorf("index: prune blob: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO blobs (repo, path, sha, content) VALUES (?, ?, ?, ?)
		ON CONFLICT(repo, path, sha) DO UPDATE SET
			content   = excluded.content,
			cached_at = CURRENT_TIMESTAMP
	`, repo, path, sha, []byte(content))
	if err != nil {
		return fmt.Errorf("index: put blob: %w", err)
	}
	return tx.Commit()
}

// ClearBlobs empties the cache.
func (db *DB) ClearBlobs() error {
	if _, err := db.conn.Exec(`DELETE FROM blobs`); err != nil {
		return fmt.Errorf("index: clear blobs: %w", err)
	}
	return nil
}
