package store

import (
	"database/sql"

	apperrors "github.com/soundrift/soundrift-go/internal/errors"
)

// KVStore persists opaque blobs by key (UI state, per-source file-index
// overrides). Values are whatever the caller serialized; this layer never
// inspects them.
type KVStore struct {
	db *sql.DB
}

// NewKVStore creates a KVStore over an initialized database.
func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

// Get returns the value for key; ok is false when the key is absent.
func (s *KVStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewPersistenceError("failed to read kv entry", err)
	}
	return value, true, nil
}

// Set writes the value for key, replacing any previous value.
func (s *KVStore) Set(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return apperrors.NewPersistenceError("failed to write kv entry", err)
	}
	return nil
}

// Delete removes the value for key. Deleting an absent key is not an error.
func (s *KVStore) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM kv_store WHERE key = ?", key)
	if err != nil {
		return apperrors.NewPersistenceError("failed to delete kv entry", err)
	}
	return nil
}
