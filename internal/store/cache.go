package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Snapshot keys written by the sync client.
const (
	KeyRecipes    = "recipes"
	KeyCategories = "categories"
	KeyUsers      = "users"
	KeyComments   = "comments"
	KeyStatus     = "status"
	KeyCookies    = "cookies"
	KeyShopping   = "shopping"
	KeyListOps    = "shopping-list-ops"
)

// CacheStore is the durable mirror of the sync client's in-memory caches.
// Values are stored as JSON snapshots keyed by name.
type CacheStore struct {
	db *sql.DB
}

func NewCacheStore(db *sql.DB) *CacheStore {
	return &CacheStore{db: db}
}

// Put replaces the snapshot stored under key.
func (s *CacheStore) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO cache_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get decodes the snapshot stored under key into v. It reports false when
// no snapshot exists, leaving v untouched.
func (s *CacheStore) Get(key string, v any) (bool, error) {
	var data string
	err := s.db.QueryRow(`SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *CacheStore) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

// Checksum returns the last checksum persisted for a resource family.
func (s *CacheStore) Checksum(family string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM checksums WHERE family = ?`, family).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get checksum %s: %w", family, err)
	}
	return value, true, nil
}

func (s *CacheStore) SetChecksum(family, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO checksums (family, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(family) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		family, value,
	)
	if err != nil {
		return fmt.Errorf("set checksum %s: %w", family, err)
	}
	return nil
}

func (s *CacheStore) ClearChecksums() error {
	if _, err := s.db.Exec(`DELETE FROM checksums`); err != nil {
		return fmt.Errorf("clear checksums: %w", err)
	}
	return nil
}
