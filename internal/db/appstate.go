// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppState keys.
const (
	// KeyLastYtdlpUpdate records when the extractor binary last
	// self-updated.
	KeyLastYtdlpUpdate = "last_yt_dlp_update"
)

// AppStateStore persists process-global key/value rows, used for
// maintenance timestamps. Values are written under a short transaction;
// treat each key as single-writer.
type AppStateStore struct {
	db *DB
}

// NewAppStateStore creates an app state store over the shared handle.
func NewAppStateStore(db *DB) *AppStateStore {
	return &AppStateStore{db: db}
}

// Get returns the value for key, or ok=false when unset.
func (s *AppStateStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get app state %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes the value for key.
func (s *AppStateStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.db.ExecContext(ctx, `
	INSERT INTO app_state (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set app state %s: %w", key, err)
	}
	return nil
}

// GetTime reads a key holding an RFC 3339 timestamp.
func (s *AppStateStore) GetTime(ctx context.Context, key string) (*time.Time, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	t, err := parseTime(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SetTime writes a timestamp under key.
func (s *AppStateStore) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.Set(ctx, key, formatTime(t))
}
