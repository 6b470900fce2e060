package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxFileSizeMB is the size limit used when none is stored
const DefaultMaxFileSizeMB = 100

// Preferences are per-user classification preferences
type Preferences struct {
	IgnoreMime    []string
	IgnoreLarge   bool
	MaxFileSizeMB int
	UpdatedAt     time.Time
}

// DefaultPreferences returns the preferences of a user who never saved any
func DefaultPreferences() *Preferences {
	return &Preferences{IgnoreMime: []string{}, MaxFileSizeMB: DefaultMaxFileSizeMB}
}

// PreferencesStore handles preference persistence
type PreferencesStore struct {
	conn
}

// NewPreferencesStore creates a new preferences store from a base store
func NewPreferencesStore(store *Store) *PreferencesStore {
	if store == nil {
		return nil
	}
	return &PreferencesStore{conn: newConn(store)}
}

// GetPreferences returns stored preferences or the defaults
func (ps *PreferencesStore) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	if ps == nil || !ps.ready() {
		return nil, fmt.Errorf("preferences store not initialized")
	}
	var mime string
	var large, maxMB int
	var updated int64
	err := ps.queryRow(ctx, `SELECT ignore_mime, ignore_large, max_file_size_mb, updated_at FROM preferences WHERE user_id=?`, userID).
		Scan(&mime, &large, &maxMB, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return nil, err
	}
	p := &Preferences{IgnoreLarge: large != 0, MaxFileSizeMB: maxMB, UpdatedAt: time.Unix(updated, 0)}
	if err := json.Unmarshal([]byte(mime), &p.IgnoreMime); err != nil {
		return nil, fmt.Errorf("decode ignore_mime: %w", err)
	}
	if p.IgnoreMime == nil {
		p.IgnoreMime = []string{}
	}
	return p, nil
}

// SavePreferences upserts a user's preferences
func (ps *PreferencesStore) SavePreferences(ctx context.Context, userID string, prefs *Preferences) error {
	if ps == nil || !ps.ready() {
		return fmt.Errorf("preferences store not initialized")
	}
	if strings.TrimSpace(userID) == "" || prefs == nil {
		return fmt.Errorf("invalid preferences inputs")
	}
	if prefs.MaxFileSizeMB <= 0 {
		prefs.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	mime, err := json.Marshal(nonNil(prefs.IgnoreMime))
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	_, err = ps.exec(ctx, ps.db, `INSERT INTO preferences(user_id, ignore_mime, ignore_large, max_file_size_mb, updated_at)
VALUES(?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET ignore_mime=excluded.ignore_mime, ignore_large=excluded.ignore_large,
  max_file_size_mb=excluded.max_file_size_mb, updated_at=excluded.updated_at`,
		userID, string(mime), boolToInt(prefs.IgnoreLarge), prefs.MaxFileSizeMB, now)
	if err == nil {
		prefs.UpdatedAt = time.Unix(now, 0)
	}
	return err
}
