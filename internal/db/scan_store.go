package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/google/uuid"
)

// Scan statuses
const (
	ScanPending    = "pending"
	ScanProcessing = "processing"
	ScanCompleted  = "completed"
	ScanError      = "error"
)

// Scan is a persisted crawl
type Scan struct {
	ID        string
	UserID    string
	RootID    string
	Status    string
	Message   string
	Truncated bool
	ItemCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScanFailure is a subtree a scan could not list
type ScanFailure struct {
	FolderID string
	Depth    int
	Status   int
	Reason   string
}

// ScanStore handles scan persistence
type ScanStore struct {
	conn
}

// NewScanStore creates a new scan store from a base store
func NewScanStore(store *Store) *ScanStore {
	if store == nil {
		return nil
	}
	return &ScanStore{conn: newConn(store)}
}

func (s *ScanStore) ok() error {
	if s == nil || !s.ready() {
		return fmt.Errorf("scan store not initialized")
	}
	return nil
}

// CreateScan inserts a pending scan
func (s *ScanStore) CreateScan(ctx context.Context, userID, rootID string) (*Scan, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id required")
	}
	now := time.Now()
	scan := &Scan{
		ID:        uuid.New().String(),
		UserID:    userID,
		RootID:    rootID,
		Status:    ScanPending,
		CreatedAt: time.Unix(now.Unix(), 0),
		UpdatedAt: time.Unix(now.Unix(), 0),
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO drive_scans(id, user_id, root_id, status, message, truncated, item_count, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?)`,
		scan.ID, scan.UserID, scan.RootID, scan.Status, "", 0, 0, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert scan: %w", err)
	}
	return scan, nil
}

// SetScanStatus updates status and message
func (s *ScanStore) SetScanStatus(ctx context.Context, scanID, status, message string) error {
	if err := s.ok(); err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db, `UPDATE drive_scans SET status=?, message=?, updated_at=? WHERE id=?`,
		status, message, time.Now().Unix(), scanID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// SaveScanResult stores items in discovery order plus failures and marks the
// scan completed, in one transaction.
func (s *ScanStore) SaveScanResult(ctx context.Context, scanID string, items []drive.Item, failures []ScanFailure, truncated bool) error {
	if err := s.ok(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.exec(ctx, tx, `DELETE FROM scan_items WHERE scan_id=?`, scanID); err != nil {
		return err
	}
	if _, err := s.exec(ctx, tx, `DELETE FROM scan_failures WHERE scan_id=?`, scanID); err != nil {
		return err
	}
	for i, it := range items {
		payload, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode item %s: %w", it.ID, err)
		}
		if _, err := s.exec(ctx, tx, `INSERT INTO scan_items(scan_id, seq, item_id, payload) VALUES(?,?,?,?)`,
			scanID, i, it.ID, string(payload)); err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	for i, f := range failures {
		if _, err := s.exec(ctx, tx, `INSERT INTO scan_failures(scan_id, seq, folder_id, depth, status, reason) VALUES(?,?,?,?,?,?)`,
			scanID, i, f.FolderID, f.Depth, f.Status, f.Reason); err != nil {
			return fmt.Errorf("insert failure: %w", err)
		}
	}
	res, err := s.exec(ctx, tx, `UPDATE drive_scans SET status=?, truncated=?, item_count=?, updated_at=? WHERE id=?`,
		ScanCompleted, boolToInt(truncated), len(items), time.Now().Unix(), scanID)
	if err != nil {
		return err
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

const scanColumns = `id, user_id, root_id, status, message, truncated, item_count, created_at, updated_at`

func scanScan(row interface{ Scan(...any) error }) (*Scan, error) {
	var sc Scan
	var truncated int
	var created, updated int64
	if err := row.Scan(&sc.ID, &sc.UserID, &sc.RootID, &sc.Status, &sc.Message, &truncated, &sc.ItemCount, &created, &updated); err != nil {
		return nil, err
	}
	sc.Truncated = truncated != 0
	sc.CreatedAt = time.Unix(created, 0)
	sc.UpdatedAt = time.Unix(updated, 0)
	return &sc, nil
}

// GetScan loads one scan
func (s *ScanStore) GetScan(ctx context.Context, scanID string) (*Scan, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	sc, err := scanScan(s.queryRow(ctx, `SELECT `+scanColumns+` FROM drive_scans WHERE id=?`, scanID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

// LatestScan returns the user's newest completed scan
func (s *ScanStore) LatestScan(ctx context.Context, userID string) (*Scan, error) {
	return s.newest(ctx, `WHERE user_id=? AND status=?`, userID, ScanCompleted)
}

// NewestScan returns the user's newest scan whatever its status
func (s *ScanStore) NewestScan(ctx context.Context, userID string) (*Scan, error) {
	return s.newest(ctx, `WHERE user_id=?`, userID)
}

func (s *ScanStore) newest(ctx context.Context, where string, args ...any) (*Scan, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	sc, err := scanScan(s.queryRow(ctx, `SELECT `+scanColumns+` FROM drive_scans
`+where+` ORDER BY created_at DESC, id DESC LIMIT 1`, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

// LoadItems returns a scan's items in discovery order
func (s *ScanStore) LoadItems(ctx context.Context, scanID string) ([]drive.Item, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, `SELECT payload FROM scan_items WHERE scan_id=? ORDER BY seq`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []drive.Item
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var it drive.Item
		if err := json.Unmarshal([]byte(payload), &it); err != nil {
			return nil, fmt.Errorf("decode scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// LoadFailures returns a scan's subtree failures
func (s *ScanStore) LoadFailures(ctx context.Context, scanID string) ([]ScanFailure, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, `SELECT folder_id, depth, status, reason FROM scan_failures WHERE scan_id=? ORDER BY seq`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanFailure
	for rows.Next() {
		var f ScanFailure
		if err := rows.Scan(&f.FolderID, &f.Depth, &f.Status, &f.Reason); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
