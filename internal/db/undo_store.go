package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Undo log statuses
const (
	UndoApplied   = "applied"
	UndoReverting = "reverting"
	UndoReverted  = "reverted"
)

// UndoLog is a persisted change log header
type UndoLog struct {
	ID         string
	ProposalID string
	UserID     string
	Status     string
	CreatedAt  time.Time
	RevertedAt *time.Time
}

// ChangeEntry is one persisted change log entry
type ChangeEntry struct {
	Seq               int
	Type              string
	ItemID            string
	FromParentID      string
	ToParentID        string
	FolderName        string
	PreviousParentIDs []string
}

// UndoStore handles undo log persistence
type UndoStore struct {
	conn
}

// NewUndoStore creates a new undo store from a base store
func NewUndoStore(store *Store) *UndoStore {
	if store == nil {
		return nil
	}
	return &UndoStore{conn: newConn(store)}
}

func (us *UndoStore) ok() error {
	if us == nil || !us.ready() {
		return fmt.Errorf("undo store not initialized")
	}
	return nil
}

// CreateUndoLog inserts the log header and its entries in one transaction.
// Entry sequence numbers follow slice order.
func (us *UndoStore) CreateUndoLog(ctx context.Context, log *UndoLog, entries []ChangeEntry) error {
	if err := us.ok(); err != nil {
		return err
	}
	if log == nil || log.ProposalID == "" || log.UserID == "" {
		return fmt.Errorf("invalid undo log inputs")
	}
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Status == "" {
		log.Status = UndoApplied
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Unix(time.Now().Unix(), 0)
	}

	tx, err := us.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := us.exec(ctx, tx, `INSERT INTO undo_logs(id, proposal_id, user_id, status, created_at) VALUES(?,?,?,?,?)`,
		log.ID, log.ProposalID, log.UserID, log.Status, log.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert undo log: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		e.Seq = i
		prev, err := json.Marshal(nonNil(e.PreviousParentIDs))
		if err != nil {
			return err
		}
		if _, err := us.exec(ctx, tx, `INSERT INTO change_log_entries(undo_log_id, seq, type, item_id, from_parent_id, to_parent_id, folder_name, previous_parent_ids)
VALUES(?,?,?,?,?,?,?,?)`,
			log.ID, e.Seq, e.Type, e.ItemID, e.FromParentID, e.ToParentID, e.FolderName, string(prev)); err != nil {
			return fmt.Errorf("insert change log entry %d: %w", i, err)
		}
	}
	return tx.Commit()
}

const undoColumns = `id, proposal_id, user_id, status, created_at, reverted_at`

func scanUndoLog(row interface{ Scan(...any) error }) (*UndoLog, error) {
	var l UndoLog
	var created int64
	var reverted sql.NullInt64
	if err := row.Scan(&l.ID, &l.ProposalID, &l.UserID, &l.Status, &created, &reverted); err != nil {
		return nil, err
	}
	l.CreatedAt = time.Unix(created, 0)
	if reverted.Valid {
		t := time.Unix(reverted.Int64, 0)
		l.RevertedAt = &t
	}
	return &l, nil
}

// GetUndoLog loads a log header and its entries in sequence order
func (us *UndoStore) GetUndoLog(ctx context.Context, id string) (*UndoLog, []ChangeEntry, error) {
	if err := us.ok(); err != nil {
		return nil, nil, err
	}
	log, err := scanUndoLog(us.queryRow(ctx, `SELECT `+undoColumns+` FROM undo_logs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := us.query(ctx, `SELECT seq, type, item_id, from_parent_id, to_parent_id, folder_name, previous_parent_ids
FROM change_log_entries WHERE undo_log_id=? ORDER BY seq`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var entries []ChangeEntry
	for rows.Next() {
		var e ChangeEntry
		var prev string
		if err := rows.Scan(&e.Seq, &e.Type, &e.ItemID, &e.FromParentID, &e.ToParentID, &e.FolderName, &prev); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal([]byte(prev), &e.PreviousParentIDs); err != nil {
			return nil, nil, fmt.Errorf("decode previous parents: %w", err)
		}
		entries = append(entries, e)
	}
	return log, entries, rows.Err()
}

// LatestUndoLogForProposal returns the newest undo log of a proposal
func (us *UndoStore) LatestUndoLogForProposal(ctx context.Context, proposalID string) (*UndoLog, error) {
	if err := us.ok(); err != nil {
		return nil, err
	}
	log, err := scanUndoLog(us.queryRow(ctx, `SELECT `+undoColumns+` FROM undo_logs
WHERE proposal_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, proposalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return log, err
}

// BeginRevert moves a log from applied to reverting. It fails with
// ErrAlreadyReverted or ErrRevertInProgress when another caller got there first.
func (us *UndoStore) BeginRevert(ctx context.Context, id string) error {
	return us.transition(ctx, id, UndoApplied, UndoReverting, nil)
}

// FinishRevert moves a log from reverting to reverted
func (us *UndoStore) FinishRevert(ctx context.Context, id string, at time.Time) error {
	ts := at.Unix()
	return us.transition(ctx, id, UndoReverting, UndoReverted, &ts)
}

// AbortRevert returns a reverting log to applied
func (us *UndoStore) AbortRevert(ctx context.Context, id string) error {
	return us.transition(ctx, id, UndoReverting, UndoApplied, nil)
}

func (us *UndoStore) transition(ctx context.Context, id, from, to string, revertedAt *int64) error {
	if err := us.ok(); err != nil {
		return err
	}
	var res sql.Result
	var err error
	if revertedAt != nil {
		res, err = us.exec(ctx, us.db, `UPDATE undo_logs SET status=?, reverted_at=? WHERE id=? AND status=?`, to, *revertedAt, id, from)
	} else {
		res, err = us.exec(ctx, us.db, `UPDATE undo_logs SET status=? WHERE id=? AND status=?`, to, id, from)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current string
	err = us.queryRow(ctx, `SELECT status FROM undo_logs WHERE id=?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	switch current {
	case UndoReverted:
		return ErrAlreadyReverted
	case UndoReverting:
		return ErrRevertInProgress
	}
	return fmt.Errorf("undo log %s is %s, expected %s", id, current, from)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
