package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Proposal statuses
const (
	ProposalDraft    = "draft"
	ProposalApplied  = "applied"
	ProposalReverted = "reverted"
)

// ProposalRecord is a persisted proposal; Payload holds its JSON body
type ProposalRecord struct {
	ID        string
	UserID    string
	ScanID    string
	Status    string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProposalStore handles proposal persistence
type ProposalStore struct {
	conn
}

// NewProposalStore creates a new proposal store from a base store
func NewProposalStore(store *Store) *ProposalStore {
	if store == nil {
		return nil
	}
	return &ProposalStore{conn: newConn(store)}
}

// SaveProposal inserts or replaces a proposal. Missing id, status and
// timestamps are filled in.
func (ps *ProposalStore) SaveProposal(ctx context.Context, p *ProposalRecord) error {
	if ps == nil || !ps.ready() {
		return fmt.Errorf("proposal store not initialized")
	}
	if p == nil || strings.TrimSpace(p.UserID) == "" || len(p.Payload) == 0 {
		return fmt.Errorf("invalid proposal inputs")
	}
	now := time.Unix(time.Now().Unix(), 0)
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = ProposalDraft
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := ps.exec(ctx, ps.db, `INSERT INTO proposals(id, user_id, scan_id, status, payload, created_at, updated_at)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, payload=excluded.payload, updated_at=excluded.updated_at`,
		p.ID, p.UserID, p.ScanID, p.Status, string(p.Payload), p.CreatedAt.Unix(), p.UpdatedAt.Unix())
	return err
}

const proposalColumns = `id, user_id, scan_id, status, payload, created_at, updated_at`

func scanProposal(row interface{ Scan(...any) error }) (*ProposalRecord, error) {
	var p ProposalRecord
	var payload string
	var created, updated int64
	if err := row.Scan(&p.ID, &p.UserID, &p.ScanID, &p.Status, &payload, &created, &updated); err != nil {
		return nil, err
	}
	p.Payload = []byte(payload)
	p.CreatedAt = time.Unix(created, 0)
	p.UpdatedAt = time.Unix(updated, 0)
	return &p, nil
}

// GetProposal loads one proposal
func (ps *ProposalStore) GetProposal(ctx context.Context, id string) (*ProposalRecord, error) {
	if ps == nil || !ps.ready() {
		return nil, fmt.Errorf("proposal store not initialized")
	}
	p, err := scanProposal(ps.queryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListProposals returns a user's proposals, newest first
func (ps *ProposalStore) ListProposals(ctx context.Context, userID string, limit int) ([]*ProposalRecord, error) {
	if ps == nil || !ps.ready() {
		return nil, fmt.Errorf("proposal store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := ps.query(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE user_id=?
ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ProposalRecord
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetProposalStatus updates a proposal's status
func (ps *ProposalStore) SetProposalStatus(ctx context.Context, id, status string) error {
	if ps == nil || !ps.ready() {
		return fmt.Errorf("proposal store not initialized")
	}
	res, err := ps.exec(ctx, ps.db, `UPDATE proposals SET status=?, updated_at=? WHERE id=?`, status, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}
