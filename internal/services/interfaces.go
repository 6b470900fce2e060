package services

import (
	"context"
	"time"

	"github.com/ajramos/drive-organizer/internal/db"
	"github.com/ajramos/drive-organizer/internal/drive"
)

// RemoteStore is the remote hierarchical store the core reads and mutates
type RemoteStore interface {
	ListChildren(ctx context.Context, folderID, pageToken string, pageSize int64, mimeFilter string) (*drive.Page, error)
	GetParents(ctx context.Context, itemID string) ([]string, error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	MoveItem(ctx context.Context, itemID, addParentID string, removeParentIDs []string) (*drive.Item, error)
	FindFolderByName(ctx context.Context, name, parentID string) (string, bool, error)
	// RootFolderID resolves the "root" alias to the id the store reports as parent
	RootFolderID(ctx context.Context) (string, error)
}

// PageLister fetches one page of children with retry on transient errors
type PageLister interface {
	ListPage(ctx context.Context, folderID, pageToken string, pageSize int64, mimeFilter string) (*drive.Page, error)
}

// Crawler walks the remote hierarchy into a flat item set
type Crawler interface {
	Crawl(ctx context.Context, opts CrawlOptions) (*ScanResult, error)
}

// Executor applies a proposal against the remote store
type Executor interface {
	Execute(ctx context.Context, proposal *Proposal) (*ExecutionResult, error)
}

// UndoService replays a change log in reverse
type UndoService interface {
	Undo(ctx context.Context, record *UndoRecord) (*UndoResult, error)
	InFlight(recordID string) bool
}

// ClassificationOracle decides how a set of items should be organized
type ClassificationOracle interface {
	Propose(ctx context.Context, items []drive.Item, folders []drive.Item, prefs Preferences) (*Proposal, error)
}

// ScanRepository persists scans and their items
type ScanRepository interface {
	CreateScan(ctx context.Context, userID, rootID string) (*db.Scan, error)
	SetScanStatus(ctx context.Context, scanID, status, message string) error
	SaveScanResult(ctx context.Context, scanID string, items []drive.Item, failures []db.ScanFailure, truncated bool) error
	GetScan(ctx context.Context, scanID string) (*db.Scan, error)
	LatestScan(ctx context.Context, userID string) (*db.Scan, error)
	NewestScan(ctx context.Context, userID string) (*db.Scan, error)
	LoadItems(ctx context.Context, scanID string) ([]drive.Item, error)
	LoadFailures(ctx context.Context, scanID string) ([]db.ScanFailure, error)
}

// ProposalRepository persists proposals
type ProposalRepository interface {
	SaveProposal(ctx context.Context, p *db.ProposalRecord) error
	GetProposal(ctx context.Context, id string) (*db.ProposalRecord, error)
	ListProposals(ctx context.Context, userID string, limit int) ([]*db.ProposalRecord, error)
	SetProposalStatus(ctx context.Context, id, status string) error
}

// UndoRepository persists change logs and their revert state
type UndoRepository interface {
	CreateUndoLog(ctx context.Context, log *db.UndoLog, entries []db.ChangeEntry) error
	GetUndoLog(ctx context.Context, id string) (*db.UndoLog, []db.ChangeEntry, error)
	LatestUndoLogForProposal(ctx context.Context, proposalID string) (*db.UndoLog, error)
	BeginRevert(ctx context.Context, id string) error
	FinishRevert(ctx context.Context, id string, at time.Time) error
	AbortRevert(ctx context.Context, id string) error
}

// PreferencesRepository persists per-user classification preferences
type PreferencesRepository interface {
	GetPreferences(ctx context.Context, userID string) (*db.Preferences, error)
	SavePreferences(ctx context.Context, userID string, prefs *db.Preferences) error
}

// OrganizerService runs one user's scan, propose, apply and undo flow
type OrganizerService interface {
	Scan(ctx context.Context, opts CrawlOptions) (*db.Scan, *ScanResult, error)
	Tree(ctx context.Context, scanID string) (*TreeNode, error)
	Propose(ctx context.Context, scanID string) (*db.ProposalRecord, *Proposal, error)
	Apply(ctx context.Context, proposalID string) (*ApplyResult, error)
	Undo(ctx context.Context, undoLogID string) (*UndoResult, error)
	UndoProposal(ctx context.Context, proposalID string) (*UndoResult, error)
	ReleaseUndo(ctx context.Context, undoLogID string) error
	ScanStatus(ctx context.Context, scanID string) (*db.Scan, []db.ScanFailure, error)
	Proposal(ctx context.Context, proposalID string) (*db.ProposalRecord, *Proposal, error)
	ItemNames(ctx context.Context, scanID string) (map[string]string, error)
	ListProposals(ctx context.Context, limit int) ([]*db.ProposalRecord, error)
	Preferences(ctx context.Context) (Preferences, error)
	UpdatePreferences(ctx context.Context, prefs Preferences) error
}

// Data structures

// ScanFailure is a subtree the crawler could not list
type ScanFailure struct {
	FolderID string `json:"folder_id"`
	Depth    int    `json:"depth"`
	Reason   string `json:"reason"`
	Status   int    `json:"status,omitempty"`
}

// ScanResult is the de-duplicated flat output of one crawl.
// Items are in discovery order and unique by id.
type ScanResult struct {
	ScanID    string        `json:"scan_id"`
	RootID    string        `json:"root_id"`
	Items     []drive.Item  `json:"items"`
	Truncated bool          `json:"truncated"`
	Failures  []ScanFailure `json:"failures,omitempty"`
}

// Files returns the non-folder items
func (r *ScanResult) Files() []drive.Item {
	return filterKind(r.Items, drive.KindFile)
}

// Folders returns the folder items
func (r *ScanResult) Folders() []drive.Item {
	return filterKind(r.Items, drive.KindFolder)
}

func filterKind(items []drive.Item, kind drive.Kind) []drive.Item {
	out := make([]drive.Item, 0, len(items))
	for _, it := range items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

// CrawlOptions configures a crawl.
// A zero MaxItems means no cap; an empty ScanID gets a fresh uuid.
type CrawlOptions struct {
	ScanID     string
	RootID     string
	MaxItems   int
	PageSize   int64
	MimeFilter string
}

// TreeNode is one node of a reconstructed tree
type TreeNode struct {
	ItemID   string      `json:"item_id"`
	Name     string      `json:"name"`
	Kind     drive.Kind  `json:"kind"`
	Children []*TreeNode `json:"children"`
	Depth    int         `json:"depth"`
}

// NewFolder is a folder a proposal wants to exist
type NewFolder struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
	ParentName  string `json:"parent_name,omitempty"`
}

// Assignment places an item in a folder, by id or by new folder name
type Assignment struct {
	ItemID           string `json:"item_id"`
	TargetFolderID   string `json:"target_folder_id,omitempty"`
	TargetFolderName string `json:"target_folder_name,omitempty"`
}

// Merge redirects assignments that target any source folder to the canonical one
type Merge struct {
	SourceFolderIDs   []string `json:"source_folder_ids"`
	CanonicalFolderID string   `json:"canonical_folder_id"`
}

// Proposal is a reorganization plan produced outside the core
type Proposal struct {
	NewFolders  []NewFolder  `json:"new_folders"`
	Assignments []Assignment `json:"assignments"`
	Merges      []Merge      `json:"merges,omitempty"`
	Orphans     []string     `json:"orphans,omitempty"`
	Reasoning   string       `json:"reasoning,omitempty"`
}

// ChangeType identifies a change log entry
type ChangeType string

const (
	ChangeCreateFolder ChangeType = "create_folder"
	ChangeMoveItem     ChangeType = "move_item"
)

// ChangeLogEntry records one applied mutation
type ChangeLogEntry struct {
	Type              ChangeType `json:"type"`
	ItemID            string     `json:"item_id"`
	FromParentID      string     `json:"from_parent_id,omitempty"`
	ToParentID        string     `json:"to_parent_id"`
	FolderName        string     `json:"folder_name,omitempty"`
	PreviousParentIDs []string   `json:"previous_parent_ids,omitempty"`
}

// ChangeLog is an append-only sequence of applied mutations
type ChangeLog struct {
	entries []ChangeLogEntry
}

// NewChangeLog builds a change log from already-recorded entries
func NewChangeLog(entries ...ChangeLogEntry) ChangeLog {
	return ChangeLog{entries: append([]ChangeLogEntry(nil), entries...)}
}

// Append adds an entry at the end of the log
func (l *ChangeLog) Append(e ChangeLogEntry) {
	l.entries = append(l.entries, e)
}

// Len returns the number of entries
func (l ChangeLog) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the entries in execution order
func (l ChangeLog) Entries() []ChangeLogEntry {
	return append([]ChangeLogEntry(nil), l.entries...)
}

// MoveSuccess is an item placed in its target folder
type MoveSuccess struct {
	ItemID       string `json:"item_id"`
	FolderID     string `json:"folder_id"`
	AlreadyThere bool   `json:"already_there,omitempty"`
}

// Failure is one failed operation in a batch
type Failure struct {
	Op         string `json:"op"`
	ItemID     string `json:"item_id,omitempty"`
	FolderName string `json:"folder_name,omitempty"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

func (f Failure) Error() string {
	subject := f.ItemID
	if subject == "" {
		subject = f.FolderName
	}
	return f.Op + " " + subject + ": " + f.Reason
}

func (f Failure) Unwrap() error {
	return f.Err
}

// ExecutionResult is the outcome of executing one proposal
type ExecutionResult struct {
	Log       ChangeLog         `json:"-"`
	Successes []MoveSuccess     `json:"successes"`
	Failures  []Failure         `json:"failures"`
	FolderIDs map[string]string `json:"folder_ids"`
}

// UndoRecord is a change log plus a one-way reverted flag
type UndoRecord struct {
	ID         string
	ProposalID string
	Log        ChangeLog
	Reverted   bool
	RevertedAt time.Time
}

// UndoResult is the outcome of replaying a change log in reverse
type UndoResult struct {
	RevertedCount int       `json:"reverted_count"`
	SkippedCount  int       `json:"skipped_count"`
	Failures      []Failure `json:"failures"`
}

// ApplyResult is what the organizer reports after applying a proposal
type ApplyResult struct {
	ProposalID string
	UndoLogID  string
	Execution  *ExecutionResult
}

// Preferences shape how a proposal is built
type Preferences struct {
	IgnoreMimeTypes []string `json:"ignore_mime"`
	IgnoreLarge     bool     `json:"ignore_large"`
	MaxFileSizeMB   int      `json:"max_file_size_mb"`
}

// DefaultPreferences returns the preferences used when none are stored
func DefaultPreferences() Preferences {
	return Preferences{
		IgnoreMimeTypes: []string{},
		IgnoreLarge:     false,
		MaxFileSizeMB:   100,
	}
}
