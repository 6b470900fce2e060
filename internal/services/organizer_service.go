package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ajramos/drive-organizer/internal/db"
	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/charmbracelet/log"
)

// Repositories groups the persistence collaborators of the organizer
type Repositories struct {
	Scans       ScanRepository
	Proposals   ProposalRepository
	UndoLogs    UndoRepository
	Preferences PreferencesRepository
}

// NewRepositories builds the repositories on top of one opened store
func NewRepositories(store *db.Store) Repositories {
	return Repositories{
		Scans:       db.NewScanStore(store),
		Proposals:   db.NewProposalStore(store),
		UndoLogs:    db.NewUndoStore(store),
		Preferences: db.NewPreferencesStore(store),
	}
}

// OrganizerServiceImpl implements OrganizerService
type OrganizerServiceImpl struct {
	session     *Session
	repos       Repositories
	oracle      ClassificationOracle
	sampleLimit int
	now         func() time.Time
	logger      *log.Logger
}

// NewOrganizerService creates the organizer for one session.
// The oracle may be nil; Propose then fails with ErrOracleUnavailable.
func NewOrganizerService(session *Session, repos Repositories, oracle ClassificationOracle) *OrganizerServiceImpl {
	logger := discardLogger()
	if session != nil && session.Logger != nil {
		logger = session.Logger.WithPrefix("organizer")
	}
	return &OrganizerServiceImpl{
		session:     session,
		repos:       repos,
		oracle:      oracle,
		sampleLimit: DefaultSampleLimit,
		now:         time.Now,
		logger:      logger,
	}
}

// SetSampleLimit changes how many files are sent to the oracle
func (s *OrganizerServiceImpl) SetSampleLimit(n int) {
	if n > 0 {
		s.sampleLimit = n
	}
}

func (s *OrganizerServiceImpl) userID() string {
	return s.session.UserID
}

// Scan crawls the user's store and persists the result
func (s *OrganizerServiceImpl) Scan(ctx context.Context, opts CrawlOptions) (*db.Scan, *ScanResult, error) {
	if s.repos.Scans == nil {
		return nil, nil, ErrStoreUnavailable
	}
	if opts.RootID == "" || opts.RootID == drive.RootID {
		opts.RootID = s.resolveRootID(ctx)
	}

	scan, err := s.repos.Scans.CreateScan(ctx, s.userID(), opts.RootID)
	if err != nil {
		return nil, nil, fmt.Errorf("create scan: %w", err)
	}
	if err := s.repos.Scans.SetScanStatus(ctx, scan.ID, db.ScanProcessing, ""); err != nil {
		return nil, nil, fmt.Errorf("mark scan processing: %w", err)
	}

	opts.ScanID = scan.ID
	result, err := s.session.Crawler().Crawl(ctx, opts)
	if err != nil {
		if serr := s.repos.Scans.SetScanStatus(context.WithoutCancel(ctx), scan.ID, db.ScanError, err.Error()); serr != nil {
			s.logger.Warn("failed to record scan error", "scan", scan.ID, "err", serr)
		}
		return nil, nil, fmt.Errorf("scan %s: %w", scan.ID, err)
	}

	failures := make([]db.ScanFailure, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, db.ScanFailure{FolderID: f.FolderID, Depth: f.Depth, Status: f.Status, Reason: f.Reason})
	}
	if err := s.repos.Scans.SaveScanResult(ctx, scan.ID, result.Items, failures, result.Truncated); err != nil {
		return nil, result, fmt.Errorf("save scan %s: %w", scan.ID, err)
	}

	saved, err := s.repos.Scans.GetScan(ctx, scan.ID)
	if err != nil {
		return nil, result, err
	}
	s.logger.Info("scan stored", "scan", scan.ID, "items", len(result.Items), "truncated", result.Truncated)
	return saved, result, nil
}

// resolveRootID asks the store for the concrete id behind the "root" alias,
// since that id, not the alias, is what top-level items list as parent.
func (s *OrganizerServiceImpl) resolveRootID(ctx context.Context) string {
	if s.session.Remote == nil {
		return drive.RootID
	}
	id, err := s.session.Remote.RootFolderID(ctx)
	if err != nil || id == "" {
		s.logger.Warn("could not resolve root folder id, keeping alias", "err", err)
		return drive.RootID
	}
	return id
}

// resolveScan returns the named scan, or the newest completed one when id is empty
func (s *OrganizerServiceImpl) resolveScan(ctx context.Context, scanID string) (*db.Scan, error) {
	if s.repos.Scans == nil {
		return nil, ErrStoreUnavailable
	}
	var scan *db.Scan
	var err error
	if scanID == "" {
		scan, err = s.repos.Scans.LatestScan(ctx, s.userID())
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNoScan
		}
	} else {
		scan, err = s.repos.Scans.GetScan(ctx, scanID)
	}
	if err != nil {
		return nil, err
	}
	if scan.UserID != s.userID() {
		return nil, ErrNotFound
	}
	if scan.Status != db.ScanCompleted {
		return nil, fmt.Errorf("%w: scan %s is %s", ErrNoScan, scan.ID, scan.Status)
	}
	return scan, nil
}

// ScanStatus returns a stored scan in any state together with the subtrees
// it could not list. An empty id picks the user's newest scan.
func (s *OrganizerServiceImpl) ScanStatus(ctx context.Context, scanID string) (*db.Scan, []db.ScanFailure, error) {
	if s.repos.Scans == nil {
		return nil, nil, ErrStoreUnavailable
	}
	var scan *db.Scan
	var err error
	if scanID == "" {
		scan, err = s.repos.Scans.NewestScan(ctx, s.userID())
	} else {
		scan, err = s.repos.Scans.GetScan(ctx, scanID)
	}
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: scan %s", ErrRecordNotFound, scanID)
	}
	if err != nil {
		return nil, nil, err
	}
	if scan.UserID != s.userID() {
		return nil, nil, fmt.Errorf("%w: scan %s", ErrRecordNotFound, scanID)
	}
	failures, err := s.repos.Scans.LoadFailures(ctx, scan.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load scan failures: %w", err)
	}
	return scan, failures, nil
}

// Tree rebuilds the tree of a stored scan
func (s *OrganizerServiceImpl) Tree(ctx context.Context, scanID string) (*TreeNode, error) {
	scan, err := s.resolveScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	items, err := s.repos.Scans.LoadItems(ctx, scan.ID)
	if err != nil {
		return nil, fmt.Errorf("load scan items: %w", err)
	}
	tree := s.session.Assembler().AssembleScan(&ScanResult{ScanID: scan.ID, RootID: scan.RootID, Items: items})
	s.logger.Debug("tree assembled", "scan", scan.ID, "items", len(items), "nodes", tree.Count())
	return tree, nil
}

// Propose asks the oracle for a plan over a stored scan and saves it as a draft
func (s *OrganizerServiceImpl) Propose(ctx context.Context, scanID string) (*db.ProposalRecord, *Proposal, error) {
	if s.oracle == nil {
		return nil, nil, ErrOracleUnavailable
	}
	if s.repos.Proposals == nil {
		return nil, nil, ErrStoreUnavailable
	}
	scan, err := s.resolveScan(ctx, scanID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.repos.Scans.LoadItems(ctx, scan.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load scan items: %w", err)
	}
	prefs, err := s.Preferences(ctx)
	if err != nil {
		return nil, nil, err
	}

	result := &ScanResult{Items: items}
	files := FilterItems(result.Files(), prefs)
	if len(files) > s.sampleLimit {
		s.logger.Info("sampling large file list", "files", len(files), "limit", s.sampleLimit)
		files = SampleLargeList(files, s.sampleLimit)
	}

	proposal, err := s.oracle.Propose(ctx, files, result.Folders(), prefs)
	if err != nil {
		return nil, nil, fmt.Errorf("classify scan %s: %w", scan.ID, err)
	}
	payload, err := json.Marshal(proposal)
	if err != nil {
		return nil, nil, fmt.Errorf("encode proposal: %w", err)
	}

	rec := &db.ProposalRecord{UserID: s.userID(), ScanID: scan.ID, Status: db.ProposalDraft, Payload: payload}
	if err := s.repos.Proposals.SaveProposal(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("save proposal: %w", err)
	}
	s.logger.Info("proposal drafted", "proposal", rec.ID, "folders", len(proposal.NewFolders), "assignments", len(proposal.Assignments))
	return rec, proposal, nil
}

// DecodeProposal parses a stored proposal body
func DecodeProposal(rec *db.ProposalRecord) (*Proposal, error) {
	if rec == nil {
		return nil, ErrInvalidInput
	}
	var p Proposal
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode proposal %s: %w", rec.ID, err)
	}
	return &p, nil
}

// Proposal returns a stored proposal and its decoded body
func (s *OrganizerServiceImpl) Proposal(ctx context.Context, proposalID string) (*db.ProposalRecord, *Proposal, error) {
	rec, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	p, err := DecodeProposal(rec)
	if err != nil {
		return nil, nil, err
	}
	return rec, p, nil
}

// ItemNames maps the ids of a scan's items to their names
func (s *OrganizerServiceImpl) ItemNames(ctx context.Context, scanID string) (map[string]string, error) {
	scan, err := s.resolveScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	items, err := s.repos.Scans.LoadItems(ctx, scan.ID)
	if err != nil {
		return nil, fmt.Errorf("load scan items: %w", err)
	}
	names := make(map[string]string, len(items))
	for _, it := range items {
		names[it.ID] = it.Name
	}
	return names, nil
}

func (s *OrganizerServiceImpl) loadProposal(ctx context.Context, proposalID string) (*db.ProposalRecord, error) {
	if s.repos.Proposals == nil {
		return nil, ErrStoreUnavailable
	}
	rec, err := s.repos.Proposals.GetProposal(ctx, proposalID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: proposal %s", ErrRecordNotFound, proposalID)
	}
	if err != nil {
		return nil, err
	}
	if rec.UserID != s.userID() {
		return nil, fmt.Errorf("%w: proposal %s", ErrRecordNotFound, proposalID)
	}
	return rec, nil
}

// Apply executes a draft proposal and stores its change log for undo.
// The log is persisted even when execution stops early on cancellation.
func (s *OrganizerServiceImpl) Apply(ctx context.Context, proposalID string) (*ApplyResult, error) {
	if s.repos.UndoLogs == nil {
		return nil, ErrStoreUnavailable
	}
	rec, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if rec.Status != db.ProposalDraft {
		return nil, fmt.Errorf("%w: proposal %s is %s", ErrInvalidInput, rec.ID, rec.Status)
	}
	proposal, err := DecodeProposal(rec)
	if err != nil {
		return nil, err
	}

	exec, execErr := s.session.Executor().Execute(ctx, proposal)
	if exec == nil {
		return nil, execErr
	}

	out := &ApplyResult{ProposalID: rec.ID, Execution: exec}
	persistCtx := context.WithoutCancel(ctx)

	undoLog := &db.UndoLog{ProposalID: rec.ID, UserID: s.userID()}
	if err := s.repos.UndoLogs.CreateUndoLog(persistCtx, undoLog, toChangeEntries(exec.Log)); err != nil {
		return out, errors.Join(execErr, fmt.Errorf("store change log: %w", err))
	}
	out.UndoLogID = undoLog.ID

	if err := s.repos.Proposals.SetProposalStatus(persistCtx, rec.ID, db.ProposalApplied); err != nil {
		return out, errors.Join(execErr, fmt.Errorf("mark proposal applied: %w", err))
	}
	s.logger.Info("proposal applied", "proposal", rec.ID, "undo_log", undoLog.ID,
		"moved", len(exec.Successes), "failed", len(exec.Failures))
	return out, execErr
}

// Undo reverts a stored change log. The store's status transition keeps
// two processes from reverting the same log.
func (s *OrganizerServiceImpl) Undo(ctx context.Context, undoLogID string) (*UndoResult, error) {
	if s.repos.UndoLogs == nil {
		return nil, ErrStoreUnavailable
	}
	header, entries, err := s.loadUndoLog(ctx, undoLogID)
	if err != nil {
		return nil, err
	}
	if header.Status == db.UndoReverted {
		return nil, ErrAlreadyReverted
	}

	switch err := s.repos.UndoLogs.BeginRevert(ctx, header.ID); {
	case errors.Is(err, db.ErrAlreadyReverted):
		return nil, ErrAlreadyReverted
	case errors.Is(err, db.ErrRevertInProgress):
		return nil, ErrUndoInFlight
	case err != nil:
		return nil, fmt.Errorf("begin revert: %w", err)
	}

	record := &UndoRecord{ID: header.ID, ProposalID: header.ProposalID, Log: fromChangeEntries(entries)}
	result, err := s.session.UndoEngine().Undo(ctx, record)
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		if aerr := s.repos.UndoLogs.AbortRevert(persistCtx, header.ID); aerr != nil {
			s.logger.Warn("failed to release undo log", "undo_log", header.ID, "err", aerr)
		}
		return result, err
	}

	if err := s.repos.UndoLogs.FinishRevert(persistCtx, header.ID, record.RevertedAt); err != nil {
		return result, fmt.Errorf("finish revert: %w", err)
	}
	if s.repos.Proposals != nil && header.ProposalID != "" {
		if err := s.repos.Proposals.SetProposalStatus(persistCtx, header.ProposalID, db.ProposalReverted); err != nil {
			s.logger.Warn("failed to mark proposal reverted", "proposal", header.ProposalID, "err", err)
		}
	}
	return result, nil
}

func (s *OrganizerServiceImpl) loadUndoLog(ctx context.Context, undoLogID string) (*db.UndoLog, []db.ChangeEntry, error) {
	header, entries, err := s.repos.UndoLogs.GetUndoLog(ctx, undoLogID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: undo log %s", ErrRecordNotFound, undoLogID)
	}
	if err != nil {
		return nil, nil, err
	}
	if header.UserID != s.userID() {
		return nil, nil, fmt.Errorf("%w: undo log %s", ErrRecordNotFound, undoLogID)
	}
	return header, entries, nil
}

// ReleaseUndo returns a change log left in reverting by an undo that never
// finished (for example a crashed process) to applied, so it can be
// reverted again. Logs in any other state are left alone.
func (s *OrganizerServiceImpl) ReleaseUndo(ctx context.Context, undoLogID string) error {
	if s.repos.UndoLogs == nil {
		return ErrStoreUnavailable
	}
	header, _, err := s.loadUndoLog(ctx, undoLogID)
	if err != nil {
		return err
	}
	if header.Status != db.UndoReverting {
		return nil
	}
	if s.session.UndoEngine().InFlight(header.ID) {
		return ErrUndoInFlight
	}
	if err := s.repos.UndoLogs.AbortRevert(ctx, header.ID); err != nil {
		return fmt.Errorf("release undo log: %w", err)
	}
	s.logger.Warn("released stale undo log", "undo_log", header.ID)
	return nil
}

// UndoProposal reverts the newest change log of a proposal
func (s *OrganizerServiceImpl) UndoProposal(ctx context.Context, proposalID string) (*UndoResult, error) {
	if s.repos.UndoLogs == nil {
		return nil, ErrStoreUnavailable
	}
	header, err := s.repos.UndoLogs.LatestUndoLogForProposal(ctx, proposalID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: no change log for proposal %s", ErrRecordNotFound, proposalID)
	}
	if err != nil {
		return nil, err
	}
	return s.Undo(ctx, header.ID)
}

// ListProposals returns the user's proposals, newest first
func (s *OrganizerServiceImpl) ListProposals(ctx context.Context, limit int) ([]*db.ProposalRecord, error) {
	if s.repos.Proposals == nil {
		return nil, ErrStoreUnavailable
	}
	return s.repos.Proposals.ListProposals(ctx, s.userID(), limit)
}

// Preferences returns the user's stored preferences or the defaults
func (s *OrganizerServiceImpl) Preferences(ctx context.Context) (Preferences, error) {
	if s.repos.Preferences == nil {
		return DefaultPreferences(), nil
	}
	p, err := s.repos.Preferences.GetPreferences(ctx, s.userID())
	if err != nil {
		return Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	return Preferences{
		IgnoreMimeTypes: p.IgnoreMime,
		IgnoreLarge:     p.IgnoreLarge,
		MaxFileSizeMB:   p.MaxFileSizeMB,
	}, nil
}

// UpdatePreferences stores the user's preferences
func (s *OrganizerServiceImpl) UpdatePreferences(ctx context.Context, prefs Preferences) error {
	if s.repos.Preferences == nil {
		return ErrStoreUnavailable
	}
	if prefs.MaxFileSizeMB < 0 {
		return fmt.Errorf("%w: negative max file size", ErrInvalidInput)
	}
	return s.repos.Preferences.SavePreferences(ctx, s.userID(), &db.Preferences{
		IgnoreMime:    prefs.IgnoreMimeTypes,
		IgnoreLarge:   prefs.IgnoreLarge,
		MaxFileSizeMB: prefs.MaxFileSizeMB,
	})
}

func toChangeEntries(l ChangeLog) []db.ChangeEntry {
	entries := l.Entries()
	out := make([]db.ChangeEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, db.ChangeEntry{
			Type:              string(e.Type),
			ItemID:            e.ItemID,
			FromParentID:      e.FromParentID,
			ToParentID:        e.ToParentID,
			FolderName:        e.FolderName,
			PreviousParentIDs: e.PreviousParentIDs,
		})
	}
	return out
}

func fromChangeEntries(entries []db.ChangeEntry) ChangeLog {
	out := make([]ChangeLogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ChangeLogEntry{
			Type:              ChangeType(e.Type),
			ItemID:            e.ItemID,
			FromParentID:      e.FromParentID,
			ToParentID:        e.ToParentID,
			FolderName:        e.FolderName,
			PreviousParentIDs: e.PreviousParentIDs,
		})
	}
	return NewChangeLog(out...)
}
