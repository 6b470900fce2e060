package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/charmbracelet/log"
)

// Failure reasons reported by the executor
const (
	ReasonTargetNotFound = "target not found"
	ReasonParentNotFound = "parent folder not found"
	ReasonMissingItemID  = "missing item id"
	ReasonEmptyName      = "empty folder name"
)

// ExecutorServiceImpl implements Executor
type ExecutorServiceImpl struct {
	remote RemoteStore
	logger *log.Logger
}

// NewExecutorService creates a new proposal executor
func NewExecutorService(remote RemoteStore) *ExecutorServiceImpl {
	return &ExecutorServiceImpl{
		remote: remote,
		logger: discardLogger(),
	}
}

// SetLogger sets the logger for batch progress
func (s *ExecutorServiceImpl) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Execute resolves or creates the proposal's folders, then moves every
// assigned item in input order. One failed item never stops the batch.
// On cancellation the partial result is returned along with ctx.Err(),
// so whatever was applied can still be undone.
func (s *ExecutorServiceImpl) Execute(ctx context.Context, proposal *Proposal) (*ExecutionResult, error) {
	if proposal == nil {
		return nil, fmt.Errorf("%w: nil proposal", ErrInvalidInput)
	}
	if s.remote == nil {
		return nil, ErrStoreUnavailable
	}

	result := &ExecutionResult{
		Successes: []MoveSuccess{},
		Failures:  []Failure{},
		FolderIDs: make(map[string]string, len(proposal.NewFolders)),
	}

	for _, nf := range proposal.NewFolders {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		s.resolveFolder(ctx, nf, result)
	}

	merged := mergeTargets(proposal.Merges)

	for _, as := range proposal.Assignments {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		s.moveOne(ctx, as, merged, result)
	}

	s.logger.Info("proposal executed",
		"folders", len(result.FolderIDs), "moved", len(result.Successes),
		"failed", len(result.Failures), "log_entries", result.Log.Len())
	return result, nil
}

func (s *ExecutorServiceImpl) resolveFolder(ctx context.Context, nf NewFolder, result *ExecutionResult) {
	name := strings.TrimSpace(nf.Name)
	if name == "" {
		result.Failures = append(result.Failures, Failure{Op: string(ChangeCreateFolder), Reason: ReasonEmptyName, Err: ErrInvalidInput})
		return
	}
	if _, done := result.FolderIDs[name]; done {
		return
	}

	parentID := nf.ParentID
	if parentID == "" && nf.ParentName != "" {
		id, ok := result.FolderIDs[strings.TrimSpace(nf.ParentName)]
		if !ok {
			result.Failures = append(result.Failures, Failure{
				Op: string(ChangeCreateFolder), FolderName: name, Reason: ReasonParentNotFound, Err: ErrTargetNotFound,
			})
			return
		}
		parentID = id
	}

	existing, found, err := s.remote.FindFolderByName(ctx, name, parentID)
	if err != nil {
		s.logger.Warn("folder lookup failed", "folder", name, "err", err)
		result.Failures = append(result.Failures, Failure{Op: string(ChangeCreateFolder), FolderName: name, Reason: err.Error(), Err: err})
		return
	}
	if found {
		result.FolderIDs[name] = existing
		return
	}

	created, err := s.remote.CreateFolder(ctx, name, parentID)
	if err != nil {
		s.logger.Warn("folder creation failed", "folder", name, "err", err)
		result.Failures = append(result.Failures, Failure{Op: string(ChangeCreateFolder), FolderName: name, Reason: err.Error(), Err: err})
		return
	}
	result.FolderIDs[name] = created

	to := parentID
	if to == "" {
		to = drive.RootID
	}
	result.Log.Append(ChangeLogEntry{
		Type:       ChangeCreateFolder,
		ItemID:     created,
		ToParentID: to,
		FolderName: name,
	})
}

func (s *ExecutorServiceImpl) moveOne(ctx context.Context, as Assignment, merged map[string]string, result *ExecutionResult) {
	fail := func(reason string, err error) {
		result.Failures = append(result.Failures, Failure{
			Op: string(ChangeMoveItem), ItemID: as.ItemID, FolderName: as.TargetFolderName, Reason: reason, Err: err,
		})
	}

	if strings.TrimSpace(as.ItemID) == "" {
		fail(ReasonMissingItemID, ErrInvalidInput)
		return
	}
	target, ok := resolveTarget(as, result.FolderIDs, merged)
	if !ok {
		fail(ReasonTargetNotFound, ErrTargetNotFound)
		return
	}

	parents, err := s.remote.GetParents(ctx, as.ItemID)
	if err != nil {
		s.logger.Warn("reading parents failed", "item", as.ItemID, "err", err)
		fail(err.Error(), err)
		return
	}
	if len(parents) == 1 && parents[0] == target {
		result.Successes = append(result.Successes, MoveSuccess{ItemID: as.ItemID, FolderID: target, AlreadyThere: true})
		return
	}

	if _, err := s.remote.MoveItem(ctx, as.ItemID, target, parents); err != nil {
		s.logger.Warn("move failed", "item", as.ItemID, "target", target, "err", err)
		fail(err.Error(), err)
		return
	}

	result.Log.Append(ChangeLogEntry{
		Type:              ChangeMoveItem,
		ItemID:            as.ItemID,
		FromParentID:      firstOtherParent(parents, target),
		ToParentID:        target,
		PreviousParentIDs: append([]string(nil), parents...),
	})
	result.Successes = append(result.Successes, MoveSuccess{ItemID: as.ItemID, FolderID: target})
}

// resolveTarget maps an assignment to a concrete folder id. Merges apply
// to explicit ids and to ids resolved from new folder names.
func resolveTarget(as Assignment, folderIDs, merged map[string]string) (string, bool) {
	var id string
	switch {
	case as.TargetFolderID != "":
		id = as.TargetFolderID
	case as.TargetFolderName != "":
		found, ok := folderIDs[strings.TrimSpace(as.TargetFolderName)]
		if !ok {
			return "", false
		}
		id = found
	default:
		return "", false
	}
	if canonical, ok := merged[id]; ok {
		id = canonical
	}
	return id, true
}

func mergeTargets(merges []Merge) map[string]string {
	out := make(map[string]string)
	for _, m := range merges {
		if m.CanonicalFolderID == "" {
			continue
		}
		for _, src := range m.SourceFolderIDs {
			if src == "" || src == m.CanonicalFolderID {
				continue
			}
			out[src] = m.CanonicalFolderID
		}
	}
	return out
}

func firstOtherParent(parents []string, target string) string {
	for _, p := range parents {
		if p != "" && p != target {
			return p
		}
	}
	return ""
}
