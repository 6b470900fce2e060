package services

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultParentID is where an item goes back to when its prior parent is unknown
const DefaultParentID = drive.RootID

// UndoServiceImpl implements UndoService
type UndoServiceImpl struct {
	remote   RemoteStore
	inFlight map[string]bool
	mu       sync.Mutex
	now      func() time.Time
	logger   *log.Logger // Optional - for debug logging
}

// NewUndoService creates a new undo service
func NewUndoService(remote RemoteStore) *UndoServiceImpl {
	return &UndoServiceImpl{
		remote:   remote,
		inFlight: make(map[string]bool),
		now:      time.Now,
		logger:   discardLogger(),
	}
}

// SetLogger sets the logger for debug output
func (s *UndoServiceImpl) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// InFlight reports whether an undo of recordID is running
func (s *UndoServiceImpl) InFlight(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[recordID]
}

// Undo replays the record's change log newest entry first. Item moves are
// reversed; created folders are left in place. Per-entry failures are
// collected and the replay continues. The record is marked reverted once
// the replay completes.
func (s *UndoServiceImpl) Undo(ctx context.Context, record *UndoRecord) (*UndoResult, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: nil undo record", ErrInvalidInput)
	}
	if s.remote == nil {
		return nil, ErrStoreUnavailable
	}

	s.mu.Lock()
	if record.Reverted {
		s.mu.Unlock()
		return nil, ErrAlreadyReverted
	}
	// Generate unique ID if not provided
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if s.inFlight[record.ID] {
		s.mu.Unlock()
		return nil, ErrUndoInFlight
	}
	s.inFlight[record.ID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, record.ID)
		s.mu.Unlock()
	}()

	result := &UndoResult{Failures: []Failure{}}
	entries := record.Log.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		entry := entries[i]
		switch entry.Type {
		case ChangeCreateFolder:
			result.SkippedCount++
		case ChangeMoveItem:
			if err := s.undoMove(ctx, entry); err != nil {
				s.logger.Warn("undo move failed", "item", entry.ItemID, "err", err)
				result.Failures = append(result.Failures, Failure{
					Op: "undo_" + string(ChangeMoveItem), ItemID: entry.ItemID, Reason: err.Error(), Err: err,
				})
				continue
			}
			result.RevertedCount++
		default:
			result.Failures = append(result.Failures, Failure{
				Op: "undo", ItemID: entry.ItemID, Reason: fmt.Sprintf("unknown change type: %s", entry.Type),
			})
		}
	}

	s.mu.Lock()
	record.Reverted = true
	record.RevertedAt = s.now()
	s.mu.Unlock()

	s.logger.Info(s.formatUndoDescription(result), "record", record.ID)
	return result, nil
}

func (s *UndoServiceImpl) undoMove(ctx context.Context, entry ChangeLogEntry) error {
	back := entry.FromParentID
	if back == "" {
		back = DefaultParentID
	}
	// a target that was already one of the item's parents stays a parent
	var remove []string
	if entry.ToParentID != "" && entry.ToParentID != back && !slices.Contains(entry.PreviousParentIDs, entry.ToParentID) {
		remove = []string{entry.ToParentID}
	}
	_, err := s.remote.MoveItem(ctx, entry.ItemID, back, remove)
	return err
}

// formatUndoDescription creates a human-readable description for undo result
func (s *UndoServiceImpl) formatUndoDescription(result *UndoResult) string {
	switch {
	case result.RevertedCount == 1 && len(result.Failures) == 0:
		return "Restored 1 item"
	case len(result.Failures) == 0:
		return fmt.Sprintf("Restored %d items", result.RevertedCount)
	default:
		return fmt.Sprintf("Restored %d items, %d failed", result.RevertedCount, len(result.Failures))
	}
}
