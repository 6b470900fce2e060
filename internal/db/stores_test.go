package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	scans := NewScanStore(openTestStore(t))

	scan, err := scans.CreateScan(ctx, "user-1", "root")
	require.NoError(t, err)
	assert.NotEmpty(t, scan.ID)
	assert.Equal(t, ScanPending, scan.Status)

	require.NoError(t, scans.SetScanStatus(ctx, scan.ID, ScanProcessing, ""))

	size := int64(10)
	items := []drive.Item{
		{ID: "F1", Name: "Receipts", Kind: drive.KindFolder, ParentIDs: []string{"root"}, MimeType: drive.FolderMimeType},
		{ID: "X", Name: "a.pdf", Kind: drive.KindFile, ParentIDs: []string{"root"}, Size: &size},
		{ID: "Y", Name: "b.pdf", Kind: drive.KindFile, ParentIDs: []string{"F1", "root"}},
	}
	failures := []ScanFailure{{FolderID: "F9", Depth: 2, Status: 404, Reason: "not found"}}
	require.NoError(t, scans.SaveScanResult(ctx, scan.ID, items, failures, true))

	got, err := scans.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, ScanCompleted, got.Status)
	assert.True(t, got.Truncated)
	assert.Equal(t, 3, got.ItemCount)

	loaded, err := scans.LoadItems(ctx, scan.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, []string{"F1", "X", "Y"}, []string{loaded[0].ID, loaded[1].ID, loaded[2].ID})
	assert.Equal(t, []string{"F1", "root"}, loaded[2].ParentIDs)
	require.NotNil(t, loaded[1].Size)
	assert.Equal(t, int64(10), *loaded[1].Size)

	loadedFailures, err := scans.LoadFailures(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, failures, loadedFailures)

	latest, err := scans.LatestScan(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, scan.ID, latest.ID)
}

func TestScanStore_ErrorStatusAndNotFound(t *testing.T) {
	ctx := context.Background()
	scans := NewScanStore(openTestStore(t))

	_, err := scans.GetScan(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, scans.SetScanStatus(ctx, "missing", ScanError, "boom"), ErrNotFound)

	scan, err := scans.CreateScan(ctx, "user-1", "root")
	require.NoError(t, err)
	require.NoError(t, scans.SetScanStatus(ctx, scan.ID, ScanError, "list root: 401"))

	got, err := scans.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, ScanError, got.Status)
	assert.Equal(t, "list root: 401", got.Message)

	_, err = scans.LatestScan(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound, "failed scans are not the latest completed scan")

	newest, err := scans.NewestScan(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, scan.ID, newest.ID)

	_, err = scans.NewestScan(ctx, "user-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanStore_CreateScan_Validation(t *testing.T) {
	scans := NewScanStore(openTestStore(t))
	_, err := scans.CreateScan(context.Background(), "  ", "root")
	assert.Error(t, err)
}

func TestProposalStore_SaveListStatus(t *testing.T) {
	ctx := context.Background()
	proposals := NewProposalStore(openTestStore(t))

	first := &ProposalRecord{UserID: "u1", ScanID: "s1", Payload: []byte(`{"new_folders":[]}`), CreatedAt: time.Unix(100, 0)}
	second := &ProposalRecord{UserID: "u1", ScanID: "s1", Payload: []byte(`{"reasoning":"x"}`), CreatedAt: time.Unix(200, 0)}
	other := &ProposalRecord{UserID: "u2", ScanID: "s2", Payload: []byte(`{}`)}
	require.NoError(t, proposals.SaveProposal(ctx, first))
	require.NoError(t, proposals.SaveProposal(ctx, second))
	require.NoError(t, proposals.SaveProposal(ctx, other))
	assert.Equal(t, ProposalDraft, first.Status)

	list, err := proposals.ListProposals(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	assert.Equal(t, first.ID, list[1].ID)

	require.NoError(t, proposals.SetProposalStatus(ctx, first.ID, ProposalApplied))
	got, err := proposals.GetProposal(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, ProposalApplied, got.Status)
	assert.JSONEq(t, `{"new_folders":[]}`, string(got.Payload))

	_, err = proposals.GetProposal(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, proposals.SaveProposal(ctx, &ProposalRecord{UserID: "u1"}))
}

func TestUndoStore_EntriesKeepOrder(t *testing.T) {
	ctx := context.Background()
	undo := NewUndoStore(openTestStore(t))

	log := &UndoLog{ProposalID: "p1", UserID: "u1"}
	entries := []ChangeEntry{
		{Type: "create_folder", ItemID: "NEW", ToParentID: "root", FolderName: "Invoices"},
		{Type: "move_item", ItemID: "X", FromParentID: "root", ToParentID: "NEW", PreviousParentIDs: []string{"root"}},
		{Type: "move_item", ItemID: "Y", FromParentID: "root", ToParentID: "F1"},
	}
	require.NoError(t, undo.CreateUndoLog(ctx, log, entries))
	assert.Equal(t, UndoApplied, log.Status)

	gotLog, gotEntries, err := undo.GetUndoLog(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", gotLog.ProposalID)
	assert.Nil(t, gotLog.RevertedAt)
	require.Len(t, gotEntries, 3)
	for i, e := range gotEntries {
		assert.Equal(t, i, e.Seq)
		assert.Equal(t, entries[i].ItemID, e.ItemID)
	}
	assert.Equal(t, []string{"root"}, gotEntries[1].PreviousParentIDs)
	assert.Equal(t, []string{}, gotEntries[2].PreviousParentIDs)

	latest, err := undo.LatestUndoLogForProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, log.ID, latest.ID)

	_, _, err = undo.GetUndoLog(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUndoStore_RevertCompareAndSet(t *testing.T) {
	ctx := context.Background()
	undo := NewUndoStore(openTestStore(t))

	log := &UndoLog{ProposalID: "p1", UserID: "u1"}
	require.NoError(t, undo.CreateUndoLog(ctx, log, nil))

	require.NoError(t, undo.BeginRevert(ctx, log.ID))
	assert.ErrorIs(t, undo.BeginRevert(ctx, log.ID), ErrRevertInProgress)

	require.NoError(t, undo.AbortRevert(ctx, log.ID))
	require.NoError(t, undo.BeginRevert(ctx, log.ID))

	at := time.Unix(1700000000, 0)
	require.NoError(t, undo.FinishRevert(ctx, log.ID, at))
	assert.ErrorIs(t, undo.BeginRevert(ctx, log.ID), ErrAlreadyReverted)
	assert.ErrorIs(t, undo.FinishRevert(ctx, log.ID, at), ErrAlreadyReverted)

	got, _, err := undo.GetUndoLog(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, UndoReverted, got.Status)
	require.NotNil(t, got.RevertedAt)
	assert.Equal(t, at.Unix(), got.RevertedAt.Unix())

	assert.ErrorIs(t, undo.BeginRevert(ctx, "missing"), ErrNotFound)
}

func TestUndoStore_ConcurrentBeginRevert(t *testing.T) {
	ctx := context.Background()
	undo := NewUndoStore(openTestStore(t))

	log := &UndoLog{ProposalID: "p1", UserID: "u1"}
	require.NoError(t, undo.CreateUndoLog(ctx, log, nil))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := undo.BeginRevert(ctx, log.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestPreferencesStore_DefaultsAndUpsert(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferencesStore(openTestStore(t))

	got, err := prefs.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{}, got.IgnoreMime)
	assert.False(t, got.IgnoreLarge)
	assert.Equal(t, 100, got.MaxFileSizeMB)

	require.NoError(t, prefs.SavePreferences(ctx, "u1", &Preferences{
		IgnoreMime: []string{"image/png"}, IgnoreLarge: true, MaxFileSizeMB: 5,
	}))
	require.NoError(t, prefs.SavePreferences(ctx, "u1", &Preferences{
		IgnoreMime: []string{"video/mp4"}, IgnoreLarge: true, MaxFileSizeMB: 0,
	}))

	got, err = prefs.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"video/mp4"}, got.IgnoreMime)
	assert.True(t, got.IgnoreLarge)
	assert.Equal(t, 100, got.MaxFileSizeMB, "non-positive sizes fall back to the default")

	other, err := prefs.GetPreferences(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, other.IgnoreLarge)
}
