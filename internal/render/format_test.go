package render

import (
	"strings"
	"testing"
	"time"

	"github.com/ajramos/drive-organizer/internal/db"
	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/ajramos/drive-organizer/internal/services"
	"github.com/mattn/go-runewidth"
)

func sampleTree() *services.TreeNode {
	folder := func(id, name string, depth int, children ...*services.TreeNode) *services.TreeNode {
		return &services.TreeNode{ItemID: id, Name: name, Kind: drive.KindFolder, Depth: depth, Children: children}
	}
	file := func(id, name string, depth int) *services.TreeNode {
		return &services.TreeNode{ItemID: id, Name: name, Kind: drive.KindFile, Depth: depth, Children: []*services.TreeNode{}}
	}
	return folder("root", "My Drive", 0,
		folder("F1", "Receipts", 1,
			file("I1", "jan.pdf", 2),
			folder("F2", "2024", 2, file("I2", "feb.pdf", 3)),
		),
		file("I3", "notes\u200B.txt", 1),
	)
}

func TestFormatTree(t *testing.T) {
	got := FormatTree(sampleTree(), TreeOptions{})
	want := "My Drive\n" +
		"├── Receipts/\n" +
		"│   ├── jan.pdf\n" +
		"│   └── 2024/\n" +
		"│       └── feb.pdf\n" +
		"└── notes.txt\n"
	if got != want {
		t.Fatalf("unexpected tree:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatTreeDepthAndFolders(t *testing.T) {
	got := FormatTree(sampleTree(), TreeOptions{MaxDepth: 1})
	if !strings.Contains(got, "Receipts/ (3 more)") {
		t.Fatalf("expected collapsed folder marker, got:\n%s", got)
	}
	if strings.Contains(got, "jan.pdf") {
		t.Fatalf("depth limit ignored:\n%s", got)
	}

	got = FormatTree(sampleTree(), TreeOptions{FoldersOnly: true})
	if strings.Contains(got, ".pdf") || strings.Contains(got, "notes") {
		t.Fatalf("files should be hidden:\n%s", got)
	}
	if !strings.Contains(got, "2024/") {
		t.Fatalf("nested folder missing:\n%s", got)
	}
}

func TestFormatTreeTruncatesByDisplayWidth(t *testing.T) {
	root := &services.TreeNode{ItemID: "root", Name: "root", Kind: drive.KindFolder}
	root.Children = []*services.TreeNode{{ItemID: "x", Name: strings.Repeat("日本", 20), Kind: drive.KindFile, Depth: 1}}
	got := FormatTree(root, TreeOptions{Width: 20})
	for _, line := range strings.Split(strings.TrimSuffix(got, "\n"), "\n") {
		if w := runewidth.StringWidth(line); w > 20 {
			t.Fatalf("line %q is %d cells wide", line, w)
		}
	}
	if FormatTree(nil, TreeOptions{}) != "" {
		t.Fatalf("nil tree should render empty")
	}
}

func TestCountNodes(t *testing.T) {
	files, folders := CountNodes(sampleTree())
	if files != 3 || folders != 2 {
		t.Fatalf("got %d files %d folders", files, folders)
	}
}

func TestSanitizeForTerminal(t *testing.T) {
	in := "a\u00A0b\u200Bc \u2014 \u201Cq\u201D\u2026\x07\nz"
	if got := sanitizeForTerminal(in); got != "a bc - \"q\"... z" {
		t.Fatalf("got %q", got)
	}
}

func TestWidthHelpers(t *testing.T) {
	if got := fitWidth("abc", 5); got != "abc  " {
		t.Fatalf("fitWidth pad: %q", got)
	}
	if got := fitWidth("abcdefgh", 6); got != "abc..." {
		t.Fatalf("fitWidth truncate: %q", got)
	}
	if got := rightFit("42", 5); got != "   42" {
		t.Fatalf("rightFit pad: %q", got)
	}
	if got := rightFit("123456", 4); runewidth.StringWidth(got) != 4 {
		t.Fatalf("rightFit truncate: %q", got)
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[int64]string{0: "0 B", 1023: "1023 B", 1024: "1.0 KiB", 5 << 20: "5.0 MiB"}
	for in, want := range cases {
		if got := HumanSize(in); got != want {
			t.Fatalf("HumanSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatReports(t *testing.T) {
	p := &services.Proposal{
		NewFolders:  []services.NewFolder{{Name: "Receipts", Description: "bills"}, {Name: "2024", ParentName: "Receipts"}},
		Assignments: []services.Assignment{{ItemID: "I1", TargetFolderName: "Receipts"}, {ItemID: "I9", TargetFolderID: "F7"}},
		Orphans:     []string{"I3"},
		Reasoning:   "by purpose",
	}
	out := FormatProposal("p1", p, map[string]string{"I1": "jan.pdf", "I3": "notes.txt"})
	for _, want := range []string{"[PROPOSAL] p1", "by purpose", "Receipts - bills", "Receipts/2024", "jan.pdf -> Receipts", "I9 -> F7", "[UNASSIGNED]\nnotes.txt"} {
		if !strings.Contains(out, want) {
			t.Fatalf("proposal output missing %q:\n%s", want, out)
		}
	}

	apply := FormatApply(&services.ApplyResult{
		ProposalID: "p1",
		UndoLogID:  "u1",
		Execution: &services.ExecutionResult{
			Successes: []services.MoveSuccess{{ItemID: "I1", FolderID: "F1"}, {ItemID: "I2", FolderID: "F1", AlreadyThere: true}},
			Failures:  []services.Failure{{Op: "move_item", ItemID: "I9", Reason: "target not found"}},
			FolderIDs: map[string]string{"Receipts": "F1"},
		},
	})
	for _, want := range []string{"Moved: 1", "Already in place: 1", "[FAILURES] 1", "move_item I9: target not found", "undo u1"} {
		if !strings.Contains(apply, want) {
			t.Fatalf("apply output missing %q:\n%s", want, apply)
		}
	}

	undo := FormatUndo(&services.UndoResult{RevertedCount: 2})
	if undo != "Reverted: 2\n" {
		t.Fatalf("undo output: %q", undo)
	}
}

func TestFormatScan(t *testing.T) {
	size := int64(2048)
	res := &services.ScanResult{
		Items: []drive.Item{
			{ID: "F1", Kind: drive.KindFolder},
			{ID: "I1", Kind: drive.KindFile, Size: &size},
		},
		Truncated: true,
		Failures:  []services.ScanFailure{{FolderID: "F9", Depth: 2, Reason: "forbidden"}},
	}
	out := FormatScan(&db.Scan{ID: "s1", RootID: "root", Status: db.ScanCompleted}, res)
	for _, want := range []string{"[SCAN] s1", "Files: 1 (2.0 KiB)", "Folders: 1", "Truncated", "F9 (depth 2): forbidden"} {
		if !strings.Contains(out, want) {
			t.Fatalf("scan output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatScanStatus(t *testing.T) {
	failed := &db.Scan{ID: "s2", RootID: "0AROOT", Status: db.ScanError, Message: "list root folder 0AROOT: 401 Invalid Credentials"}
	out := FormatScanStatus(failed, nil)
	for _, want := range []string{"[SCAN] s2", "Status: error", "Error: list root folder 0AROOT: 401"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Items:") {
		t.Fatalf("failed scan should not report items:\n%s", out)
	}

	done := &db.Scan{ID: "s1", RootID: "0AROOT", Status: db.ScanCompleted, ItemCount: 42, Truncated: true, CreatedAt: time.Now()}
	out = FormatScanStatus(done, []db.ScanFailure{{FolderID: "F9", Depth: 3, Status: 404, Reason: "not found"}})
	for _, want := range []string{"Items: 42", "Truncated", "Started:", "[UNREADABLE FOLDERS]", "F9 (depth 3): not found"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatProposalList(t *testing.T) {
	if FormatProposalList(nil, 80) != "No proposals\n" {
		t.Fatalf("empty list")
	}
	out := FormatProposalList([]*db.ProposalRecord{
		{ID: "11111111-2222-3333-4444-555555555555", Status: db.ProposalDraft, ScanID: "scan-1", CreatedAt: time.Now()},
	}, 100)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", out)
	}
	if !strings.HasPrefix(lines[1], "11111111-2222-3333-4444-555555555555  draft") {
		t.Fatalf("row layout: %q", lines[1])
	}
	if !strings.HasSuffix(lines[1], "scan-1") {
		t.Fatalf("row should end with scan id: %q", lines[1])
	}
}
