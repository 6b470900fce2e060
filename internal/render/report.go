package render

import (
	"fmt"
	"strings"

	"github.com/ajramos/drive-organizer/internal/db"
	"github.com/ajramos/drive-organizer/internal/services"
)

// FormatScan summarizes a scan. Without a crawl result only the stored
// counters are shown.
func FormatScan(scan *db.Scan, result *services.ScanResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[SCAN] %s\n", scan.ID)
	fmt.Fprintf(&b, "Root: %s\nStatus: %s\n", scan.RootID, scan.Status)
	if msg := strings.TrimSpace(scan.Message); msg != "" {
		fmt.Fprintf(&b, "Error: %s\n", sanitizeForTerminal(msg))
	}
	if result == nil {
		if !scan.CreatedAt.IsZero() {
			fmt.Fprintf(&b, "Started: %s\n", scan.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		if scan.Status == db.ScanCompleted {
			fmt.Fprintf(&b, "Items: %d\n", scan.ItemCount)
		}
		if scan.Truncated {
			b.WriteString("Truncated: item limit reached\n")
		}
	} else {
		var total int64
		files := result.Files()
		for _, f := range files {
			if f.Size != nil {
				total += *f.Size
			}
		}
		fmt.Fprintf(&b, "Files: %d (%s)\nFolders: %d\n", len(files), HumanSize(total), len(result.Folders()))
		if result.Truncated {
			b.WriteString("Truncated: item limit reached\n")
		}
		if len(result.Failures) > 0 {
			b.WriteString("\n[UNREADABLE FOLDERS]\n")
			for _, f := range result.Failures {
				fmt.Fprintf(&b, "%s (depth %d): %s\n", f.FolderID, f.Depth, sanitizeForTerminal(f.Reason))
			}
		}
	}
	return b.String()
}

// FormatScanStatus shows a stored scan in any state and the folders it could not list
func FormatScanStatus(scan *db.Scan, failures []db.ScanFailure) string {
	var b strings.Builder
	b.WriteString(FormatScan(scan, nil))
	if len(failures) > 0 {
		b.WriteString("\n[UNREADABLE FOLDERS]\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "%s (depth %d): %s\n", f.FolderID, f.Depth, sanitizeForTerminal(f.Reason))
		}
	}
	return b.String()
}

// FormatProposal lists the folders a proposal creates and where each file goes.
// names maps item ids to display names; unknown ids are printed as-is.
func FormatProposal(id string, p *services.Proposal, names map[string]string) string {
	lookup := func(itemID string) string {
		if n, ok := names[itemID]; ok && n != "" {
			return sanitizeForTerminal(n)
		}
		return itemID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[PROPOSAL] %s\n", id)
	if r := strings.TrimSpace(p.Reasoning); r != "" {
		fmt.Fprintf(&b, "%s\n", sanitizeForTerminal(r))
	}

	b.WriteString("\n[FOLDERS]\n")
	if len(p.NewFolders) == 0 {
		b.WriteString("None\n")
	}
	for _, f := range p.NewFolders {
		path := f.Name
		if f.ParentName != "" {
			path = f.ParentName + "/" + f.Name
		}
		line := sanitizeForTerminal(path)
		if f.Description != "" {
			line += " - " + sanitizeForTerminal(f.Description)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n[MOVES]\n")
	if len(p.Assignments) == 0 {
		b.WriteString("None\n")
	}
	for _, a := range p.Assignments {
		target := a.TargetFolderName
		if target == "" {
			target = a.TargetFolderID
		}
		fmt.Fprintf(&b, "%s -> %s\n", lookup(a.ItemID), sanitizeForTerminal(target))
	}

	if len(p.Merges) > 0 {
		b.WriteString("\n[MERGES]\n")
		for _, m := range p.Merges {
			fmt.Fprintf(&b, "%s -> %s\n", strings.Join(m.SourceFolderIDs, ", "), m.CanonicalFolderID)
		}
	}
	if len(p.Orphans) > 0 {
		b.WriteString("\n[UNASSIGNED]\n")
		for _, o := range p.Orphans {
			b.WriteString(lookup(o) + "\n")
		}
	}
	return b.String()
}

// FormatApply reports the outcome of applying a proposal
func FormatApply(res *services.ApplyResult) string {
	var b strings.Builder
	exec := res.Execution
	moved, already := 0, 0
	for _, s := range exec.Successes {
		if s.AlreadyThere {
			already++
		} else {
			moved++
		}
	}
	fmt.Fprintf(&b, "Applied proposal %s\n", res.ProposalID)
	fmt.Fprintf(&b, "Folders ready: %d\nMoved: %d\n", len(exec.FolderIDs), moved)
	if already > 0 {
		fmt.Fprintf(&b, "Already in place: %d\n", already)
	}
	writeFailures(&b, exec.Failures)
	if res.UndoLogID != "" {
		fmt.Fprintf(&b, "\nUndo with: undo %s\n", res.UndoLogID)
	}
	return b.String()
}

// FormatUndo reports the outcome of an undo
func FormatUndo(res *services.UndoResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reverted: %d\n", res.RevertedCount)
	if res.SkippedCount > 0 {
		fmt.Fprintf(&b, "Skipped: %d\n", res.SkippedCount)
	}
	writeFailures(&b, res.Failures)
	return b.String()
}

func writeFailures(b *strings.Builder, failures []services.Failure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(b, "\n[FAILURES] %d\n", len(failures))
	for _, f := range failures {
		b.WriteString(sanitizeForTerminal(f.Error()) + "\n")
	}
}

// FormatProposalList renders proposals as fixed-width rows
func FormatProposalList(records []*db.ProposalRecord, width int) string {
	if len(records) == 0 {
		return "No proposals\n"
	}
	if width < 60 {
		width = 60
	}
	const (
		idWidth     = 36
		statusWidth = 9
		dateWidth   = 16
	)
	scanWidth := width - idWidth - statusWidth - dateWidth - 6

	var b strings.Builder
	b.WriteString(fitWidth("ID", idWidth) + "  " + fitWidth("STATUS", statusWidth) + "  " +
		fitWidth("CREATED", dateWidth) + "  " + "SCAN\n")
	for _, r := range records {
		b.WriteString(fitWidth(r.ID, idWidth) + "  ")
		b.WriteString(fitWidth(r.Status, statusWidth) + "  ")
		b.WriteString(rightFit(r.CreatedAt.Local().Format("2006-01-02 15:04"), dateWidth) + "  ")
		b.WriteString(strings.TrimRight(fitWidth(r.ScanID, scanWidth), " ") + "\n")
	}
	return b.String()
}

// FormatPreferences prints stored preferences one per line
func FormatPreferences(p services.Preferences) string {
	mimes := "none"
	if len(p.IgnoreMimeTypes) > 0 {
		mimes = strings.Join(p.IgnoreMimeTypes, ", ")
	}
	return fmt.Sprintf("ignore_mime: %s\nignore_large: %t\nmax_file_size_mb: %d\n", mimes, p.IgnoreLarge, p.MaxFileSizeMB)
}
