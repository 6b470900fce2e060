package render

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/ajramos/drive-organizer/internal/services"
	"github.com/mattn/go-runewidth"
)

// TreeOptions controls terminal tree rendering
type TreeOptions struct {
	// MaxDepth limits how deep the tree is printed; 0 prints everything
	MaxDepth int
	// Width truncates each line by display width; 0 disables truncation
	Width       int
	FoldersOnly bool
}

// FormatTree draws a tree with box-drawing connectors, one node per line.
// The root line is the root's name; children follow in stored order.
func FormatTree(root *services.TreeNode, opts TreeOptions) string {
	if root == nil {
		return ""
	}
	var b strings.Builder
	writeLine(&b, sanitizeForTerminal(displayName(root)), opts.Width)

	var walk func(n *services.TreeNode, prefix string)
	walk = func(n *services.TreeNode, prefix string) {
		children := visibleChildren(n, opts.FoldersOnly)
		for i, c := range children {
			last := i == len(children)-1
			connector, next := "├── ", "│   "
			if last {
				connector, next = "└── ", "    "
			}
			label := sanitizeForTerminal(displayName(c))
			if c.Kind == drive.KindFolder {
				label += "/"
				if opts.MaxDepth > 0 && c.Depth >= opts.MaxDepth && len(c.Children) > 0 {
					label += fmt.Sprintf(" (%d more)", countDescendants(c))
				}
			}
			writeLine(&b, prefix+connector+label, opts.Width)
			if opts.MaxDepth > 0 && c.Depth >= opts.MaxDepth {
				continue
			}
			walk(c, prefix+next)
		}
	}
	walk(root, "")
	return b.String()
}

func visibleChildren(n *services.TreeNode, foldersOnly bool) []*services.TreeNode {
	if !foldersOnly {
		return n.Children
	}
	out := make([]*services.TreeNode, 0, len(n.Children))
	for _, c := range n.Children {
		if c.Kind == drive.KindFolder {
			out = append(out, c)
		}
	}
	return out
}

func displayName(n *services.TreeNode) string {
	if strings.TrimSpace(n.Name) != "" {
		return n.Name
	}
	return n.ItemID
}

func countDescendants(n *services.TreeNode) int {
	total := 0
	for _, c := range n.Children {
		total += 1 + countDescendants(c)
	}
	return total
}

// CountNodes returns the number of files and folders below root
func CountNodes(root *services.TreeNode) (files, folders int) {
	if root == nil {
		return 0, 0
	}
	for _, c := range root.Children {
		if c.Kind == drive.KindFolder {
			folders++
		} else {
			files++
		}
		f, d := CountNodes(c)
		files += f
		folders += d
	}
	return files, folders
}

func writeLine(b *strings.Builder, line string, width int) {
	if width > 0 {
		line = runewidth.Truncate(line, width, "...")
	}
	b.WriteString(line)
	b.WriteByte('\n')
}

// sanitizeForTerminal replaces glyphs that render badly in terminals and
// drops control characters, so remote names cannot break the layout.
func sanitizeForTerminal(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u00A0', '\u202F':
			b.WriteRune(' ')
		case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u034F', '\u2060', '\u00AD':
			// zero-width, drop
		case '\u2000', '\u2001', '\u2002', '\u2003', '\u2004', '\u2005', '\u2006', '\u2007', '\u2008', '\u2009', '\u200A':
			b.WriteRune(' ')
		case '\u2013', '\u2014':
			b.WriteRune('-')
		case '\u2018', '\u2019':
			b.WriteRune('\'')
		case '\u201C', '\u201D':
			b.WriteRune('"')
		case '\u2026':
			b.WriteString("...")
		case '\n', '\r', '\t':
			b.WriteRune(' ')
		default:
			if unicode.IsControl(r) {
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fitWidth truncates and pads on the right to fit a fixed width
func fitWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = runewidth.Truncate(s, width, "...")
	pad := width - runewidth.StringWidth(s)
	if pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}

// rightFit truncates and right-aligns to width
func rightFit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if over := runewidth.StringWidth(s) - width; over > 0 {
		s = runewidth.TruncateLeft(s, over, "")
	}
	pad := width - runewidth.StringWidth(s)
	if pad > 0 {
		s = strings.Repeat(" ", pad) + s
	}
	return s
}

// HumanSize formats a byte count with binary units
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
