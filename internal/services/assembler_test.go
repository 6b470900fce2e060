package services

import (
	"testing"

	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func folder(id, name string, parents ...string) drive.Item {
	return drive.Item{ID: id, Name: name, Kind: drive.KindFolder, MimeType: drive.FolderMimeType, ParentIDs: parents}
}

func file(id, name string, parents ...string) drive.Item {
	return drive.Item{ID: id, Name: name, Kind: drive.KindFile, ParentIDs: parents}
}

func childIDs(n *TreeNode) []string {
	out := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, c.ItemID)
	}
	return out
}

func TestAssemble_BasicTree(t *testing.T) {
	items := []drive.Item{
		folder("F1", "Receipts", "root"),
		file("X", "a.pdf", "root"),
		file("Y", "b.pdf", "F1"),
		folder("F2", "2024", "F1"),
		file("Z", "c.pdf", "F2"),
	}
	root := NewTreeAssembler().Assemble(items, AssembleOptions{})

	assert.Equal(t, "My Drive", root.Name)
	assert.Equal(t, 0, root.Depth)
	assert.Equal(t, []string{"F1", "X"}, childIDs(root))

	f1 := root.Find("F1")
	require.NotNil(t, f1)
	assert.Equal(t, 1, f1.Depth)
	assert.Equal(t, []string{"Y", "F2"}, childIDs(f1))

	z := root.Find("Z")
	require.NotNil(t, z)
	assert.Equal(t, 3, z.Depth)
	assert.Equal(t, 5, root.Count())
}

func TestAssemble_RootIDsAreSentinels(t *testing.T) {
	items := []drive.Item{
		folder("F1", "Receipts", "0AReal"),
		file("X", "a.pdf", "0AReal"),
	}
	root := NewTreeAssembler().Assemble(items, AssembleOptions{RootName: "Shared", RootIDs: []string{"0AReal"}})

	assert.Equal(t, "Shared", root.Name)
	assert.Equal(t, []string{"F1", "X"}, childIDs(root))
}

func TestAssemble_DanglingParentFallsBackToRoot(t *testing.T) {
	items := []drive.Item{
		folder("F1", "Receipts", "root"),
		file("X", "a.pdf", "GONE"),
		file("Y", "b.pdf", "GONE", "F1"),
	}
	root := NewTreeAssembler().Assemble(items, AssembleOptions{})

	assert.Equal(t, []string{"F1", "X"}, childIDs(root))
	assert.Equal(t, []string{"Y"}, childIDs(root.Find("F1")), "a resolvable parent wins over a dangling one")
}

func TestAssemble_MultiParentAttachesUnderEach(t *testing.T) {
	items := []drive.Item{
		folder("F1", "A", "root"),
		folder("F2", "B", "root"),
		file("M", "shared.pdf", "F1", "F2", "F1"),
	}
	root := NewTreeAssembler().Assemble(items, AssembleOptions{})

	assert.Equal(t, []string{"M"}, childIDs(root.Find("F1")))
	assert.Equal(t, []string{"M"}, childIDs(root.Find("F2")))
	assert.Equal(t, 4, root.Count())
}

func TestAssemble_Totality(t *testing.T) {
	tests := []struct {
		name  string
		items []drive.Item
		want  []string
	}{
		{"empty", nil, []string{}},
		{"self_parent", []drive.Item{file("S", "self", "S")}, []string{"S"}},
		{"no_parents", []drive.Item{file("N", "loose")}, []string{"N"}},
		{"empty_id_dropped", []drive.Item{file("", "ghost", "root"), file("A", "a", "root")}, []string{"A"}},
		{"duplicate_id_first_wins", []drive.Item{file("A", "first", "root"), file("A", "second", "root")}, []string{"A"}},
		{"two_cycle", []drive.Item{folder("P", "p", "Q"), folder("Q", "q", "P")}, []string{"P"}},
		{"cycle_with_root_entry", []drive.Item{folder("P", "p", "root", "Q"), folder("Q", "q", "P")}, []string{"P"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var root *TreeNode
			assert.NotPanics(t, func() {
				root = NewTreeAssembler().Assemble(tt.items, AssembleOptions{})
			})
			require.NotNil(t, root)
			assert.Equal(t, DefaultRootName, root.Name)
			assert.Equal(t, tt.want, childIDs(root))
		})
	}
}

func TestAssemble_CycleStopsAtBackEdge(t *testing.T) {
	items := []drive.Item{
		folder("P", "p", "Q"),
		folder("Q", "q", "P"),
		file("X", "x", "Q"),
	}
	root := NewTreeAssembler().Assemble(items, AssembleOptions{})

	p := root.Find("P")
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Depth)
	q := root.Find("Q")
	require.NotNil(t, q)
	assert.Equal(t, []string{"X"}, childIDs(q), "P is not re-attached under Q")
	assert.Equal(t, 3, root.Count())
}

func TestAssemble_DuplicateFirstOccurrenceWins(t *testing.T) {
	items := []drive.Item{file("A", "first", "root"), file("A", "second", "root")}
	root := NewTreeAssembler().Assemble(items, AssembleOptions{})
	assert.Equal(t, "first", root.Children[0].Name)
}

func TestAssembleScan(t *testing.T) {
	scan := &ScanResult{
		RootID: "0AReal",
		Items:  []drive.Item{folder("F1", "Receipts", "0AReal"), file("X", "a.pdf", "F1")},
	}
	a := NewTreeAssembler()
	root := a.AssembleScan(scan)
	assert.Equal(t, []string{"F1"}, childIDs(root))

	empty := a.AssembleScan(nil)
	assert.Empty(t, empty.Children)
}

func TestTreeNode_WalkStopsEarly(t *testing.T) {
	root := NewTreeAssembler().Assemble([]drive.Item{
		file("A", "a", "root"), file("B", "b", "root"), file("C", "c", "root"),
	}, AssembleOptions{})

	var visited []string
	root.Walk(func(n *TreeNode) bool {
		visited = append(visited, n.ItemID)
		return n.ItemID != "B"
	})
	assert.Equal(t, []string{"root", "A", "B"}, visited)

	var nilNode *TreeNode
	assert.Equal(t, 0, nilNode.Count())
	assert.Nil(t, nilNode.Find("A"))
}
