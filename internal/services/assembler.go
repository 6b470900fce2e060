package services

import (
	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/charmbracelet/log"
)

const (
	// DefaultRootName names the synthetic root node
	DefaultRootName = "My Drive"

	// maxNodesPerItem bounds how far multi-parent fan-out may expand the tree
	maxNodesPerItem = 64
)

// AssembleOptions configures tree assembly
type AssembleOptions struct {
	RootName string
	// RootIDs are ids, besides "root", that mean the top of the hierarchy
	RootIDs []string
}

// TreeAssembler rebuilds a rooted tree from flat item records
type TreeAssembler struct {
	logger *log.Logger
}

// NewTreeAssembler creates a new assembler
func NewTreeAssembler() *TreeAssembler {
	return &TreeAssembler{logger: discardLogger()}
}

// SetLogger sets the logger for data inconsistency warnings
func (a *TreeAssembler) SetLogger(logger *log.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// AssembleScan builds the tree of a scan, treating its crawl root as the top
func (a *TreeAssembler) AssembleScan(r *ScanResult) *TreeNode {
	if r == nil {
		return emptyRoot(DefaultRootName)
	}
	return a.Assemble(r.Items, AssembleOptions{RootIDs: []string{r.RootID}})
}

type buildFrame struct {
	node   *TreeNode
	id     string
	parent *buildFrame
}

func (f *buildFrame) onPath(id string) bool {
	for p := f; p != nil; p = p.parent {
		if p.id == id {
			return true
		}
	}
	return false
}

// Assemble returns a synthetic root whose subtree holds every item.
// Items with several resolvable parents appear under each of them, the
// root included. Items with no resolvable parent, and items only
// reachable through a cycle, hang off the root. It never panics; on internal failure the empty root
// is returned.
func (a *TreeAssembler) Assemble(items []drive.Item, opts AssembleOptions) (root *TreeNode) {
	rootName := opts.RootName
	if rootName == "" {
		rootName = DefaultRootName
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("tree assembly failed, returning empty tree", "panic", r)
			root = emptyRoot(rootName)
		}
	}()

	rootIDs := map[string]bool{drive.RootID: true}
	for _, id := range opts.RootIDs {
		if id != "" {
			rootIDs[id] = true
		}
	}

	index := make(map[string]drive.Item, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			a.logger.Warn("dropping item without id", "name", it.Name)
			continue
		}
		if _, dup := index[it.ID]; dup {
			continue
		}
		index[it.ID] = it
		order = append(order, it.ID)
	}

	children := make(map[string][]string, len(index))
	var topLevel []string
	for _, id := range order {
		it := index[id]
		resolved := 0
		atRoot := false
		seen := make(map[string]bool, len(it.ParentIDs))
		for _, pid := range it.ParentIDs {
			if pid == "" || seen[pid] {
				continue
			}
			seen[pid] = true
			switch {
			case rootIDs[pid]:
				atRoot = true
			case pid == id:
				a.logger.Warn("item lists itself as parent", "item", id)
			case !hasKey(index, pid):
				a.logger.Warn("dangling parent reference", "item", id, "parent", pid)
			default:
				children[pid] = append(children[pid], id)
				resolved++
			}
		}
		if atRoot || resolved == 0 {
			topLevel = append(topLevel, id)
		}
	}

	root = emptyRoot(rootName)
	budget := maxNodesPerItem*len(order) + 1
	reached := make(map[string]bool, len(order))

	attach := func(parent *buildFrame, id string) *buildFrame {
		it := index[id]
		node := &TreeNode{
			ItemID:   id,
			Name:     it.Name,
			Kind:     it.Kind,
			Depth:    parent.node.Depth + 1,
			Children: []*TreeNode{},
		}
		parent.node.Children = append(parent.node.Children, node)
		reached[id] = true
		budget--
		return &buildFrame{node: node, id: id, parent: parent}
	}

	grow := func(start *buildFrame) {
		stack := []*buildFrame{start}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, cid := range children[f.id] {
				if f.onPath(cid) {
					a.logger.Warn("parent cycle, not following back edge", "item", cid, "parent", f.id)
					continue
				}
				if budget <= 0 {
					a.logger.Warn("tree expansion limit reached, truncating", "item", cid)
					return
				}
				stack = append(stack, attach(f, cid))
			}
		}
	}

	top := &buildFrame{node: root}
	for _, id := range topLevel {
		grow(attach(top, id))
	}
	for _, id := range order {
		if reached[id] {
			continue
		}
		a.logger.Warn("item only reachable through a cycle, attaching to root", "item", id)
		grow(attach(top, id))
	}
	return root
}

func emptyRoot(name string) *TreeNode {
	return &TreeNode{ItemID: drive.RootID, Name: name, Kind: drive.KindFolder, Children: []*TreeNode{}}
}

func hasKey(m map[string]drive.Item, k string) bool {
	_, ok := m[k]
	return ok
}

// Walk visits the subtree in pre-order until fn returns false
func (n *TreeNode) Walk(fn func(*TreeNode) bool) {
	if n == nil {
		return
	}
	stack := []*TreeNode{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur) {
			return
		}
		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}
}

// Count returns the number of nodes below n
func (n *TreeNode) Count() int {
	total := -1
	n.Walk(func(*TreeNode) bool {
		total++
		return true
	})
	if total < 0 {
		return 0
	}
	return total
}

// Find returns the first node in pre-order with the given item id
func (n *TreeNode) Find(itemID string) *TreeNode {
	var found *TreeNode
	n.Walk(func(t *TreeNode) bool {
		if t.ItemID == itemID {
			found = t
			return false
		}
		return true
	})
	return found
}
