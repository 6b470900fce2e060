package services

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/ajramos/drive-organizer/internal/drive"
)

// fakeRemote is an in-memory RemoteStore with call counters and failure injection
type fakeRemote struct {
	mu sync.Mutex

	items map[string]*drive.Item
	order []string
	// extra listings returned in addition to the real children, keyed by folder
	extra map[string][]drive.Item

	pageSize int
	nextID   int
	// rootID is what RootFolderID reports; empty means the "root" alias
	rootID string

	// listErrors holds errors returned, in order, by ListChildren per folder
	listErrors map[string][]error
	// moveErrors fails MoveItem for an item id
	moveErrors map[string]error
	findErrors map[string]error

	calls map[string]int
	moves []fakeMove
}

type fakeMove struct {
	ItemID string
	Add    string
	Remove []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		items:      make(map[string]*drive.Item),
		extra:      make(map[string][]drive.Item),
		listErrors: make(map[string][]error),
		moveErrors: make(map[string]error),
		findErrors: make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (f *fakeRemote) addFolder(id, name string, parents ...string) *fakeRemote {
	return f.add(drive.Item{ID: id, Name: name, Kind: drive.KindFolder, MimeType: drive.FolderMimeType, ParentIDs: parents})
}

func (f *fakeRemote) addFile(id, name string, parents ...string) *fakeRemote {
	return f.add(drive.Item{ID: id, Name: name, Kind: drive.KindFile, MimeType: "application/pdf", ParentIDs: parents})
}

func (f *fakeRemote) add(it drive.Item) *fakeRemote {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := it
	cp.ParentIDs = append([]string(nil), it.ParentIDs...)
	f.items[it.ID] = &cp
	f.order = append(f.order, it.ID)
	return f
}

func (f *fakeRemote) parentsOf(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[id]; ok {
		return append([]string(nil), it.ParentIDs...)
	}
	return nil
}

func (f *fakeRemote) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeRemote) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func notFound(id string) error {
	return &drive.RemoteAPIError{Op: "get " + id, Status: http.StatusNotFound, Reason: "notFound", Message: "File not found: " + id}
}

func (f *fakeRemote) ListChildren(ctx context.Context, folderID, pageToken string, pageSize int64, mimeFilter string) (*drive.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++

	if errs := f.listErrors[folderID]; len(errs) > 0 {
		err := errs[0]
		f.listErrors[folderID] = errs[1:]
		if err != nil {
			return nil, err
		}
	}

	var children []drive.Item
	for _, id := range f.order {
		it := f.items[id]
		if slices.Contains(it.ParentIDs, folderID) {
			children = append(children, *it)
		}
	}
	children = append(children, f.extra[folderID]...)

	size := f.pageSize
	if size <= 0 {
		size = len(children) + 1
	}
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, &drive.RemoteAPIError{Op: "list", Status: http.StatusBadRequest, Message: "bad page token"}
		}
		start = n
	}
	end := start + size
	if end > len(children) {
		end = len(children)
	}
	page := &drive.Page{Items: append([]drive.Item(nil), children[start:end]...)}
	if end < len(children) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeRemote) GetParents(ctx context.Context, itemID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["get_parents"]++
	it, ok := f.items[itemID]
	if !ok {
		return nil, notFound(itemID)
	}
	return append([]string(nil), it.ParentIDs...), nil
}

func (f *fakeRemote) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create"]++
	f.nextID++
	id := fmt.Sprintf("new-%d", f.nextID)
	if parentID == "" {
		parentID = drive.RootID
	}
	f.items[id] = &drive.Item{ID: id, Name: name, Kind: drive.KindFolder, MimeType: drive.FolderMimeType, ParentIDs: []string{parentID}}
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeRemote) MoveItem(ctx context.Context, itemID, addParentID string, removeParentIDs []string) (*drive.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["move"]++
	if err, ok := f.moveErrors[itemID]; ok {
		return nil, err
	}
	it, ok := f.items[itemID]
	if !ok {
		return nil, notFound(itemID)
	}
	f.moves = append(f.moves, fakeMove{ItemID: itemID, Add: addParentID, Remove: append([]string(nil), removeParentIDs...)})

	remove := make(map[string]bool, len(removeParentIDs))
	for _, id := range removeParentIDs {
		if id != addParentID {
			remove[id] = true
		}
	}
	var parents []string
	for _, p := range it.ParentIDs {
		if !remove[p] && p != addParentID {
			parents = append(parents, p)
		}
	}
	if addParentID != "" {
		parents = append(parents, addParentID)
	}
	sort.Strings(parents)
	it.ParentIDs = parents
	out := *it
	return &out, nil
}

func (f *fakeRemote) FindFolderByName(ctx context.Context, name, parentID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["find"]++
	if err, ok := f.findErrors[name]; ok {
		return "", false, err
	}
	for _, id := range f.order {
		it := f.items[id]
		if !it.IsFolder() || it.Name != name {
			continue
		}
		if parentID == "" || slices.Contains(it.ParentIDs, parentID) {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeRemote) RootFolderID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["root"]++
	if f.rootID == "" {
		return drive.RootID, nil
	}
	return f.rootID, nil
}
