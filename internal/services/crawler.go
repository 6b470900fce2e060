package services

import (
	"context"
	"fmt"

	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// crawlFrame is one folder being listed on the walk stack
type crawlFrame struct {
	folderID  string
	depth     int
	page      *drive.Page
	cursor    int
	nextToken string
}

func (f *crawlFrame) exhausted() bool {
	return f.page != nil && f.cursor >= len(f.page.Items) && f.nextToken == ""
}

func (f *crawlFrame) needsPage() bool {
	return f.page == nil || (f.cursor >= len(f.page.Items) && f.nextToken != "")
}

// CrawlerServiceImpl implements Crawler
type CrawlerServiceImpl struct {
	lister PageLister
	logger *log.Logger
}

// NewCrawlerService creates a new crawler on top of a page lister
func NewCrawlerService(lister PageLister) *CrawlerServiceImpl {
	return &CrawlerServiceImpl{
		lister: lister,
		logger: discardLogger(),
	}
}

// SetLogger sets the logger for subtree failures and cycle warnings
func (s *CrawlerServiceImpl) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// crawlState is the mutable state of one walk
type crawlState struct {
	items     []drive.Item
	index     map[string]int
	expanded  map[string]bool
	onPath    map[string]bool
	truncated bool
}

// Crawl walks the hierarchy under opts.RootID depth-first, pre-order,
// recording files and folders once each.
func (s *CrawlerServiceImpl) Crawl(ctx context.Context, opts CrawlOptions) (*ScanResult, error) {
	if s.lister == nil {
		return nil, ErrStoreUnavailable
	}
	if opts.MaxItems < 0 {
		return nil, fmt.Errorf("%w: negative max items", ErrInvalidInput)
	}
	rootID := opts.RootID
	if rootID == "" {
		rootID = drive.RootID
	}
	scanID := opts.ScanID
	if scanID == "" {
		scanID = uuid.New().String()
	}

	result := &ScanResult{ScanID: scanID, RootID: rootID}
	st := &crawlState{
		index:    make(map[string]int),
		expanded: map[string]bool{rootID: true},
		onPath:   map[string]bool{rootID: true},
	}
	stack := []*crawlFrame{{folderID: rootID}}

walk:
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		top := stack[len(stack)-1]

		if top.exhausted() {
			stack = stack[:len(stack)-1]
			delete(st.onPath, top.folderID)
			continue
		}

		if top.needsPage() {
			page, err := s.lister.ListPage(ctx, top.folderID, top.nextToken, opts.PageSize, opts.MimeFilter)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				if len(stack) == 1 {
					return nil, fmt.Errorf("list root folder %s: %w", top.folderID, err)
				}
				s.logger.Warn("skipping subtree after list failure", "folder", top.folderID, "depth", top.depth, "err", err)
				result.Failures = append(result.Failures, ScanFailure{
					FolderID: top.folderID,
					Depth:    top.depth,
					Reason:   err.Error(),
					Status:   drive.StatusOf(err),
				})
				stack = stack[:len(stack)-1]
				delete(st.onPath, top.folderID)
				continue
			}
			next := page.NextPageToken
			if next != "" && next == top.nextToken {
				s.logger.Warn("page token did not advance, ending listing", "folder", top.folderID)
				next = ""
			}
			top.page = page
			top.cursor = 0
			top.nextToken = next
			continue
		}

		item := top.page.Items[top.cursor]
		top.cursor++
		if item.ID == "" {
			continue
		}

		if idx, seen := st.index[item.ID]; seen {
			st.items[idx].ParentIDs = mergeParentIDs(st.items[idx].ParentIDs, item.ParentIDs, top.folderID)
			if item.IsFolder() && st.onPath[item.ID] {
				s.logger.Warn("folder cycle detected, not re-entering", "folder", item.ID, "via", top.folderID)
			}
			continue
		}

		if opts.MaxItems > 0 && len(st.items) >= opts.MaxItems {
			st.truncated = true
			break walk
		}

		if len(item.ParentIDs) == 0 {
			item.ParentIDs = []string{top.folderID}
		}
		st.index[item.ID] = len(st.items)
		st.items = append(st.items, item)

		if item.IsFolder() && !st.expanded[item.ID] && !st.onPath[item.ID] {
			st.expanded[item.ID] = true
			st.onPath[item.ID] = true
			stack = append(stack, &crawlFrame{folderID: item.ID, depth: top.depth + 1})
		}
	}

	result.Items = st.items
	result.Truncated = st.truncated
	s.logger.Info("crawl finished",
		"scan", scanID, "items", len(result.Items), "truncated", result.Truncated, "failures", len(result.Failures))
	return result, nil
}

// mergeParentIDs appends ids from extra and the listing folder that are not
// already present. The "root" alias is only kept when nothing else is known.
func mergeParentIDs(current []string, extra []string, listedIn string) []string {
	out := append([]string(nil), current...)
	add := func(id string) {
		if id == "" {
			return
		}
		for _, p := range out {
			if p == id {
				return
			}
		}
		out = append(out, id)
	}
	for _, id := range extra {
		add(id)
	}
	if listedIn != drive.RootID || len(out) == 0 {
		add(listedIn)
	}
	return out
}
