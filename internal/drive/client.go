package drive

import (
	"context"
	"fmt"
	"strings"

	drivev3 "google.golang.org/api/drive/v3"
)

const (
	listFields   = "nextPageToken, files(id, name, mimeType, parents, createdTime, modifiedTime, size, webViewLink)"
	itemFields   = "id, name, mimeType, parents, createdTime, modifiedTime, size, webViewLink"
	parentFields = "parents"
	idFields     = "id"

	// DefaultPageSize matches the largest page Drive serves
	DefaultPageSize = 1000
)

// Client wraps the drive.Service and provides the calls the organizer needs
type Client struct {
	Service *drivev3.Service
}

// NewClient creates a new Drive client
func NewClient(service *drivev3.Service) *Client {
	return &Client{Service: service}
}

func (c *Client) ready() error {
	if c == nil || c.Service == nil {
		return fmt.Errorf("drive client not initialized")
	}
	return nil
}

// ListChildren returns one page of non-trashed children of folderID.
// mimeFilter, when set, restricts files to that MIME type; folders are
// always included.
func (c *Client) ListChildren(ctx context.Context, folderID, pageToken string, pageSize int64, mimeFilter string) (*Page, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	call := c.Service.Files.List().
		Q(childrenQuery(folderID, mimeFilter)).
		PageSize(pageSize).
		Fields(listFields).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	res, err := call.Do()
	if err != nil {
		return nil, AsRemoteError("list children of "+folderID, err)
	}

	page := &Page{NextPageToken: res.NextPageToken}
	for _, f := range res.Files {
		item, err := ItemFromFile(f)
		if err != nil {
			continue
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// GetParents returns the current parent ids of an item
func (c *Client) GetParents(ctx context.Context, itemID string) ([]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	f, err := c.Service.Files.Get(itemID).Fields(parentFields).Context(ctx).Do()
	if err != nil {
		return nil, AsRemoteError("get parents of "+itemID, err)
	}
	return f.Parents, nil
}

// CreateFolder creates a folder and returns its id.
// An empty parentID creates it under the root folder.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	folder := &drivev3.File{
		Name:     name,
		MimeType: FolderMimeType,
	}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}

	created, err := c.Service.Files.Create(folder).Fields(idFields).Context(ctx).Do()
	if err != nil {
		return "", AsRemoteError("create folder "+name, err)
	}
	return created.Id, nil
}

// MoveItem adds one parent and removes others in a single update call
func (c *Client) MoveItem(ctx context.Context, itemID, addParentID string, removeParentIDs []string) (*Item, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	call := c.Service.Files.Update(itemID, &drivev3.File{}).
		Fields(itemFields).
		Context(ctx)
	if addParentID != "" {
		call = call.AddParents(addParentID)
	}
	if remove := filterParents(removeParentIDs, addParentID); len(remove) > 0 {
		call = call.RemoveParents(strings.Join(remove, ","))
	}

	f, err := call.Do()
	if err != nil {
		return nil, AsRemoteError("move "+itemID, err)
	}
	item, err := ItemFromFile(f)
	if err != nil {
		return nil, fmt.Errorf("move %s: %w", itemID, err)
	}
	return &item, nil
}

// FindFolderByName returns the id of a non-trashed folder with exactly this
// name under parentID (any parent when parentID is empty).
func (c *Client) FindFolderByName(ctx context.Context, name, parentID string) (string, bool, error) {
	if err := c.ready(); err != nil {
		return "", false, err
	}
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(name), FolderMimeType)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(parentID))
	}

	res, err := c.Service.Files.List().
		Q(q).
		PageSize(1).
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return "", false, AsRemoteError("find folder "+name, err)
	}
	if len(res.Files) == 0 {
		return "", false, nil
	}
	return res.Files[0].Id, true, nil
}

// RootFolderID resolves the "root" alias to the real folder id
func (c *Client) RootFolderID(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	f, err := c.Service.Files.Get(RootID).Fields(idFields).Context(ctx).Do()
	if err != nil {
		return "", AsRemoteError("get root folder", err)
	}
	return f.Id, nil
}

func childrenQuery(folderID, mimeFilter string) string {
	if folderID == "" {
		folderID = RootID
	}
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))
	switch mimeFilter {
	case "":
	case FolderMimeType:
		q += fmt.Sprintf(" and mimeType = '%s'", FolderMimeType)
	default:
		// folders stay in the page so a walk can still descend
		q += fmt.Sprintf(" and (mimeType = '%s' or mimeType = '%s')", escapeQuery(mimeFilter), FolderMimeType)
	}
	return q
}

// escapeQuery escapes a literal for use inside a single-quoted Drive query
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func filterParents(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		out = append(out, id)
	}
	return out
}
