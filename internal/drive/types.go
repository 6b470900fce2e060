package drive

import (
	"errors"
	"strings"
	"time"

	drivev3 "google.golang.org/api/drive/v3"
)

const (
	// FolderMimeType marks a Drive item as a folder
	FolderMimeType = "application/vnd.google-apps.folder"

	// RootID is the alias Drive accepts for the user's root folder
	RootID = "root"

	// googleAppsPrefix identifies native Google documents, which report no size
	googleAppsPrefix = "application/vnd.google-apps."

	untitledName = "Untitled"
)

// ErrInvalidItem is returned when a remote record cannot become an Item
var ErrInvalidItem = errors.New("invalid drive item")

// Kind distinguishes files from folders
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Item is a file or folder record from the remote store
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	ParentIDs   []string  `json:"parent_ids,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
	Size        *int64    `json:"size,omitempty"`
	WebViewLink string    `json:"web_view_link,omitempty"`
}

// IsFolder reports whether the item is a folder
func (i Item) IsFolder() bool {
	return i.Kind == KindFolder
}

// Page is one page of a folder listing
type Page struct {
	Items         []Item
	NextPageToken string
}

// KindForMimeType maps a MIME type to an item kind
func KindForMimeType(mimeType string) Kind {
	if mimeType == FolderMimeType {
		return KindFolder
	}
	return KindFile
}

// ItemFromFile validates a Drive API file and converts it into an Item.
// A missing id is rejected; a missing name is replaced with "Untitled".
func ItemFromFile(f *drivev3.File) (Item, error) {
	if f == nil || strings.TrimSpace(f.Id) == "" {
		return Item{}, ErrInvalidItem
	}
	name := f.Name
	if strings.TrimSpace(name) == "" {
		name = untitledName
	}
	item := Item{
		ID:          f.Id,
		Name:        name,
		Kind:        KindForMimeType(f.MimeType),
		ParentIDs:   append([]string(nil), f.Parents...),
		MimeType:    f.MimeType,
		CreatedAt:   parseTime(f.CreatedTime),
		ModifiedAt:  parseTime(f.ModifiedTime),
		WebViewLink: f.WebViewLink,
	}
	if item.Kind == KindFile && !strings.HasPrefix(f.MimeType, googleAppsPrefix) {
		size := f.Size
		item.Size = &size
	}
	return item, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
