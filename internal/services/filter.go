package services

import (
	"github.com/ajramos/drive-organizer/internal/drive"
)

// DefaultSampleLimit is how many files a proposal is built from at most
const DefaultSampleLimit = 4000

// FilterItems drops items the user asked to leave alone: ignored MIME
// types, and files above MaxFileSizeMB when IgnoreLarge is set. Items
// without a known size are kept.
func FilterItems(items []drive.Item, prefs Preferences) []drive.Item {
	ignore := make(map[string]bool, len(prefs.IgnoreMimeTypes))
	for _, m := range prefs.IgnoreMimeTypes {
		ignore[m] = true
	}
	maxMB := prefs.MaxFileSizeMB
	if maxMB <= 0 {
		maxMB = DefaultPreferences().MaxFileSizeMB
	}
	maxBytes := int64(maxMB) * 1024 * 1024

	out := make([]drive.Item, 0, len(items))
	for _, it := range items {
		if ignore[it.MimeType] {
			continue
		}
		if prefs.IgnoreLarge && it.Size != nil && *it.Size > maxBytes {
			continue
		}
		out = append(out, it)
	}
	return out
}

// SampleLargeList caps items at limit by sampling each MIME type group
// evenly. Group order follows first appearance; lists within the limit are
// returned unchanged.
func SampleLargeList(items []drive.Item, limit int) []drive.Item {
	if limit <= 0 || len(items) <= limit {
		return items
	}

	groups := make(map[string][]drive.Item)
	var order []string
	for _, it := range items {
		mime := it.MimeType
		if mime == "" {
			mime = "unknown"
		}
		if _, ok := groups[mime]; !ok {
			order = append(order, mime)
		}
		groups[mime] = append(groups[mime], it)
	}

	perGroup := limit / len(order)
	if perGroup < 1 {
		perGroup = 1
	}

	out := make([]drive.Item, 0, limit)
	for _, mime := range order {
		group := groups[mime]
		if len(group) <= perGroup {
			out = append(out, group...)
			continue
		}
		step := len(group) / perGroup
		for i, taken := 0, 0; i < len(group) && taken < perGroup; i += step {
			out = append(out, group[i])
			taken++
		}
	}
	return out
}
