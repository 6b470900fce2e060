package classify

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ajramos/drive-organizer/internal/drive"
	"github.com/ajramos/drive-organizer/internal/llm"
	"github.com/ajramos/drive-organizer/internal/services"
	"github.com/charmbracelet/log"
)

const (
	// promptFileLimit caps how many files are listed individually in the prompt
	promptFileLimit = 50
	summaryTopN     = 10
)

var (
	ErrNoJSON          = errors.New("no JSON object in response")
	ErrMissingRoot     = errors.New("missing root_folders in response")
	ErrProviderMissing = errors.New("LLM provider not configured")
)

// LLMClassifier implements services.ClassificationOracle on top of an LLM provider
type LLMClassifier struct {
	provider llm.Provider
	prompt   string
	logger   *log.Logger
}

// NewLLMClassifier creates a classifier. An empty prompt template falls
// back to a minimal built-in one.
func NewLLMClassifier(provider llm.Provider, promptTemplate string) *LLMClassifier {
	if strings.TrimSpace(promptTemplate) == "" {
		promptTemplate = "Organize these files into folders.\n\n{{summary}}\n\n{{files}}\n\nReply with JSON containing root_folders, orphaned_files and reasoning."
	}
	return &LLMClassifier{
		provider: provider,
		prompt:   promptTemplate,
		logger:   log.New(io.Discard),
	}
}

// SetLogger sets the logger used for warnings about the model's answer
func (c *LLMClassifier) SetLogger(logger *log.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Propose asks the model for a folder structure over items and converts
// its answer into a proposal.
func (c *LLMClassifier) Propose(ctx context.Context, items []drive.Item, folders []drive.Item, prefs services.Preferences) (*services.Proposal, error) {
	if c.provider == nil {
		return nil, ErrProviderMissing
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no files to classify", services.ErrInvalidInput)
	}

	prompt, err := c.buildPrompt(items, folders, prefs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	response, err := c.provider.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate proposal: %w", err)
	}

	parsed, err := parseResponse(response)
	if err != nil {
		c.logger.Error("unusable classification response", "provider", c.provider.Name(), "err", err)
		return nil, err
	}

	proposal := c.flatten(parsed, items)
	c.logger.Info("classification proposal generated",
		"provider", c.provider.Name(), "files", len(items),
		"folders", len(proposal.NewFolders), "assignments", len(proposal.Assignments),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return proposal, nil
}

type promptFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
	Size       *int64 `json:"size,omitempty"`
	ModifiedAt string `json:"modifiedTime,omitempty"`
}

func (c *LLMClassifier) buildPrompt(items, folders []drive.Item, prefs services.Preferences) (string, error) {
	listed := items
	if len(listed) > promptFileLimit {
		listed = listed[:promptFileLimit]
	}
	files := make([]promptFile, 0, len(listed))
	for _, it := range listed {
		pf := promptFile{ID: it.ID, Name: it.Name, MimeType: it.MimeType, Size: it.Size}
		if !it.ModifiedAt.IsZero() {
			pf.ModifiedAt = it.ModifiedAt.UTC().Format(time.RFC3339)
		}
		files = append(files, pf)
	}
	filesJSON, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode files: %w", err)
	}

	folderNames := make([]string, 0, len(folders))
	for _, f := range folders {
		folderNames = append(folderNames, f.Name)
	}

	ignoreMime := "none"
	if len(prefs.IgnoreMimeTypes) > 0 {
		ignoreMime = strings.Join(prefs.IgnoreMimeTypes, ", ")
	}

	prompt := c.prompt
	prompt = strings.ReplaceAll(prompt, "{{summary}}", Summarize(items))
	prompt = strings.ReplaceAll(prompt, "{{files}}", string(filesJSON))
	prompt = strings.ReplaceAll(prompt, "{{folders}}", strings.Join(folderNames, ", "))
	prompt = strings.ReplaceAll(prompt, "{{ignore_mime}}", ignoreMime)
	prompt = strings.ReplaceAll(prompt, "{{ignore_large}}", strconv.FormatBool(prefs.IgnoreLarge))
	return prompt, nil
}

type countEntry struct {
	key   string
	count int
}

// Summarize reports the total file count plus the most common MIME types
// and extensions.
func Summarize(items []drive.Item) string {
	mimes := map[string]int{}
	exts := map[string]int{}
	for _, it := range items {
		mime := it.MimeType
		if mime == "" {
			mime = "unknown"
		}
		mimes[mime]++
		if ext := strings.TrimPrefix(strings.ToLower(path.Ext(it.Name)), "."); ext != "" {
			exts[ext]++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Total files: %d\n\nTop MIME types:\n", len(items))
	for _, e := range topN(mimes, summaryTopN) {
		fmt.Fprintf(&b, "  %s: %d\n", e.key, e.count)
	}
	b.WriteString("\nTop file extensions:\n")
	for _, e := range topN(exts, summaryTopN) {
		fmt.Fprintf(&b, "  .%s: %d\n", e.key, e.count)
	}
	return b.String()
}

func topN(counts map[string]int, n int) []countEntry {
	entries := make([]countEntry, 0, len(counts))
	for k, v := range counts {
		entries = append(entries, countEntry{k, v})
	}
	slices.SortFunc(entries, func(a, b countEntry) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

type folderNode struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Children    []folderNode `json:"children"`
	Files       []string     `json:"files"`
}

type response struct {
	RootFolders   *[]folderNode `json:"root_folders"`
	OrphanedFiles []string      `json:"orphaned_files"`
	Reasoning     string        `json:"reasoning"`
}

// parseResponse decodes the span from the first '{' to the last '}'
func parseResponse(content string) (*response, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end < start {
		return nil, ErrNoJSON
	}
	var r response
	if err := json.Unmarshal([]byte(content[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	if r.RootFolders == nil {
		return nil, ErrMissingRoot
	}
	return &r, nil
}

// flatten walks the folder tree parents first, so every ParentName refers
// to a folder created earlier in the same proposal.
func (c *LLMClassifier) flatten(r *response, items []drive.Item) *services.Proposal {
	valid := make(map[string]bool, len(items))
	for _, it := range items {
		valid[it.ID] = true
	}

	p := &services.Proposal{
		NewFolders:  []services.NewFolder{},
		Assignments: []services.Assignment{},
		Reasoning:   strings.TrimSpace(r.Reasoning),
	}
	seenFolder := map[string]bool{}
	assigned := map[string]bool{}

	var walk func(nodes []folderNode, parent string)
	walk = func(nodes []folderNode, parent string) {
		for _, n := range nodes {
			name := strings.TrimSpace(n.Name)
			if name == "" {
				c.logger.Warn("skipping unnamed folder in proposal", "parent", parent)
				continue
			}
			if !seenFolder[name] {
				seenFolder[name] = true
				p.NewFolders = append(p.NewFolders, services.NewFolder{
					Name:        name,
					Description: strings.TrimSpace(n.Description),
					ParentName:  parent,
				})
			}
			for _, id := range n.Files {
				switch {
				case !valid[id]:
					c.logger.Warn("invalid file ID in proposal", "file", id, "folder", name)
				case assigned[id]:
					c.logger.Warn("file assigned twice, keeping first folder", "file", id, "folder", name)
				default:
					assigned[id] = true
					p.Assignments = append(p.Assignments, services.Assignment{ItemID: id, TargetFolderName: name})
				}
			}
			walk(n.Children, name)
		}
	}
	walk(*r.RootFolders, "")

	for _, id := range r.OrphanedFiles {
		if !valid[id] {
			c.logger.Warn("invalid file ID in orphaned files", "file", id)
			continue
		}
		if !assigned[id] {
			p.Orphans = append(p.Orphans, id)
		}
	}
	return p
}
