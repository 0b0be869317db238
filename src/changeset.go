package src

import (
	"fmt"
	"regexp"
	"strings"
)

// ChangeKind distinguishes edits to existing files from new files.
type ChangeKind string

const (
	ChangeModify ChangeKind = "modify"
	ChangeCreate ChangeKind = "create"
)

// FileChangeSet is one proposed file change extracted from a model
// response. Content is the complete replacement body, byte for byte as the
// model produced it.
type FileChangeSet struct {
	Kind    ChangeKind
	Path    string
	Content string
}

// Extractor parses a model response into proposed file changes. It is an
// interface so the marker grammar can be swapped without touching callers.
type Extractor interface {
	Extract(response string) []FileChangeSet
}

// Wire format markers. The body between the marker lines is verbatim file
// content; embedding content and re-extracting it must round-trip
// byte-exact.
var (
	modifyBlockRe = regexp.MustCompile(`(?s)=== MODIFY: (.+?) ===\n(.*?)\n=== END MODIFY ===`)
	createBlockRe = regexp.MustCompile(`(?s)=== CREATE: (.+?) ===\n(.*?)\n=== END CREATE ===`)
)

// MarkerExtractor is the production extractor over the === MODIFY / CREATE
// block format.
type MarkerExtractor struct{}

// Extract returns every well-formed change block: all MODIFY blocks in
// document order, then all CREATE blocks in document order. Unmatched or
// malformed markers are skipped; text with no blocks yields an empty set,
// never an error.
func (MarkerExtractor) Extract(response string) []FileChangeSet {
	changes := []FileChangeSet{}
	for _, m := range modifyBlockRe.FindAllStringSubmatch(response, -1) {
		changes = append(changes, FileChangeSet{
			Kind:    ChangeModify,
			Path:    strings.TrimSpace(m[1]),
			Content: m[2],
		})
	}
	for _, m := range createBlockRe.FindAllStringSubmatch(response, -1) {
		changes = append(changes, FileChangeSet{
			Kind:    ChangeCreate,
			Path:    strings.TrimSpace(m[1]),
			Content: m[2],
		})
	}
	return changes
}

// HasChanges reports whether a response contains change markers at all,
// well-formed or not. Used to tell "plain answer" from "proposed changes".
func HasChanges(response string) bool {
	return strings.Contains(response, "=== MODIFY:") || strings.Contains(response, "=== CREATE:")
}

// FormatChange renders a change in the wire format Extract parses.
func FormatChange(kind ChangeKind, path, content string) string {
	tag := "MODIFY"
	if kind == ChangeCreate {
		tag = "CREATE"
	}
	return fmt.Sprintf("=== %s: %s ===\n%s\n=== END %s ===", tag, path, content, tag)
}
