package src

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// maxReadBytes caps how much of a single file may enter a prompt or a
// review. Larger files are refused with a typed error.
const maxReadBytes = 1 << 20

const (
	relevantFileLimit = 5
	maxSearchHits     = 50
)

var ignoredDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, "dist": {}, "build": {}, "out": {}, "target": {}, "vendor": {},
	".venv": {}, "__pycache__": {}, ".idea": {}, ".vscode": {}, ".DS_Store": {},
}

var allowedExts = map[string]struct{}{
	".go": {}, ".py": {}, ".js": {}, ".ts": {}, ".tsx": {}, ".jsx": {}, ".rs": {}, ".rb": {},
	".java": {}, ".c": {}, ".cpp": {}, ".h": {}, ".sh": {}, ".html": {}, ".css": {}, ".sql": {},
	".php": {}, ".md": {}, ".yaml": {}, ".yml": {}, ".json": {}, ".toml": {}, ".ini": {},
	".cfg": {}, ".txt": {},
}

func isIgnoredDir(name string) bool {
	_, ok := ignoredDirs[name]
	return ok
}

func allowedFile(path string) bool {
	_, ok := allowedExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FileEntry is one scanned workspace file.
type FileEntry struct {
	Rel  string
	Abs  string
	Size int64
}

// RelevantFile pairs a workspace path with its content for prompt building.
type RelevantFile struct {
	Path    string
	Content string
}

// ProjectStructure summarizes what kind of project the root holds.
type ProjectStructure struct {
	Type        string   `json:"type"`
	MainFiles   []string `json:"main_files,omitempty"`
	SourceFiles int      `json:"source_files"`
	ConfigFiles int      `json:"config_files"`
	TotalFiles  int      `json:"total_files"`
}

// Workspace is the single gateway to the file tree under Root: scanning,
// typed reads, guarded writes, and the commit lock around batch applies.
type Workspace struct {
	Root   string
	logger *zap.Logger

	files []FileEntry
}

func NewWorkspace(root string, logger *zap.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{Root: abs, logger: logger}, nil
}

// Scan walks the root, skipping ignored directories and non-code files,
// and caches the result sorted by relative path.
func (w *Workspace) Scan() ([]FileEntry, error) {
	var out []FileEntry
	err := filepath.WalkDir(w.Root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if isIgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !allowedFile(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(w.Root, p)
		if err != nil {
			return nil
		}
		out = append(out, FileEntry{Rel: filepath.ToSlash(rel), Abs: p, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	w.files = out
	return out, nil
}

// Files returns the cached scan, scanning on first use.
func (w *Workspace) Files() []FileEntry {
	if w.files == nil {
		files, err := w.Scan()
		if err != nil {
			w.logger.Warn("workspace scan failed", zap.Error(err))
			return nil
		}
		return files
	}
	return w.files
}

// Structure classifies the project from its marker files.
func (w *Workspace) Structure() ProjectStructure {
	files := w.Files()
	ps := ProjectStructure{TotalFiles: len(files)}

	var node, goMod, python, rust, website bool
	for _, f := range files {
		switch strings.ToLower(filepath.Base(f.Rel)) {
		case "package.json":
			node = true
			ps.MainFiles = append(ps.MainFiles, f.Rel)
		case "go.mod":
			goMod = true
			ps.MainFiles = append(ps.MainFiles, f.Rel)
		case "requirements.txt", "pyproject.toml":
			python = true
			ps.MainFiles = append(ps.MainFiles, f.Rel)
		case "cargo.toml":
			rust = true
			ps.MainFiles = append(ps.MainFiles, f.Rel)
		case "index.html":
			website = true
			ps.MainFiles = append(ps.MainFiles, f.Rel)
		}
		switch strings.ToLower(filepath.Ext(f.Rel)) {
		case ".go", ".py", ".js", ".ts", ".jsx", ".tsx", ".java", ".cpp", ".c", ".rs", ".rb", ".php":
			ps.SourceFiles++
		case ".json", ".yaml", ".yml", ".toml", ".ini", ".cfg":
			ps.ConfigFiles++
		}
	}

	switch {
	case node:
		ps.Type = "node"
	case goMod:
		ps.Type = "go"
	case python:
		ps.Type = "python"
	case rust:
		ps.Type = "rust"
	case website:
		ps.Type = "website"
	default:
		ps.Type = "generic"
	}
	return ps
}

func (w *Workspace) absPath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// ReadFile returns a workspace file's content. Missing files and oversized
// files come back as typed errors so callers can tell them apart.
func (w *Workspace) ReadFile(rel string) (string, error) {
	abs := w.absPath(rel)
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &FileNotFoundError{Path: rel}
		}
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", rel)
	}
	if info.Size() > maxReadBytes {
		return "", &FileTooLargeError{Path: rel, Size: info.Size()}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories as needed.
func (w *Workspace) WriteFile(rel, content string) error {
	abs := w.absPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent dirs for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// BackupAndWrite preserves an existing file by renaming it to path.backup
// before writing the new content; a failed write can then never destroy
// the original. Returns the backup path, "" when the file did not exist.
func (w *Workspace) BackupAndWrite(rel, content string) (string, error) {
	abs := w.absPath(rel)
	backup := ""
	if _, err := os.Stat(abs); err == nil {
		backup = rel + ".backup"
		if err := os.Rename(abs, abs+".backup"); err != nil {
			return "", fmt.Errorf("back up %s: %w", rel, err)
		}
	}
	if err := w.WriteFile(rel, content); err != nil {
		return backup, err
	}
	return backup, nil
}

// SearchHit is one match from a workspace content search.
type SearchHit struct {
	Path string
	Line int
	Text string
}

// Search scans accessible files for a case-insensitive substring.
func (w *Workspace) Search(query string) []SearchHit {
	needle := strings.ToLower(query)
	var hits []SearchHit
	for _, f := range w.Files() {
		if f.Size > maxReadBytes {
			continue
		}
		data, err := os.ReadFile(f.Abs)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				hits = append(hits, SearchHit{Path: f.Rel, Line: i + 1, Text: strings.TrimSpace(line)})
				if len(hits) >= maxSearchHits {
					return hits
				}
			}
		}
	}
	return hits
}

// RelevantFiles picks up to five files whose name or content mentions a
// word of the request. Words under three characters are ignored so "a"
// and "to" don't match everything.
func (w *Workspace) RelevantFiles(request string) []RelevantFile {
	var words []string
	for _, word := range strings.Fields(strings.ToLower(request)) {
		if len(word) >= 3 {
			words = append(words, word)
		}
	}

	var out []RelevantFile
	for _, f := range w.Files() {
		if len(out) >= relevantFileLimit {
			break
		}
		content, err := w.ReadFile(f.Rel)
		if err != nil {
			continue
		}
		name := strings.ToLower(filepath.Base(f.Rel))
		lower := strings.ToLower(content)
		for _, word := range words {
			if strings.Contains(name, word) || strings.Contains(lower, word) {
				out = append(out, RelevantFile{Path: f.Rel, Content: content})
				break
			}
		}
	}
	return out
}

// Tree renders the scanned files as an indented tree.
func (w *Workspace) Tree() string {
	type node struct {
		name     string
		children map[string]*node
		file     bool
	}
	root := &node{name: "/", children: map[string]*node{}}

	for _, f := range w.Files() {
		parts := strings.Split(f.Rel, "/")
		cur := root
		for i, p := range parts {
			if cur.children == nil {
				cur.children = map[string]*node{}
			}
			if _, ok := cur.children[p]; !ok {
				cur.children[p] = &node{name: p, children: map[string]*node{}}
			}
			cur = cur.children[p]
			if i == len(parts)-1 {
				cur.file = true
			}
		}
	}

	var lines []string
	var walk func(prefix string, n *node)
	walk = func(prefix string, n *node) {
		keys := make([]string, 0, len(n.children))
		for k := range n.children {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := n.children[k]
			line := prefix + "└─ " + child.name
			if !child.file {
				line += "/"
			}
			lines = append(lines, line)
			if len(child.children) > 0 {
				walk(prefix+"  ", child)
			}
		}
	}
	walk("", root)
	return strings.Join(lines, "\n")
}

// HumanSize renders a byte count the way the status panes expect.
func HumanSize(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.2f GB", float64(n)/float64(gb))
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(mb))
	case n >= kb:
		return fmt.Sprintf("%.0f KB", float64(n)/float64(kb))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
