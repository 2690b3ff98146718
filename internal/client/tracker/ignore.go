package tracker

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cooklang/cooksync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const (
	IgnoreFileName = ".cooksyncignore"
	MetadataDir    = ".cooksync"
)

var defaultIgnoreLines = []string{
	// cooksync
	MetadataDir + "/",
	".*.tmp-*",
	// vcs
	".git",
	".hg",
	".svn",
	// editors
	".vscode",
	".idea",
	"*.swp",
	"*~",
	"*.tmp",
	// os
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"Icon\r",
}

// IgnoreList decides which paths under the root take part in sync.
// A path is synced when it is not ignored and, if include globs are set,
// matches at least one of them.
type IgnoreList struct {
	root     string
	include  []string
	ignore   *gitignore.GitIgnore
	numRules int
}

func NewIgnoreList(root string, include ...string) *IgnoreList {
	return &IgnoreList{
		root:    root,
		include: include,
	}
}

// Load compiles the default rules plus the root's ignore file, if any
func (l *IgnoreList) Load() {
	lines := append([]string{}, defaultIgnoreLines...)
	ignorePath := filepath.Join(l.root, IgnoreFileName)

	if utils.FileExists(ignorePath) {
		extra, err := readIgnoreFile(ignorePath)
		if err != nil {
			slog.Warn("ignore file", "path", ignorePath, "error", err)
		} else {
			lines = append(lines, extra...)
			slog.Info("ignore file loaded", "path", ignorePath, "rules", len(extra))
		}
	}

	l.numRules = len(lines)
	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " ")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func (l *IgnoreList) Rules() int {
	return l.numRules
}

// ShouldIgnore matches a slash separated path relative to the root
func (l *IgnoreList) ShouldIgnore(rel string) bool {
	if l.ignore == nil {
		l.Load()
	}
	if rel == MetadataDir || strings.HasPrefix(rel, MetadataDir+"/") {
		return true
	}
	return l.ignore.MatchesPath(rel)
}

// Included reports whether a file passes the include globs
func (l *IgnoreList) Included(rel string) bool {
	if len(l.include) == 0 {
		return true
	}
	for _, pattern := range l.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ShouldSync is the combined check for regular files
func (l *IgnoreList) ShouldSync(rel string) bool {
	return !l.ShouldIgnore(rel) && l.Included(rel)
}

// ValidateIncludes rejects malformed include globs
func ValidateIncludes(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return &InvalidPatternError{Pattern: p}
		}
	}
	return nil
}

type InvalidPatternError struct {
	Pattern string
}

func (e *InvalidPatternError) Error() string {
	return "invalid include pattern: " + e.Pattern
}
