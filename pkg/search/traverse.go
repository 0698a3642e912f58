package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	holonlog "github.com/holon-run/localagent/pkg/log"
	"github.com/holon-run/localagent/pkg/wildcard"
)

// DefaultSkipDirs are directory names never entered during traversal:
// dependency caches, VCS metadata and OS-reserved folders.
var DefaultSkipDirs = []string{
	"node_modules",
	".git",
	".svn",
	".hg",
	"__pycache__",
	".venv",
	".cache",
	".Trash",
	"$RECYCLE.BIN",
	"System Volume Information",
}

// rootOnlySkipDirs are pseudo filesystems skipped only directly under "/".
var rootOnlySkipDirs = []string{"proc", "sys", "dev"}

// SkipList is a case-insensitive set of directory names.
type SkipList struct {
	names    map[string]struct{}
	rootOnly map[string]struct{}
}

// NewSkipList returns DefaultSkipDirs extended with extra.
func NewSkipList(extra ...string) SkipList {
	sl := SkipList{
		names:    make(map[string]struct{}, len(DefaultSkipDirs)+len(extra)),
		rootOnly: make(map[string]struct{}, len(rootOnlySkipDirs)),
	}
	for _, name := range DefaultSkipDirs {
		sl.names[strings.ToLower(name)] = struct{}{}
	}
	for _, name := range extra {
		if name = strings.TrimSpace(name); name != "" {
			sl.names[strings.ToLower(name)] = struct{}{}
		}
	}
	for _, name := range rootOnlySkipDirs {
		sl.rootOnly[name] = struct{}{}
	}
	return sl
}

// Skips reports whether the directory name found inside parent is skipped.
func (sl SkipList) Skips(parent, name string) bool {
	if _, ok := sl.names[strings.ToLower(name)]; ok {
		return true
	}
	if parent == string(filepath.Separator) {
		_, ok := sl.rootOnly[name]
		return ok
	}
	return false
}

// Sink receives traversal progress. Calls come from the traversal goroutine
// only, in discovery order.
type Sink interface {
	AddDirectory()
	AddMatch(path string)
}

// TraverseOptions controls a single walk.
type TraverseOptions struct {
	Matcher *wildcard.Matcher
	Skip    SkipList
	// ReadDir lists a directory; nil means os.ReadDir.
	ReadDir func(string) ([]os.DirEntry, error)
}

type frame struct {
	dir     string
	entries []os.DirEntry
	next    int
}

// Traverse walks root depth-first in pre-order, reporting every non-directory
// entry whose base name matches. It checks ctx before each directory and
// before each entry and returns as soon as it is cancelled. Unreadable
// directories are abandoned silently. Symlinks are never followed.
//
// The walk keeps an explicit stack of open directories, so tree depth is not
// bounded by the goroutine stack. The visit order is the same as the
// recursive formulation: a subdirectory is exhausted before its next sibling.
func Traverse(ctx context.Context, root string, opts TraverseOptions, sink Sink) {
	readDir := opts.ReadDir
	if readDir == nil {
		readDir = os.ReadDir
	}

	var stack []*frame
	enter := func(dir string) {
		if ctx.Err() != nil {
			return
		}
		entries, err := readDir(dir)
		if err != nil {
			holonlog.Debug("search skipped unreadable directory", "dir", dir, "error", err)
			return
		}
		sink.AddDirectory()
		stack = append(stack, &frame{dir: dir, entries: entries})
	}

	enter(root)
	for len(stack) > 0 {
		if ctx.Err() != nil {
			return
		}
		top := stack[len(stack)-1]
		if top.next >= len(top.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		entry := top.entries[top.next]
		top.next++

		name := entry.Name()
		path := filepath.Join(top.dir, name)
		if entry.IsDir() {
			if opts.Skip.Skips(top.dir, name) {
				continue
			}
			enter(path)
			continue
		}
		if opts.Matcher.Match(name) {
			sink.AddMatch(path)
		}
	}
}
