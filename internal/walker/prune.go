package walker

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// stringSet records output paths produced by concurrent file tasks.
type stringSet struct {
	mu sync.Mutex
	m  map[string]bool
}

func newStringSet() *stringSet {
	return &stringSet{m: make(map[string]bool)}
}

func (s *stringSet) add(v string) {
	s.mu.Lock()
	s.m[v] = true
	s.mu.Unlock()
}

func (s *stringSet) has(v string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[v]
}

// snapshotFiles lists every regular file already under dir before the run
// starts. Walk errors are ignored: an absent or unreadable output tree
// simply yields nothing to prune.
func snapshotFiles(dir string) map[string]bool {
	files := make(map[string]bool)
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			files[p] = true
		}
		return nil
	})
	return files
}

// prune deletes output files that existed before the run but were not
// produced by it, then removes any directories the deletions left empty.
func (w *Walker) prune() error {
	for p := range w.snapshot {
		if w.written.has(p) {
			continue
		}
		log.Debug("pruning stale output", "path", p)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return removeEmptyDirs(w.cfg.Output)
}

// removeEmptyDirs removes empty directories under root, deepest first, so
// a directory emptied by its children's removal is itself removed. The
// root is never removed.
func removeEmptyDirs(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && p != root {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Children sort after their parents by length, so walking the list in
	// reverse length order visits leaves first.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		log.Debug("removing empty directory", "path", dir)
		if err := os.Remove(dir); err != nil {
			return err
		}
	}
	return nil
}
