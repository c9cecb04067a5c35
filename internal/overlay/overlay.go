// Package overlay resolves objects in the logical union of an ordered list
// of input root directories. Files resolve to the first root that contains
// them; directories are merged across all roots, with later roots
// overriding earlier ones for individual children. Each root is a
// billy.Filesystem plus its on-disk base path, so tests can substitute
// in-memory roots.
package overlay

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// maxLinkDepth bounds symlink re-resolution so that a symlink loop inside
// the input tree cannot recurse forever.
const maxLinkDepth = 40

// Root is a single input tree: a filesystem plus the base path it was
// opened from. Path is used to compute concrete paths for $realpath, for
// executable lookup, and as the stack identity during cycle detection; for
// in-memory roots it is just a label.
type Root struct {
	Path string
	FS   billy.Filesystem
}

// OS opens an on-disk root.
func OS(path string) Root {
	return Root{Path: path, FS: osfs.New(path)}
}

// Overlay is an immutable, priority-ordered list of input roots.
type Overlay struct {
	roots []Root
}

// New validates each input path and builds an overlay of on-disk roots.
func New(inputs []string) (*Overlay, error) {
	if len(inputs) == 0 {
		return nil, errors.New("at least one input must be given")
	}
	roots := make([]Root, 0, len(inputs))
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, fmt.Errorf("input '%s' does not exist", input)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("input '%s' is not a directory", input)
		}
		roots = append(roots, OS(input))
	}
	return &Overlay{roots: roots}, nil
}

// FromRoots builds an overlay from pre-constructed roots. Used by tests
// with memfs-backed roots.
func FromRoots(roots ...Root) *Overlay {
	return &Overlay{roots: roots}
}

// Roots returns the roots in priority order.
func (o *Overlay) Roots() []Root {
	return o.roots
}

// File is a concrete file chosen by resolution.
type File struct {
	// Rel is the overlay-relative path the file was requested as.
	Rel string
	// Root is the root that supplies the file's bytes.
	Root Root

	// readRel is the path to open within Root.FS. It differs from Rel when
	// a symlink redirected resolution to another object inside the overlay.
	readRel string
	// realPath is set when a symlink target outside every input root
	// supplies the bytes directly.
	realPath string
}

// RealPath returns the concrete filesystem path of the file.
func (f *File) RealPath() string {
	if f.realPath != "" {
		return f.realPath
	}
	return filepath.Join(f.Root.Path, filepath.FromSlash(f.readRel))
}

// Read returns the file's contents.
func (f *File) Read() ([]byte, error) {
	if f.realPath != "" {
		return os.ReadFile(f.realPath)
	}
	return util.ReadFile(f.Root.FS, f.readRel)
}

// Stat returns the file's metadata (size, mtime, permission bits).
func (f *File) Stat() (os.FileInfo, error) {
	if f.realPath != "" {
		return os.Stat(f.realPath)
	}
	return f.Root.FS.Stat(f.readRel)
}

// Executable reports whether any execute bit is set on the file.
func (f *File) Executable() bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// Entry is one child of a merged directory listing.
type Entry struct {
	Name  string
	IsDir bool
	// Root is the root whose copy of the child won the merge.
	Root Root
}

// Object is the result of resolving an overlay-relative path: exactly one
// of File or Dir is set.
type Object struct {
	File *File
	Dir  map[string]Entry
}

// ChildNames returns the merged directory's child names in sorted order.
func (obj *Object) ChildNames() []string {
	names := make([]string, 0, len(obj.Dir))
	for name := range obj.Dir {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find locates rel in the overlay, scanning roots left to right. The first
// root containing a regular file wins and short-circuits the scan; a
// directory match is remembered and the scan continues so the listing can
// be merged from every root, later roots overriding earlier ones per child
// name. Returns (nil, nil) when nothing matches. An object that is neither
// a file nor a directory is an error.
func (o *Overlay) Find(rel string) (*Object, error) {
	return o.find(path.Clean(rel), 0)
}

func (o *Overlay) find(rel string, depth int) (*Object, error) {
	if depth > maxLinkDepth {
		return nil, fmt.Errorf("too many levels of symbolic links resolving '%s'", rel)
	}
	log.Debug("find object", "rel", rel)

	var listings []map[string]Entry
	for _, root := range o.roots {
		info, err := root.FS.Lstat(rel)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			obj, err := o.followSymlink(root, rel, depth)
			if err != nil {
				return nil, err
			}
			if obj == nil {
				continue
			}
			if obj.File != nil {
				return obj, nil
			}
			listings = append(listings, obj.Dir)
			continue
		}
		if info.Mode().IsRegular() {
			return &Object{File: &File{Rel: rel, Root: root, readRel: rel}}, nil
		}
		if info.IsDir() {
			listing, err := listDir(root, rel)
			if err != nil {
				return nil, err
			}
			listings = append(listings, listing)
			continue
		}
		return nil, fmt.Errorf("'%s' is not a file or directory", filepath.Join(root.Path, filepath.FromSlash(rel)))
	}

	if len(listings) == 0 {
		return nil, nil
	}
	merged := make(map[string]Entry)
	for _, listing := range listings {
		for name, entry := range listing {
			merged[name] = entry
		}
	}
	return &Object{Dir: merged}, nil
}

func listDir(root Root, rel string) (map[string]Entry, error) {
	infos, err := root.FS.ReadDir(rel)
	if err != nil {
		return nil, fmt.Errorf("reading directory '%s': %w", filepath.Join(root.Path, rel), err)
	}
	listing := make(map[string]Entry, len(infos))
	for _, info := range infos {
		listing[info.Name()] = Entry{Name: info.Name(), IsDir: info.IsDir(), Root: root}
	}
	return listing, nil
}

// ResolveEntry resolves a merged-listing child to its object using the
// specific root the merge chose, rather than rescanning all roots the way
// Find does. Files under a merged directory keep the listing's precedence
// (last root wins) instead of reverting to first-file-wins.
func (o *Overlay) ResolveEntry(root Root, rel string) (*Object, error) {
	info, err := root.FS.Lstat(rel)
	if err != nil {
		return nil, nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return o.followSymlink(root, rel, 0)
	}
	if info.Mode().IsRegular() {
		return &Object{File: &File{Rel: rel, Root: root, readRel: rel}}, nil
	}
	if info.IsDir() {
		listing, err := listDir(root, rel)
		if err != nil {
			return nil, err
		}
		return &Object{Dir: listing}, nil
	}
	return nil, fmt.Errorf("'%s' is not a file or directory", filepath.Join(root.Path, filepath.FromSlash(rel)))
}

// followSymlink resolves a symlink found at rel in root. A target inside
// any input root is re-resolved through the overlay, so precedence rules
// apply to the symlink's logical target; a target outside every root
// resolves to its real path directly. Dangling links resolve to nil.
func (o *Overlay) followSymlink(root Root, rel string, depth int) (*Object, error) {
	target, err := root.FS.Readlink(rel)
	if err != nil {
		return nil, fmt.Errorf("reading symlink '%s': %w", filepath.Join(root.Path, rel), err)
	}
	log.Debug("follow symlink", "rel", rel, "target", target)

	// Resolve the target to an absolute concrete path.
	abs := target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root.Path, filepath.FromSlash(path.Dir(rel)), target)
	}

	// If the target lands inside an input root, go through the overlay.
	for _, candidate := range o.roots {
		if candidate.Path == "" {
			continue
		}
		base, err := filepath.Abs(candidate.Path)
		if err != nil {
			continue
		}
		absTarget, err := filepath.Abs(abs)
		if err != nil {
			continue
		}
		if inner, ok := relWithin(base, absTarget); ok {
			obj, err := o.find(inner, depth+1)
			if err != nil || obj == nil {
				return obj, err
			}
			if obj.File != nil {
				// Report the requested path, read from the target.
				return &Object{File: &File{
					Rel:      rel,
					Root:     obj.File.Root,
					readRel:  obj.File.readRel,
					realPath: obj.File.realPath,
				}}, nil
			}
			return obj, nil
		}
	}

	// Outside every root: take the real path as-is.
	info, err := os.Stat(abs)
	if err != nil {
		return nil, nil // dangling link, treat as absent
	}
	if info.Mode().IsRegular() {
		return &Object{File: &File{Rel: rel, Root: root, readRel: rel, realPath: abs}}, nil
	}
	if info.IsDir() {
		external := Root{Path: abs, FS: osfs.New(abs)}
		listing, err := listDir(external, ".")
		if err != nil {
			return nil, err
		}
		return &Object{Dir: listing}, nil
	}
	return nil, fmt.Errorf("'%s' is not a file or directory", abs)
}

// relWithin returns target's path relative to base when target is base or
// below it.
func relWithin(base, target string) (string, bool) {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// FindOnPath searches for name as a file starting at startDir and walking
// up toward the overlay root. A match whose concrete path appears in
// exclude is skipped; this is how a file currently mid-expansion reads as
// absent, so include cycles surface as "cannot find". Returns nil when no
// root supplies the file anywhere on the path.
func (o *Overlay) FindOnPath(startDir, name string, exclude []string) (*File, error) {
	search := splitPath(startDir)
	name = path.Clean(name)
	for {
		rel := path.Join(append(append([]string{}, search...), name)...)
		obj, err := o.Find(rel)
		if err != nil {
			return nil, err
		}
		if obj != nil && obj.File != nil {
			if !contains(exclude, obj.File.RealPath()) {
				return obj.File, nil
			}
			log.Debug("skipping candidate already mid-expansion", "rel", rel)
		}
		if len(search) == 0 {
			return nil, nil
		}
		search = search[:len(search)-1]
	}
}

func splitPath(dir string) []string {
	dir = path.Clean(dir)
	if dir == "." || dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
