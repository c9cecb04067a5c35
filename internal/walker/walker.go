// Package walker materializes an input overlay into an output tree. It
// walks the overlaid directories, classifies each file by its name
// markers, expands templates through the macro engine, and writes, copies
// or skips accordingly. Directories are traversed inline (the output
// directory must exist before any child is processed); independent files
// are handed to a bounded worker pool.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/nancy/internal/macro"
	"github.com/agentic-research/nancy/internal/overlay"
)

// Stdout is the output argument that sends a single file's result to
// standard output instead of the filesystem.
const Stdout = "-"

// Config carries one run's parameters. All process-wide state (umask,
// child environment) lives here rather than in globals so concurrent runs
// in tests cannot contaminate each other.
type Config struct {
	Overlay *overlay.Overlay
	// Output is the output directory, a single output file path, or
	// Stdout.
	Output string
	// BuildPath is the overlay-relative path to build; empty builds the
	// whole overlay.
	BuildPath string
	// ProcessHidden also processes dot-prefixed names.
	ProcessHidden bool
	// Update skips writing outputs that are no older than all of their
	// dependencies.
	Update bool
	// Delete removes output files the run did not produce, then any
	// directories left empty.
	Delete bool
	// Jobs bounds the worker pool; zero means the available CPU count.
	Jobs int
	// Stdout receives output for the Stdout sentinel; nil means the
	// process stdout.
	Stdout io.Writer
	// Env is the base environment for $run children; nil means the
	// process environment.
	Env []string
	// Umask masks permission bits propagated to outputs; nil captures the
	// process umask.
	Umask *os.FileMode
}

// Walker executes one build over an immutable overlay.
type Walker struct {
	cfg       Config
	buildPath string
	umask     os.FileMode
	runner    *macro.Runner
	written   *stringSet
	snapshot  map[string]bool
}

// New validates the configuration and captures process-wide state.
func New(cfg Config) (*Walker, error) {
	if cfg.Overlay == nil {
		return nil, errors.New("at least one input must be given")
	}
	if path.IsAbs(cfg.BuildPath) || filepath.IsAbs(cfg.BuildPath) {
		return nil, errors.New("build path must be relative")
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = runtime.NumCPU()
	}
	umask := processUmask()
	if cfg.Umask != nil {
		umask = *cfg.Umask
	}
	buildPath := path.Clean(cfg.BuildPath)
	if buildPath == "." {
		buildPath = ""
	}
	return &Walker{
		cfg:       cfg,
		buildPath: buildPath,
		umask:     umask,
		runner:    &macro.Runner{Env: cfg.Env},
		written:   newStringSet(),
	}, nil
}

// Run processes the build subtree and, in delete mode, prunes stale
// outputs afterward. The first error aborts the whole run.
func (w *Walker) Run(ctx context.Context) error {
	if w.cfg.Delete && w.cfg.Output != Stdout {
		w.snapshot = snapshotFiles(w.cfg.Output)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(w.cfg.Jobs)

	walkErr := w.processPath(gctx, group, w.startPath())
	if err := group.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}

	if w.cfg.Delete && w.cfg.Output != Stdout {
		return w.prune()
	}
	return nil
}

func (w *Walker) startPath() string {
	if w.buildPath == "" {
		return "."
	}
	return w.buildPath
}

// processPath resolves rel and either recurses into a merged directory or
// schedules a file task. Directory recursion is synchronous so that an
// output directory always exists before its children are written; sibling
// files run concurrently on the pool.
func (w *Walker) processPath(ctx context.Context, group *errgroup.Group, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	obj, err := w.cfg.Overlay.Find(rel)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("'%s' matches no path in the inputs", w.reportPath(rel))
	}
	if obj.File != nil {
		file := obj.File
		group.Go(func() error { return w.processFile(ctx, rel, file) })
		return nil
	}
	return w.processDir(ctx, group, rel, obj)
}

func (w *Walker) processDir(ctx context.Context, group *errgroup.Group, rel string, obj *overlay.Object) error {
	if w.cfg.Output == Stdout {
		return errors.New("cannot output multiple files to stdout ('-')")
	}
	outDir := w.outputDir(rel)
	log.Debug("entering directory", "rel", rel, "out", outDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory '%s': %w", outDir, err)
	}

	for _, name := range obj.ChildNames() {
		if strings.HasPrefix(name, ".") && !w.cfg.ProcessHidden {
			continue
		}
		entry := obj.Dir[name]
		childRel := path.Join(rel, name)
		if entry.IsDir {
			if err := w.processPath(ctx, group, childRel); err != nil {
				return err
			}
			continue
		}
		child, err := w.cfg.Overlay.ResolveEntry(entry.Root, childRel)
		if err != nil {
			return err
		}
		if child == nil {
			continue // dangling symlink
		}
		if child.Dir != nil {
			if err := w.processPath(ctx, group, childRel); err != nil {
				return err
			}
			continue
		}
		file := child.File
		group.Go(func() error { return w.processFile(ctx, childRel, file) })
	}
	return nil
}

// processFile classifies, expands or copies, and emits a single file.
func (w *Walker) processFile(ctx context.Context, rel string, file *overlay.File) error {
	name := path.Base(rel)
	act := classify(name)
	if act == actionSkip {
		log.Debug("input-only, skipping", "rel", rel)
		return nil
	}

	mctx := macro.NewContext(ctx, w.cfg.Overlay, file)
	mctx.Runner = w.runner
	deps := macro.NewDepSet()
	mctx.Deps = deps
	deps.Add(file)

	// The output name may itself contain macro calls; $outputpath is
	// unavailable until this expansion settles.
	outName, err := mctx.Expand(name)
	if err != nil {
		return fmt.Errorf("expanding file name '%s': %w", name, err)
	}
	outPath := w.outputPath(rel, stripMarkers(outName))
	mctx.SetOutputPath(outPath)

	var data []byte
	if act == actionExpand {
		log.Debug("expanding", "rel", rel, "out", outPath)
		expanded, err := macro.ExpandFile(mctx, file)
		if err != nil {
			return err
		}
		data = []byte(expanded)
	} else {
		log.Debug("copying", "rel", rel, "out", outPath)
		data, err = file.Read()
		if err != nil {
			return err
		}
	}
	return w.emit(outPath, data, file, deps)
}

// emit writes data to outPath, honoring the stdout sentinel, update-mode
// staleness and permission propagation. The path is recorded as produced
// even when the write is skipped, so prune never deletes an up-to-date
// output.
func (w *Walker) emit(outPath string, data []byte, file *overlay.File, deps *macro.DepSet) error {
	if outPath == Stdout {
		out := w.cfg.Stdout
		if out == nil {
			out = os.Stdout
		}
		_, err := out.Write(data)
		return err
	}

	w.written.add(outPath)
	if w.cfg.Update && upToDate(outPath, deps) {
		log.Debug("up to date, skipping", "out", outPath)
		return nil
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("writing '%s': %w", outPath, err)
	}
	return w.propagateMode(outPath, file)
}

// outputRel maps an overlay-relative path to its path under the output
// root; empty means the output root itself names the target.
func (w *Walker) outputRel(rel string) string {
	if rel == "." || rel == w.buildPath {
		return ""
	}
	if w.buildPath == "" {
		return rel
	}
	return strings.TrimPrefix(rel, w.buildPath+"/")
}

func (w *Walker) outputDir(rel string) string {
	outRel := w.outputRel(rel)
	if outRel == "" {
		return w.cfg.Output
	}
	return filepath.Join(w.cfg.Output, filepath.FromSlash(outRel))
}

func (w *Walker) outputPath(rel, outName string) string {
	if w.cfg.Output == Stdout {
		return Stdout
	}
	outRel := w.outputRel(rel)
	if outRel == "" {
		// Building a single file: OUTPUT names the output file directly.
		return w.cfg.Output
	}
	dir := path.Dir(outRel)
	if dir == "." {
		return filepath.Join(w.cfg.Output, outName)
	}
	return filepath.Join(w.cfg.Output, filepath.FromSlash(dir), outName)
}

// reportPath names rel the way the user asked for it.
func (w *Walker) reportPath(rel string) string {
	if rel == "." {
		return w.cfg.BuildPath
	}
	return rel
}
