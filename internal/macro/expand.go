// Package macro implements the recursive expansion engine: scanning text
// for $name(args){input} invocations, dispatching them to the macro set,
// and splicing their output back into the buffer. Expansion of a file
// carries an include-stack of concrete paths so that recursive inclusion
// of a file already mid-expansion reads as absent.
package macro

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/agentic-research/nancy/internal/overlay"
)

// Context is the per-file expansion state. One Context exists per
// top-level file being processed; the include-stack grows and shrinks with
// recursive $include calls and is never shared between files, so
// concurrent expansions cannot poison each other's cycle detection.
type Context struct {
	// Ctx cancels external processes started by $run.
	Ctx context.Context
	// Path is the overlay-relative path of the file being expanded.
	Path string
	// Real is the concrete filesystem path being read.
	Real string
	// Root is the input root that supplied the file.
	Root overlay.Root
	// Overlay resolves $include, $paste and $run lookups.
	Overlay *overlay.Overlay
	// Runner executes $run children; nil uses a default runner.
	Runner *Runner
	// Deps, when non-nil, records every file reached via $include or
	// $paste. $run output is deliberately not tracked.
	Deps *DepSet

	outputPath  string
	outputKnown bool
	stack       []string
}

// NewContext prepares expansion state for one resolved file.
func NewContext(ctx context.Context, ov *overlay.Overlay, file *overlay.File) *Context {
	return &Context{
		Ctx:     ctx,
		Path:    file.Rel,
		Real:    file.RealPath(),
		Root:    file.Root,
		Overlay: ov,
		stack:   []string{file.RealPath()},
	}
}

// SetOutputPath makes $outputpath available. It is left unset while the
// output filename itself is being expanded.
func (c *Context) SetOutputPath(p string) {
	c.outputPath = p
	c.outputKnown = true
}

// ExpandFile reads the file backing c and expands its contents.
func ExpandFile(c *Context, file *overlay.File) (string, error) {
	data, err := file.Read()
	if err != nil {
		return "", fmt.Errorf("reading '%s': %w", file.RealPath(), err)
	}
	return c.Expand(string(data))
}

// Expand runs the scan/dispatch/substitute loop over text. Macro output is
// spliced in verbatim and never re-scanned; scanning resumes immediately
// after it, so text produced by a macro cannot trigger further expansion
// while text following the call still can.
func (c *Context) Expand(text string) (string, error) {
	p := &parser{text: text}
	for {
		inv, err := p.next()
		if err != nil {
			return "", err
		}
		if inv == nil {
			return p.text, nil
		}
		var out string
		if inv.Escaped {
			out = p.literal(inv)
		} else {
			out, err = c.dispatch(inv)
			if err != nil {
				return "", err
			}
		}
		p.text = p.text[:inv.Start] + out + p.text[inv.End:]
		p.pos = inv.Start + len(out)
	}
}

// dispatch expands an invocation's arguments and body left to right, then
// invokes the named macro with the results.
func (c *Context) dispatch(inv *Invocation) (string, error) {
	fn, ok := macros[inv.Name]
	if !ok {
		return "", fmt.Errorf("no such macro '$%s'", inv.Name)
	}
	args := make([]string, len(inv.Args))
	for i, raw := range inv.Args {
		expanded, err := c.Expand(unescapeCommas(raw))
		if err != nil {
			return "", err
		}
		args[i] = expanded
	}
	var body *string
	if inv.Body != nil {
		expanded, err := c.Expand(*inv.Body)
		if err != nil {
			return "", err
		}
		body = &expanded
	}
	log.Debug("dispatch", "macro", inv.Name, "args", args, "file", c.Path)
	return fn(c, args, body)
}

// locate finds name by upward search from the directory of the file being
// expanded. Files currently mid-expansion are invisible, so an include
// cycle reports the file as missing rather than as a distinct error.
func (c *Context) locate(name string) (*overlay.File, error) {
	file, err := c.Overlay.FindOnPath(path.Dir(c.Path), name, c.stack)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("cannot find '%s' while expanding '%s'", name, c.Path)
	}
	return file, nil
}

func (c *Context) push(real string) {
	c.stack = append(c.stack, real)
}

func (c *Context) pop() {
	c.stack = c.stack[:len(c.stack)-1]
}

// DepSet collects the files an expansion read, keyed by concrete path.
// Update mode compares their mtimes against the existing output.
type DepSet struct {
	files map[string]*overlay.File
}

func NewDepSet() *DepSet {
	return &DepSet{files: make(map[string]*overlay.File)}
}

func (d *DepSet) Add(file *overlay.File) {
	if d == nil {
		return
	}
	d.files[file.RealPath()] = file
}

// Files returns the recorded dependencies in unspecified order.
func (d *DepSet) Files() []*overlay.File {
	if d == nil {
		return nil
	}
	files := make([]*overlay.File, 0, len(d.files))
	for _, f := range d.files {
		files = append(files, f)
	}
	return files
}

// stripFinalNewline removes exactly one trailing newline, matching the
// behavior of $include and $paste.
func stripFinalNewline(s string) string {
	return strings.TrimSuffix(s, "\n")
}
