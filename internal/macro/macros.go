package macro

import (
	"errors"
	"fmt"
	"os/exec"
	"path"
)

// macroFunc is the uniform macro contract: fully expanded arguments, a
// fully expanded optional input body, and the per-file context. Arity and
// shape violations are fatal and reported before any side effect.
type macroFunc func(c *Context, args []string, input *string) (string, error)

// macros is the fixed vocabulary. Unknown names are a map miss, reported
// by dispatch. Filled in init: the macro functions recurse back through
// dispatch, so a literal map would form an initialization cycle.
var macros = map[string]macroFunc{}

func init() {
	macros["path"] = macroPath
	macros["realpath"] = macroRealPath
	macros["outputpath"] = macroOutputPath
	macros["expand"] = macroExpand
	macros["paste"] = macroPaste
	macros["include"] = macroInclude
	macros["run"] = macroRun
}

func wantNone(name string, args []string, input *string) error {
	if len(args) > 0 {
		return fmt.Errorf("$%s expects no arguments", name)
	}
	if input != nil {
		return fmt.Errorf("$%s does not take an input", name)
	}
	return nil
}

// oneName extracts a macro's single filename, accepted either as the one
// parenthesized argument or as the braced input, but not both.
func oneName(name string, args []string, input *string) (string, error) {
	if input != nil && len(args) == 0 {
		return *input, nil
	}
	if input == nil && len(args) == 1 {
		return args[0], nil
	}
	return "", fmt.Errorf("$%s expects exactly one argument", name)
}

// macroPath returns the overlay-relative path of the file being expanded.
func macroPath(c *Context, args []string, input *string) (string, error) {
	if err := wantNone("path", args, input); err != nil {
		return "", err
	}
	return c.Path, nil
}

// macroRealPath returns the concrete filesystem path the resolver chose.
func macroRealPath(c *Context, args []string, input *string) (string, error) {
	if err := wantNone("realpath", args, input); err != nil {
		return "", err
	}
	return c.Real, nil
}

// macroOutputPath returns the computed output path. It fails while the
// output filename itself is mid-expansion, since the path is not yet
// determined.
func macroOutputPath(c *Context, args []string, input *string) (string, error) {
	if err := wantNone("outputpath", args, input); err != nil {
		return "", err
	}
	if !c.outputKnown {
		return "", fmt.Errorf("$outputpath is not available while expanding '%s'", c.Path)
	}
	return c.outputPath, nil
}

// macroExpand treats its input as further template text. The input was
// already recursively expanded with the current include-stack before
// dispatch, so no file is pushed and the result passes through.
func macroExpand(c *Context, args []string, input *string) (string, error) {
	if len(args) > 0 {
		return "", errors.New("$expand expects no arguments")
	}
	if input == nil {
		return "", errors.New("$expand expects an input")
	}
	return *input, nil
}

// macroPaste splices a file's raw bytes without expanding them, minus one
// trailing newline.
func macroPaste(c *Context, args []string, input *string) (string, error) {
	name, err := oneName("paste", args, input)
	if err != nil {
		return "", err
	}
	file, err := c.locate(name)
	if err != nil {
		return "", err
	}
	data, err := file.Read()
	if err != nil {
		return "", fmt.Errorf("reading '%s': %w", file.RealPath(), err)
	}
	c.Deps.Add(file)
	return stripFinalNewline(string(data)), nil
}

// macroInclude splices a file's contents expanded, pushing the file onto
// the include-stack for the duration so it cannot include itself. $path
// and $realpath keep reporting the outer file.
func macroInclude(c *Context, args []string, input *string) (string, error) {
	name, err := oneName("include", args, input)
	if err != nil {
		return "", err
	}
	file, err := c.locate(name)
	if err != nil {
		return "", err
	}
	data, err := file.Read()
	if err != nil {
		return "", fmt.Errorf("reading '%s': %w", file.RealPath(), err)
	}
	c.Deps.Add(file)
	c.push(file.RealPath())
	defer c.pop()
	expanded, err := c.Expand(string(data))
	if err != nil {
		return "", err
	}
	return stripFinalNewline(expanded), nil
}

// macroRun executes a program found by the same upward search as
// $include, falling back to the system executable search path. The
// expanded input, if any, is piped to its standard input; its standard
// output is the macro's result.
func macroRun(c *Context, args []string, input *string) (string, error) {
	if len(args) < 1 {
		return "", errors.New("$run expects at least one argument")
	}
	prog := args[0]

	exe := ""
	inputRoot := c.Root.Path
	file, err := c.Overlay.FindOnPath(path.Dir(c.Path), prog, c.stack)
	if err != nil {
		return "", err
	}
	if file != nil && file.Executable() {
		exe = file.RealPath()
		inputRoot = file.Root.Path
	} else {
		exe, err = exec.LookPath(prog)
		if err != nil {
			return "", fmt.Errorf("cannot find '%s' while expanding '%s'", prog, c.Path)
		}
	}

	runner := c.Runner
	if runner == nil {
		runner = &Runner{}
	}
	return runner.Run(c.Ctx, exe, args[1:], input, inputRoot)
}
