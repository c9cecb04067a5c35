package macro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// InputRootVar is the environment variable telling a $run child which
// input root it was invoked from, so scripts can locate the overlay.
const InputRootVar = "NANCY_INPUT"

// Runner executes external programs for $run. It is explicit walker-level
// configuration rather than ambient process state so tests can substitute
// the environment and the stderr sink.
type Runner struct {
	// Env is the base environment for children; nil means the current
	// process environment.
	Env []string
	// InputVar overrides the input-root variable name; empty means
	// InputRootVar.
	InputVar string
	// Stderr receives a failing child's captured standard error before the
	// error is raised; nil means the process stderr.
	Stderr io.Writer
}

// Run executes exe with args, piping stdin to the child when non-nil and
// capturing its standard output. A non-zero exit is fatal: the child's
// standard error is echoed and the returned error carries the exit code
// and the captured text.
func (r *Runner) Run(ctx context.Context, exe string, args []string, stdin *string, inputRoot string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log.Debug("run", "exe", exe, "args", args)

	cmd := exec.CommandContext(ctx, exe, args...)
	env := r.Env
	if env == nil {
		env = os.Environ()
	}
	name := r.InputVar
	if name == "" {
		name = InputRootVar
	}
	cmd.Env = append(append([]string{}, env...), name+"="+inputRoot)
	if stdin != nil {
		cmd.Stdin = strings.NewReader(*stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			sink := r.Stderr
			if sink == nil {
				sink = os.Stderr
			}
			_, _ = sink.Write(stderr.Bytes())
			return "", fmt.Errorf("'%s' gave Error code %d: %s",
				filepath.Base(exe), exitErr.ExitCode(), strings.TrimRight(stderr.String(), "\n"))
		}
		return "", fmt.Errorf("running '%s': %w", exe, err)
	}
	return stdout.String(), nil
}
