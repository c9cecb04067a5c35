package macro

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func TestRunnerCapturesStdout(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "hello", `printf 'hello %s' "$1"`)
	r := &Runner{}
	out, err := r.Run(context.Background(), exe, []string{"world"}, nil, "/in")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRunnerPipesStdin(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "upper", `tr a-z A-Z`)
	r := &Runner{}
	body := "quiet text"
	out, err := r.Run(context.Background(), exe, nil, &body, "/in")
	require.NoError(t, err)
	assert.Equal(t, "QUIET TEXT", out)
}

func TestRunnerSetsInputRootVar(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "root", `printf '%s' "$NANCY_INPUT"`)
	r := &Runner{}
	out, err := r.Run(context.Background(), exe, nil, nil, "/some/input")
	require.NoError(t, err)
	assert.Equal(t, "/some/input", out)
}

func TestRunnerNonZeroExit(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "fail", "echo boom >&2\nexit 3")
	var stderr bytes.Buffer
	r := &Runner{Stderr: &stderr}
	_, err := r.Run(context.Background(), exe, nil, nil, "/in")
	require.Error(t, err)
	// The child's stderr is echoed before the error is raised, and the
	// error names the exit code and carries the captured text.
	assert.Equal(t, "boom\n", stderr.String())
	assert.EqualError(t, err, "'fail' gave Error code 3: boom")
}

func TestRunnerExplicitEnv(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "env", `printf '%s' "$GREETING"`)
	r := &Runner{Env: []string{"GREETING=salut"}}
	out, err := r.Run(context.Background(), exe, nil, nil, "/in")
	require.NoError(t, err)
	assert.Equal(t, "salut", out)
}
