package macro

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/nancy/internal/overlay"
)

// memRoot builds an in-memory input root from path/content pairs.
func memRoot(t *testing.T, label string, files map[string]string) overlay.Root {
	t.Helper()
	fs := memfs.New()
	for p, content := range files {
		require.NoError(t, util.WriteFile(fs, p, []byte(content), 0o644))
	}
	return overlay.Root{Path: label, FS: fs}
}

// expandOne resolves rel in the overlay and expands its contents.
func expandOne(t *testing.T, ov *overlay.Overlay, rel string) (string, error) {
	t.Helper()
	obj, err := ov.Find(rel)
	require.NoError(t, err)
	require.NotNil(t, obj)
	require.NotNil(t, obj.File)
	c := NewContext(context.Background(), ov, obj.File)
	return ExpandFile(c, obj.File)
}

func TestMacroVocabulary(t *testing.T) {
	for _, name := range []string{"path", "realpath", "outputpath", "expand", "paste", "include", "run"} {
		assert.Contains(t, macros, name, "macro $%s not registered", name)
	}
}

func TestExpandPlainText(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "no macros here, just $5 and \\$ signs",
	}))
	out, err := expandOne(t, ov, "page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "no macros here, just $5 and \\$ signs", out)
}

func TestExpandPathMacros(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"sub/page.nancy.txt": "$path|$realpath",
	}))
	out, err := expandOne(t, ov, "sub/page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "sub/page.nancy.txt|/in/sub/page.nancy.txt", out)
}

func TestExpandInclude(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "Hello $include{name.txt}!",
		"name.txt":       "World\n",
	}))
	out, err := expandOne(t, ov, "page.nancy.txt")
	require.NoError(t, err)
	// One trailing newline of the included file is stripped.
	assert.Equal(t, "Hello World!", out)
}

func TestExpandIncludeSearchesUpward(t *testing.T) {
	// A fragment missing next to the file is found at the tree root.
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"a/b/page.nancy.txt": "$include{header.txt}",
		"header.txt":         "top-level header",
	}))
	out, err := expandOne(t, ov, "a/b/page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "top-level header", out)
}

func TestExpandIncludePrefersNearest(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"a/page.nancy.txt": "$include{header.txt}",
		"a/header.txt":     "near",
		"header.txt":       "far",
	}))
	out, err := expandOne(t, ov, "a/page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "near", out)
}

func TestExpandIncludeIsRecursive(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$include{outer.txt}",
		"outer.txt":      "[$include{inner.txt}]",
		"inner.txt":      "core",
	}))
	out, err := expandOne(t, ov, "page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "[core]", out)
}

func TestExpandIncludeReportsOuterPath(t *testing.T) {
	// $path inside an included file still names the file being built.
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$include{frag.txt}",
		"frag.txt":       "from $path",
	}))
	out, err := expandOne(t, ov, "page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "from page.nancy.txt", out)
}

func TestExpandIncludeCycle(t *testing.T) {
	// A file mid-expansion is invisible to the search, so a self-include
	// reads as missing rather than recursing.
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$include{page.nancy.txt}",
	}))
	_, err := expandOne(t, ov, "page.nancy.txt")
	assert.EqualError(t, err, "cannot find 'page.nancy.txt' while expanding 'page.nancy.txt'")
}

func TestExpandMutualIncludeCycle(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$include{a.txt}",
		"a.txt":          "$include{b.txt}",
		"b.txt":          "$include{a.txt}",
	}))
	_, err := expandOne(t, ov, "page.nancy.txt")
	assert.EqualError(t, err, "cannot find 'a.txt' while expanding 'page.nancy.txt'")
}

func TestExpandPasteIsRaw(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$paste{frag.txt}",
		"frag.txt":       "not expanded: $path\n",
	}))
	out, err := expandOne(t, ov, "page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "not expanded: $path", out)
}

func TestExpandOutputNeverRescanned(t *testing.T) {
	// Macro calls in spliced output are inert; only following text expands.
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$paste{call.txt} then $path",
		"call.txt":       "$realpath",
	}))
	out, err := expandOne(t, ov, "page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "$realpath then page.nancy.txt", out)
}

func TestExpandMacroInArgument(t *testing.T) {
	// Arguments expand before dispatch, so a macro can compute a file name.
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$include{$expand{frag}.txt}",
		"frag.txt":       "found it",
	}))
	out, err := expandOne(t, ov, "page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "found it", out)
}

func TestExpandEscapedCall(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": `\$include{frag.txt} and $include{frag.txt}`,
		"frag.txt":       "real",
	}))
	out, err := expandOne(t, ov, "page.nancy.txt")
	require.NoError(t, err)
	assert.Equal(t, "$include{frag.txt} and real", out)
}

func TestExpandUnknownMacro(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$frobnicate",
	}))
	_, err := expandOne(t, ov, "page.nancy.txt")
	assert.EqualError(t, err, "no such macro '$frobnicate'")
}

func TestExpandMissingFile(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$include{nowhere.txt}",
	}))
	_, err := expandOne(t, ov, "page.nancy.txt")
	assert.EqualError(t, err, "cannot find 'nowhere.txt' while expanding 'page.nancy.txt'")
}

func TestExpandOutputPath(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "to $outputpath",
	}))
	obj, err := ov.Find("page.nancy.txt")
	require.NoError(t, err)

	c := NewContext(context.Background(), ov, obj.File)
	_, err = ExpandFile(c, obj.File)
	assert.EqualError(t, err, "$outputpath is not available while expanding 'page.nancy.txt'")

	c = NewContext(context.Background(), ov, obj.File)
	c.SetOutputPath("out/page.txt")
	out, err := ExpandFile(c, obj.File)
	require.NoError(t, err)
	assert.Equal(t, "to out/page.txt", out)
}

func TestExpandTracksDependencies(t *testing.T) {
	ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
		"page.nancy.txt": "$include{a.txt}$paste{b.txt}",
		"a.txt":          "A",
		"b.txt":          "B",
	}))
	obj, err := ov.Find("page.nancy.txt")
	require.NoError(t, err)

	c := NewContext(context.Background(), ov, obj.File)
	c.Deps = NewDepSet()
	_, err = ExpandFile(c, obj.File)
	require.NoError(t, err)

	var paths []string
	for _, f := range c.Deps.Files() {
		paths = append(paths, f.RealPath())
	}
	assert.ElementsMatch(t, []string{"/in/a.txt", "/in/b.txt"}, paths)
}

func TestExpandArity(t *testing.T) {
	for text, msg := range map[string]string{
		"$path(x)":           "$path expects no arguments",
		"$include":           "$include expects exactly one argument",
		"$include(a.txt){b}": "$include expects exactly one argument",
		"$expand":            "$expand expects an input",
		"$run":               "$run expects at least one argument",
	} {
		ov := overlay.FromRoots(memRoot(t, "/in", map[string]string{
			"page.nancy.txt": text,
		}))
		_, err := expandOne(t, ov, "page.nancy.txt")
		assert.EqualError(t, err, msg, "input %q", text)
	}
}
