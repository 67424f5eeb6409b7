package walker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderag/internal/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func relPaths(files []FileInfo) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.RelPath)
	}
	return out
}

func warningFor(ws []types.Warning, path string) (types.Warning, bool) {
	for _, w := range ws {
		if w.Path == path {
			return w, true
		}
	}
	return types.Warning{}, false
}

func TestDiscover_OrderAndIgnores(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "z.go", "package z\n")
	writeFile(t, root, "a/b.py", "def b():\n    pass\n")
	writeFile(t, root, "notes.txt", "hello\n")
	writeFile(t, root, "node_modules/x.js", "var x = 1;\n")
	writeFile(t, root, "pkg/node_modules/y.js", "var y = 1;\n")
	writeFile(t, root, ".gitignore", "gen/\n")
	writeFile(t, root, "gen/c.py", "x = 1\n")
	writeFile(t, root, "sub/.gitignore", "*.txt\n")
	writeFile(t, root, "sub/notes.txt", "ignored\n")
	writeFile(t, root, "sub/keep.py", "y = 2\n")
	writeFile(t, root, "logo.png", "not really a png")
	writeFile(t, root, "app.min.js", "var a=1;")

	res, err := Discover(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a/b.py", "notes.txt", "sub/keep.py", "z.go"}, relPaths(res.Files))
	assert.Equal(t, "python", res.Files[0].Language)
	assert.Equal(t, "go", res.Files[3].Language)
}

func TestDiscover_Deterministic(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"c.py", "a.py", "b/d.py", "b/a.go"} {
		writeFile(t, root, rel, "x = 1\n")
	}

	first, err := Discover(context.Background(), root, Options{})
	require.NoError(t, err)
	second, err := Discover(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, relPaths(first.Files), relPaths(second.Files))
	assert.Equal(t, []string{"a.py", "b/a.go", "b/d.py", "c.py"}, relPaths(first.Files))
}

func TestDiscover_SkipsWithWarnings(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "empty.py", "")
	writeFile(t, root, "blob.py", "abc\x00def")
	writeFile(t, root, "big.py", string(make([]byte, 2048)))
	writeFile(t, root, "ok.py", "x = 1\n")

	res, err := Discover(context.Background(), root, Options{MaxFileSize: 1024})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok.py"}, relPaths(res.Files))
	for _, p := range []string{"empty.py", "blob.py", "big.py"} {
		w, ok := warningFor(res.Warnings, p)
		require.True(t, ok, "expected warning for %s", p)
		assert.Equal(t, types.WarnSkippedFile, w.Kind)
	}
}

func TestDiscover_Symlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, root, "real.py", "x = 1\n")
	writeFile(t, root, "dir/inner.py", "y = 1\n")
	writeFile(t, outside, "secret.py", "z = 1\n")

	require.NoError(t, os.Symlink(filepath.Join(root, "real.py"), filepath.Join(root, "alias.py")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.py"), filepath.Join(root, "escape.py")))
	require.NoError(t, os.Symlink(filepath.Join(root, "missing.py"), filepath.Join(root, "dangling.py")))
	require.NoError(t, os.Symlink(filepath.Join(root, "dir"), filepath.Join(root, "loop")))

	res, err := Discover(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"alias.py", "dir/inner.py", "real.py"}, relPaths(res.Files))
	for _, p := range []string{"escape.py", "dangling.py", "loop"} {
		_, ok := warningFor(res.Warnings, p)
		assert.True(t, ok, "expected warning for %s", p)
	}
}

func TestDiscover_ExtensionAllowList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = 1\n")
	writeFile(t, root, "b.go", "package b\n")

	res, err := Discover(context.Background(), root, Options{Extensions: ExtensionSet([]string{".py"})})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, relPaths(res.Files))
}

func TestDiscover_WritesIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "x = 1\n")

	_, err := Discover(context.Background(), root, Options{WriteIgnoreFile: true})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, IgnoreFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "node_modules/")
}

func TestDiscover_IgnoreFileWriteFailure(t *testing.T) {
	root := t.TempDir()
	// A directory in place of the ignore file makes both read and write fail.
	require.NoError(t, os.Mkdir(filepath.Join(root, IgnoreFileName), 0o755))
	writeFile(t, root, "a.py", "x = 1\n")
	writeFile(t, root, "node_modules/x.js", "var x = 1;\n")

	res, err := Discover(context.Background(), root, Options{WriteIgnoreFile: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, relPaths(res.Files))

	w, ok := warningFor(res.Warnings, IgnoreFileName)
	require.True(t, ok)
	assert.Contains(t, w.Message, "writing default ignore file")
}

func TestDiscover_AnchoredGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "/out/\n")
	writeFile(t, root, "out/a.go", "package out\n")
	writeFile(t, root, "pkg/out/b.go", "package out\n")
	writeFile(t, root, "sub/.gitignore", "/tmp/\n")
	writeFile(t, root, "sub/tmp/c.py", "x = 1\n")
	writeFile(t, root, "sub/deep/tmp/d.py", "x = 1\n")

	res, err := Discover(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/out/b.go", "sub/deep/tmp/d.py"}, relPaths(res.Files))
}

func TestDiscover_CustomIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, IgnoreFileName, "fixtures/\n")
	writeFile(t, root, "fixtures/f.py", "x = 1\n")
	writeFile(t, root, "main.py", "x = 1\n")

	res, err := Discover(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, relPaths(res.Files))
}

func TestDiscover_Errors(t *testing.T) {
	_, err := Discover(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
	assert.Error(t, err)

	root := t.TempDir()
	writeFile(t, root, "a.py", "x = 1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Discover(ctx, root, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecode(t *testing.T) {
	text, enc, err := Decode([]byte("\xEF\xBB\xBFprint('hi')\n"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", text)
	assert.Equal(t, "utf-8", enc)

	text, enc, err = Decode([]byte("caf\xe9 = 1\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "caf"))
	assert.Equal(t, 9, utf8.RuneCountInString(text))
	assert.NotEqual(t, "utf-8", enc)

	text, enc, err = Decode([]byte{0xFF, 0xFE, 'h', 0, 'i', 0})
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
	assert.Equal(t, "utf-16", enc)

	_, _, err = Decode([]byte("ab\x00cd"))
	assert.ErrorIs(t, err, types.ErrSkippedFile)
}

func TestRead(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/mod.py", "x = 1\n")

	res, err := Discover(context.Background(), root, Options{})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)

	src, err := Read(res.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "pkg/mod.py", src.Path)
	assert.Equal(t, "python", src.Language)
	assert.Equal(t, "x = 1\n", src.Text)

	_, err = Read(FileInfo{Path: filepath.Join(root, "gone.py"), RelPath: "gone.py"})
	assert.ErrorIs(t, err, types.ErrSkippedFile)
}
