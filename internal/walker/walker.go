// Package walker discovers indexable source files under a repository root
// and decodes their text.
package walker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"coderag/internal/types"
)

// DefaultMaxFileSize is the largest file considered (1 MiB).
const DefaultMaxFileSize = 1 << 20

// sniffSize is how much of a file is checked for NUL bytes.
const sniffSize = 8 << 10

// FileInfo holds metadata about a discovered source file.
type FileInfo struct {
	Path     string // absolute
	RelPath  string // slash-separated, relative to the root
	Size     int64
	ModTime  time.Time
	Language string
}

// Options controls discovery.
type Options struct {
	// Extensions is the allow-list (lower-case, no dot). Nil means DefaultExtensions.
	Extensions  map[string]bool
	MaxFileSize int64
	// ExtraIgnores are gitignore-style patterns added to the root rules.
	ExtraIgnores []string
	// WriteIgnoreFile creates .coderagignore with the defaults when missing.
	WriteIgnoreFile bool
}

// Result is the ordered outcome of a discovery pass.
type Result struct {
	Files    []FileInfo
	Warnings []types.Warning
}

// Discover walks root and returns every indexable file ordered by relative
// path. Skipped candidates are reported as warnings; only a missing root or
// cancellation is an error.
func Discover(ctx context.Context, root string, opts Options) (*Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	// Resolve the root itself so symlink containment checks compare like with like.
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	st, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrInvalidInput, root)
	}

	exts := opts.Extensions
	if exts == nil {
		exts = DefaultExtensions()
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	rules, ignoreErr := loadRootRules(absRoot, opts.ExtraIgnores, opts.WriteIgnoreFile)
	res := &Result{}
	warn := func(rel, msg string) {
		res.Warnings = append(res.Warnings, types.Warning{Path: rel, Kind: types.WarnSkippedFile, Message: msg})
	}
	if ignoreErr != nil {
		warn(IgnoreFileName, ignoreErr.Error())
	}

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, _ := filepath.Rel(absRoot, path)
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			if path != absRoot {
				warn(rel, walkErr.Error())
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == absRoot {
				rules.addGitignore(path, "")
				return nil
			}
			if rules.matches(rel, true) {
				return filepath.SkipDir
			}
			rules.addGitignore(path, rel)
			return nil
		}

		if rules.matches(rel, false) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			warn(rel, err.Error())
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, ok := resolveSymlink(absRoot, path)
			if !ok {
				warn(rel, "symlink is dangling or escapes the root")
				return nil
			}
			info, err = os.Stat(target)
			if err != nil {
				warn(rel, err.Error())
				return nil
			}
			if info.IsDir() {
				warn(rel, "directory symlink not followed")
				return nil
			}
		} else if !info.Mode().IsRegular() {
			return nil
		}

		ext := extOf(path)
		if !exts[ext] || binaryExtensions[ext] {
			return nil
		}

		switch {
		case info.Size() == 0:
			warn(rel, "empty file")
			return nil
		case info.Size() > maxSize:
			warn(rel, fmt.Sprintf("file size %d exceeds limit %d", info.Size(), maxSize))
			return nil
		}

		binary, err := looksBinary(path)
		if err != nil {
			warn(rel, err.Error())
			return nil
		}
		if binary {
			warn(rel, "binary content")
			return nil
		}

		res.Files = append(res.Files, FileInfo{
			Path:     path,
			RelPath:  rel,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: LanguageOf(path),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].RelPath < res.Files[j].RelPath })
	return res, nil
}

// resolveSymlink returns the link target if it exists and lies inside root.
func resolveSymlink(root, path string) (string, bool) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

// looksBinary reports whether the first sniffSize bytes contain a NUL.
// UTF-16 text with a byte-order mark is not considered binary.
func looksBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	buf = buf[:n]
	if hasUTF16BOM(buf) {
		return false, nil
	}
	return bytes.IndexByte(buf, 0) >= 0, nil
}
