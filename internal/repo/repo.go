// Package repo fetches remote repositories for indexing and derives
// collection names from them.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"coderag/internal/walker"
)

// DefaultDepth is the clone depth used when none is given.
const DefaultDepth = 1

const (
	minNameLen = 3
	maxNameLen = 63
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Clone makes a shallow single-branch clone of url at dest. When dest is
// already a checkout it is updated with a fast-forward pull instead; a
// failed pull leaves the existing checkout in place.
func Clone(ctx context.Context, url, dest string, depth int, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if url == "" || dest == "" {
		return errors.New("clone: url and destination are required")
	}
	if depth <= 0 {
		depth = DefaultDepth
	}

	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		log.Info("repository already cloned, pulling", zap.String("path", dest))
		if out, err := git(ctx, dest, "pull", "--ff-only"); err != nil {
			log.Warn("pull failed, using existing checkout", zap.String("path", dest), zap.String("output", out), zap.Error(err))
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create clone dir: %w", err)
	}
	log.Info("cloning", zap.String("url", url), zap.String("path", dest), zap.Int("depth", depth))
	out, err := git(ctx, "", "clone", "--depth", fmt.Sprint(depth), "--single-branch", url, dest)
	if err != nil {
		return fmt.Errorf("clone %s: %w: %s", url, err, out)
	}
	return nil
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}

// NameFromURL returns the repository name at the end of a clone URL.
func NameFromURL(url string) string {
	u := strings.TrimRight(url, "/")
	u = strings.TrimSuffix(u, ".git")
	if i := strings.LastIndexAny(u, "/:"); i >= 0 {
		u = u[i+1:]
	}
	return u
}

// SanitizeCollectionName maps name onto the characters every index backend
// accepts: letters, digits, '_' and '-', between 3 and 63 characters long.
func SanitizeCollectionName(name string) string {
	s := unsafeName.ReplaceAllString(name, "_")
	if len(s) < minNameLen {
		s += "_col"
	}
	if len(s) > maxNameLen {
		s = s[:maxNameLen]
	}
	return s
}

// Info describes a checked-out repository.
type Info struct {
	Name        string
	Path        string
	Description string
	// Language is the most common source language, or "" if none.
	Language string
}

// Describe reads the README headline and dominant language of the tree at
// root.
func Describe(ctx context.Context, root string) (*Info, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info := &Info{Name: filepath.Base(abs), Path: abs}

	for _, name := range []string{"README.md", "README.rst", "README.txt", "readme.md"} {
		data, err := os.ReadFile(filepath.Join(abs, name))
		if err != nil {
			continue
		}
		info.Description = headline(string(data))
		break
	}

	found, err := walker.Discover(ctx, abs, walker.Options{})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, f := range found.Files {
		counts[f.Language]++
	}
	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	if len(langs) > 0 {
		info.Language = langs[0]
	}
	return info, nil
}

func headline(readme string) string {
	for _, line := range strings.Split(readme, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return ""
}
