package walker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the project-level ignore file read from the root.
const IgnoreFileName = ".coderagignore"

// defaultIgnores are used when no .coderagignore file exists.
var defaultIgnores = []string{
	".git/",
	".svn/",
	".hg/",
	"node_modules/",
	"vendor/",
	"__pycache__/",
	".venv/",
	"venv/",
	".idea/",
	".vscode/",
	".coderag/",
	"dist/",
	"build/",
	"*.min.js",
}

// scopedMatcher applies a .gitignore to paths below its directory.
type scopedMatcher struct {
	dir string // slash-separated, "" for the root
	m   *ignore.GitIgnore
}

type ignoreRules struct {
	scoped []scopedMatcher
}

// loadRootRules reads .coderagignore from the project root. When the file
// does not exist the defaults are used and, if requested, written out. A
// failed write is returned alongside usable rules.
func loadRootRules(root string, extra []string, writeDefault bool) (*ignoreRules, error) {
	ignorePath := filepath.Join(root, IgnoreFileName)

	var writeErr error
	patterns, err := readPatterns(ignorePath)
	if err != nil {
		if writeDefault {
			writeErr = createDefaultIgnoreFile(ignorePath)
		}
		patterns = defaultIgnores
	}
	if len(patterns) == 0 {
		patterns = defaultIgnores
	}
	patterns = append(append([]string{}, patterns...), extra...)

	return &ignoreRules{
		scoped: []scopedMatcher{{dir: "", m: ignore.CompileIgnoreLines(patterns...)}},
	}, writeErr
}

// addGitignore registers the .gitignore found in dir (relative, slash form).
func (r *ignoreRules) addGitignore(absDir, relDir string) {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(absDir, ".gitignore"))
	if err != nil {
		return
	}
	r.scoped = append(r.scoped, scopedMatcher{dir: relDir, m: gi})
}

// matches reports whether relPath (slash form) is ignored by any rule
// scoped to one of its ancestors.
func (r *ignoreRules) matches(relPath string, isDir bool) bool {
	for _, s := range r.scoped {
		p := relPath
		if s.dir != "" {
			if !strings.HasPrefix(relPath, s.dir+"/") {
				continue
			}
			p = strings.TrimPrefix(relPath, s.dir+"/")
		}
		if s.m.MatchesPath(p) {
			return true
		}
		if isDir && s.m.MatchesPath(p+"/") {
			return true
		}
	}
	return false
}

func readPatterns(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

func createDefaultIgnoreFile(file string) error {
	var b strings.Builder
	b.WriteString("# Paths to exclude from indexing (gitignore syntax).\n")
	b.WriteString("# .gitignore files in the tree are honoured as well.\n\n")
	for _, p := range defaultIgnores {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(file, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing default ignore file: %w", err)
	}
	return nil
}
