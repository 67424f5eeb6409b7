package walker

import (
	"path/filepath"
	"strings"
)

// languages maps a lower-case extension (without dot) to a language tag.
var languages = map[string]string{
	"py":    "python",
	"pyi":   "python",
	"go":    "go",
	"js":    "javascript",
	"jsx":   "javascript",
	"mjs":   "javascript",
	"cjs":   "javascript",
	"ts":    "typescript",
	"tsx":   "typescript",
	"rs":    "rust",
	"java":  "java",
	"kt":    "kotlin",
	"c":     "c",
	"h":     "c",
	"cpp":   "cpp",
	"cc":    "cpp",
	"hpp":   "cpp",
	"cs":    "csharp",
	"rb":    "ruby",
	"php":   "php",
	"swift": "swift",
	"scala": "scala",
	"sh":    "shell",
	"bash":  "shell",
	"sql":   "sql",
	"md":    "markdown",
	"rst":   "restructuredtext",
	"txt":   "text",
	"json":  "json",
	"yaml":  "yaml",
	"yml":   "yaml",
	"toml":  "toml",
	"html":  "html",
	"css":   "css",
}

// binaryExtensions are never indexed, even when allow-listed.
var binaryExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true, "ico": true, "webp": true,
	"pdf": true, "zip": true, "gz": true, "tgz": true, "bz2": true, "xz": true, "7z": true, "rar": true,
	"jar": true, "war": true, "class": true, "so": true, "dylib": true, "dll": true, "exe": true,
	"o": true, "a": true, "pyc": true, "pyo": true, "wasm": true, "bin": true, "dat": true,
	"db": true, "sqlite": true, "mp3": true, "mp4": true, "mov": true, "avi": true, "wav": true,
	"ttf": true, "otf": true, "woff": true, "woff2": true, "eot": true, "lock": true,
}

// DefaultExtensions returns the default extension allow-list.
func DefaultExtensions() map[string]bool {
	exts := make(map[string]bool, len(languages))
	for ext := range languages {
		exts[ext] = true
	}
	return exts
}

// ExtensionSet builds an allow-list from user input such as ".py" or "go".
func ExtensionSet(list []string) map[string]bool {
	if len(list) == 0 {
		return DefaultExtensions()
	}
	exts := make(map[string]bool, len(list))
	for _, e := range list {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts[e] = true
		}
	}
	return exts
}

// LanguageOf returns the language tag for a path, or "text".
func LanguageOf(path string) string {
	if lang, ok := languages[extOf(path)]; ok {
		return lang
	}
	return "text"
}

func extOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
