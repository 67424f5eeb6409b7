// Package languages registers the tree-sitter extractors shipped with
// coderag.
package languages

import (
	"fmt"

	"coderag/internal/extractor"
)

// RegisterAll registers every built-in language on r.
func RegisterAll(r *extractor.Registry) error {
	for name, register := range map[string]func(*extractor.Registry) error{
		"python":     RegisterPython,
		"go":         RegisterGo,
		"javascript": RegisterJavaScript,
		"typescript": RegisterTypeScript,
	} {
		if err := register(r); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

// NewRegistry returns a registry with every built-in language.
func NewRegistry() (*extractor.Registry, error) {
	r := extractor.NewRegistry()
	if err := RegisterAll(r); err != nil {
		return nil, err
	}
	return r, nil
}
