package languages

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"coderag/internal/extractor"
)

// RegisterPython registers the Python extractor on r.
func RegisterPython(r *extractor.Registry) error {
	ts, err := extractor.NewTreeSitter(&extractor.LanguageSpec{
		Language: python.GetLanguage(),
		Query: `
			(function_definition name: (identifier) @name) @chunk
			(class_definition name: (identifier) @name) @chunk
			(decorated_definition definition: (function_definition name: (identifier) @name)) @chunk
			(decorated_definition definition: (class_definition name: (identifier) @name)) @chunk
		`,
		ImportQuery: `
			(import_statement) @import
			(import_from_statement) @import
			(future_import_statement) @import
		`,
		ClassKinds: map[string]bool{"class_definition": true},
		Wrappers:   map[string]string{"decorated_definition": "definition"},
		Doc:        pythonDocstring,
	})
	if err != nil {
		return err
	}
	r.Register("python", ts)
	return nil
}

// pythonDocstring returns the string literal opening a function or class body.
func pythonDocstring(def *sitter.Node, src []byte) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first == nil || first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	lit := first.NamedChild(0)
	if lit == nil || lit.Type() != "string" {
		return ""
	}
	return cleanDocstring(lit.Content(src))
}

func cleanDocstring(s string) string {
	s = strings.TrimLeft(s, "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			s = s[len(q) : len(s)-len(q)]
			break
		}
	}
	return strings.TrimSpace(s)
}
