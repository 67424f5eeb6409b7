package languages

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"coderag/internal/extractor"
)

// RegisterGo registers the Go extractor on r.
func RegisterGo(r *extractor.Registry) error {
	ts, err := extractor.NewTreeSitter(&extractor.LanguageSpec{
		Language: golang.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @chunk
			(method_declaration name: (field_identifier) @name) @chunk
			(type_declaration (type_spec name: (type_identifier) @name)) @chunk
		`,
		ImportQuery: `(import_declaration) @import`,
		ClassKinds:  map[string]bool{"type_declaration": true},
		Doc:         precedingComments,
		Owner:       goReceiver,
	})
	if err != nil {
		return err
	}
	r.Register("go", ts)
	return nil
}

// goReceiver returns the receiver type name of a method declaration.
func goReceiver(def *sitter.Node, src []byte) string {
	if def.Type() != "method_declaration" {
		return ""
	}
	recv := def.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	return findTypeIdentifier(recv, src)
}

func findTypeIdentifier(n *sitter.Node, src []byte) string {
	if n.Type() == "type_identifier" {
		return n.Content(src)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			if name := findTypeIdentifier(c, src); name != "" {
				return name
			}
		}
	}
	return ""
}

// precedingComments joins the comment lines directly above def.
func precedingComments(def *sitter.Node, src []byte) string {
	var lines []string
	row := def.StartPoint().Row
	for prev := def.PrevNamedSibling(); prev != nil && prev.Type() == "comment"; prev = prev.PrevNamedSibling() {
		if prev.EndPoint().Row+1 != row {
			break
		}
		lines = append([]string{commentText(prev.Content(src))}, lines...)
		row = prev.StartPoint().Row
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func commentText(c string) string {
	switch {
	case strings.HasPrefix(c, "//"):
		return strings.TrimSpace(strings.TrimPrefix(c, "//"))
	case strings.HasPrefix(c, "/*"):
		c = strings.TrimSuffix(strings.TrimPrefix(c, "/*"), "*/")
		c = strings.TrimPrefix(strings.TrimSpace(c), "*")
		return strings.TrimSpace(c)
	}
	return c
}
