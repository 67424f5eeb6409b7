package languages

import (
	"github.com/smacker/go-tree-sitter/javascript"

	"coderag/internal/extractor"
)

// RegisterJavaScript registers the JavaScript extractor on r.
func RegisterJavaScript(r *extractor.Registry) error {
	ts, err := extractor.NewTreeSitter(&extractor.LanguageSpec{
		Language: javascript.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @chunk
			(class_declaration name: (identifier) @name) @chunk
			(method_definition name: (property_identifier) @name) @chunk
			(export_statement (function_declaration name: (identifier) @name)) @chunk
			(export_statement (class_declaration name: (identifier) @name)) @chunk
			(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @chunk
		`,
		ImportQuery: `(import_statement) @import`,
		ClassKinds:  map[string]bool{"class_declaration": true},
		Wrappers:    map[string]string{"export_statement": "declaration"},
		Doc:         precedingComments,
	})
	if err != nil {
		return err
	}
	r.Register("javascript", ts)
	return nil
}
