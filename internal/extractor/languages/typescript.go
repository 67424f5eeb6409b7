package languages

import (
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"coderag/internal/extractor"
)

// RegisterTypeScript registers the TypeScript and TSX extractors on r.
func RegisterTypeScript(r *extractor.Registry) error {
	ts, err := extractor.NewTreeSitter(&extractor.LanguageSpec{
		Language: typescript.GetLanguage(),
		Query: `
			(function_declaration name: (identifier) @name) @chunk
			(class_declaration name: (type_identifier) @name) @chunk
			(method_definition name: (property_identifier) @name) @chunk
			(export_statement (function_declaration name: (identifier) @name)) @chunk
			(export_statement (class_declaration name: (type_identifier) @name)) @chunk
			(lexical_declaration (variable_declarator name: (identifier) @name value: (arrow_function))) @chunk
			(interface_declaration name: (type_identifier) @name) @chunk
			(type_alias_declaration name: (type_identifier) @name) @chunk
		`,
		ImportQuery: `(import_statement) @import`,
		ClassKinds: map[string]bool{
			"class_declaration":      true,
			"interface_declaration":  true,
			"type_alias_declaration": true,
		},
		Wrappers: map[string]string{"export_statement": "declaration"},
		Doc:      precedingComments,
	})
	if err != nil {
		return err
	}
	r.Register("typescript", ts)
	return nil
}
