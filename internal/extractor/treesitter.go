package extractor

import (
	"context"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"coderag/internal/types"
)

// LanguageSpec describes how to pull declarations out of one tree-sitter
// grammar.
type LanguageSpec struct {
	Language *sitter.Language
	// Query captures definitions. It must use @chunk for the outer node and
	// @name for the identifier.
	Query string
	// ImportQuery captures import statements as @import. Optional.
	ImportQuery string
	// ClassKinds are node types reported as classes; every other captured
	// node is a function.
	ClassKinds map[string]bool
	// Wrappers maps a wrapping node type (decorators, export statements) to
	// the field holding the wrapped definition.
	Wrappers map[string]string
	// Doc returns the documentation of a definition node. Optional.
	Doc func(def *sitter.Node, src []byte) string
	// Owner names the type a function belongs to when that is not given by
	// containment, such as a Go method receiver. Optional.
	Owner func(def *sitter.Node, src []byte) string
}

// TreeSitter is an Extractor backed by a tree-sitter grammar.
type TreeSitter struct {
	spec        *LanguageSpec
	query       *sitter.Query
	importQuery *sitter.Query
}

// NewTreeSitter compiles the spec's queries.
func NewTreeSitter(spec *LanguageSpec) (*TreeSitter, error) {
	q, err := sitter.NewQuery([]byte(spec.Query), spec.Language)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	ts := &TreeSitter{spec: spec, query: q}
	if spec.ImportQuery != "" {
		iq, err := sitter.NewQuery([]byte(spec.ImportQuery), spec.Language)
		if err != nil {
			q.Close()
			return nil, fmt.Errorf("compile import query: %w", err)
		}
		ts.importQuery = iq
	}
	return ts, nil
}

type capture struct {
	decl      types.Declaration
	key       string
	startByte uint32
	endByte   uint32
	parentKey string
}

// Extract parses src and returns its declarations ordered by start line.
// Source with syntax errors yields types.ErrParse.
func (t *TreeSitter) Extract(ctx context.Context, src []byte) (*types.Extraction, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(t.spec.Language)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrParse, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("%w: syntax error near line %d", types.ErrParse, firstErrorLine(root))
	}

	caps := t.captures(root, src)
	caps = dropWrapped(caps)
	decls := nest(caps)

	out := &types.Extraction{Declarations: decls}
	if t.importQuery != nil {
		out.Imports = t.imports(root, src)
	}
	return out, nil
}

func (t *TreeSitter) captures(root *sitter.Node, src []byte) []capture {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(t.query, root)

	var caps []capture
	seen := make(map[string]bool)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var chunkNode *sitter.Node
		var name string
		for _, c := range m.Captures {
			switch t.query.CaptureNameForId(c.Index) {
			case "chunk":
				chunkNode = c.Node
			case "name":
				name = c.Node.Content(src)
			}
		}
		if chunkNode == nil {
			continue
		}
		key := nodeKey(chunkNode)
		if seen[key] {
			continue
		}
		seen[key] = true

		def := t.definition(chunkNode)
		kind := types.DeclFunction
		if t.spec.ClassKinds[def.Type()] {
			kind = types.DeclClass
		}
		decl := types.Declaration{
			Kind:      kind,
			Name:      name,
			StartLine: int(chunkNode.StartPoint().Row) + 1,
			EndLine:   endLine(chunkNode),
		}
		if t.spec.Doc != nil {
			decl.Doc = t.spec.Doc(def, src)
		}
		if t.spec.Owner != nil {
			decl.Parent = t.spec.Owner(def, src)
		}
		var parentKey string
		if p := chunkNode.Parent(); p != nil {
			parentKey = nodeKey(p)
		}
		caps = append(caps, capture{
			decl:      decl,
			key:       key,
			startByte: chunkNode.StartByte(),
			endByte:   chunkNode.EndByte(),
			parentKey: parentKey,
		})
	}
	return caps
}

// definition unwraps decorator and export nodes.
func (t *TreeSitter) definition(n *sitter.Node) *sitter.Node {
	field, ok := t.spec.Wrappers[n.Type()]
	if !ok {
		return n
	}
	if inner := n.ChildByFieldName(field); inner != nil {
		return t.definition(inner)
	}
	return n
}

func (t *TreeSitter) imports(root *sitter.Node, src []byte) []types.Import {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(t.importQuery, root)

	var out []types.Import
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			p := c.Node.Parent()
			if p == nil || nodeKey(p) != nodeKey(root) {
				continue
			}
			out = append(out, types.Import{
				Line: int(c.Node.StartPoint().Row) + 1,
				Text: c.Node.Content(src),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

// dropWrapped removes a definition whose direct parent was also captured,
// such as a function under a decorator or an export statement.
func dropWrapped(caps []capture) []capture {
	keys := make(map[string]bool, len(caps))
	for _, c := range caps {
		keys[c.key] = true
	}
	out := caps[:0]
	for _, c := range caps {
		if c.parentKey != "" && keys[c.parentKey] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// nest orders captures, drops declarations nested inside functions and sets
// Parent from the innermost enclosing class.
func nest(caps []capture) []types.Declaration {
	sort.SliceStable(caps, func(i, j int) bool {
		if caps[i].startByte != caps[j].startByte {
			return caps[i].startByte < caps[j].startByte
		}
		return caps[i].endByte > caps[j].endByte
	})

	var stack []capture
	decls := make([]types.Declaration, 0, len(caps))
	for _, c := range caps {
		for len(stack) > 0 && stack[len(stack)-1].endByte <= c.startByte {
			stack = stack[:len(stack)-1]
		}
		insideFunction := false
		var owner string
		for _, s := range stack {
			if s.decl.Kind == types.DeclFunction {
				insideFunction = true
				break
			}
			owner = s.decl.Name
		}
		if insideFunction {
			continue
		}
		if owner != "" {
			c.decl.Parent = owner
		}
		stack = append(stack, c)
		decls = append(decls, c.decl)
	}
	return decls
}

func nodeKey(n *sitter.Node) string {
	return fmt.Sprintf("%s|%d:%d", n.Type(), n.StartByte(), n.EndByte())
}

// endLine returns the 1-based last line of n, not counting a trailing
// newline the node may end on.
func endLine(n *sitter.Node) int {
	start, end := n.StartPoint(), n.EndPoint()
	if end.Column == 0 && end.Row > start.Row {
		return int(end.Row)
	}
	return int(end.Row) + 1
}

func firstErrorLine(n *sitter.Node) int {
	if n.Type() == "ERROR" || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c != nil && c.HasError() {
			return firstErrorLine(c)
		}
	}
	return int(n.StartPoint().Row) + 1
}
