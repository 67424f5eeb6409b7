package store

import (
	"strings"
	"unicode/utf8"

	"coderag/internal/types"
)

// chunkColumns lists the chunk fields read back by searches, in scan order.
const chunkColumns = "id, path, language, kind, name, start_line, end_line, content, content_hash, strategy, tokens"

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner, collection string, extra ...any) (types.Chunk, error) {
	var c types.Chunk
	var kind, strategy string
	dest := []any{
		&c.ID, &c.FilePath, &c.Language, &kind, &c.Name,
		&c.StartLine, &c.EndLine, &c.Content, &c.ContentHash, &strategy, &c.Tokens,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return types.Chunk{}, err
	}
	c.Collection = collection
	c.Kind = types.ChunkKind(kind)
	c.Strategy = types.Strategy(strategy)
	return c, nil
}

// filterSQL renders f as AND-ed predicates with their arguments.
func filterSQL(f types.Filter) (string, []any) {
	var b strings.Builder
	var args []any
	if f.FilePath != "" {
		b.WriteString(" AND path = ?")
		args = append(args, f.FilePath)
	}
	if f.PathPrefix != "" {
		b.WriteString(" AND substr(path, 1, ?) = ?")
		args = append(args, utf8.RuneCountInString(f.PathPrefix), f.PathPrefix)
	}
	if f.Kind != "" {
		b.WriteString(" AND kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Language != "" {
		b.WriteString(" AND language = ?")
		args = append(args, f.Language)
	}
	if f.Name != "" {
		b.WriteString(" AND name = ?")
		args = append(args, f.Name)
	}
	return b.String(), args
}
