// Package chunker splits decoded source files into retrievable chunks.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"coderag/internal/tokens"
	"coderag/internal/types"
)

const (
	// DefaultMaxTokens is the chunk size used when none is configured.
	DefaultMaxTokens = 1000

	// classHeaderMinTokens is the size a class header must exceed to get a
	// chunk of its own under the function strategy.
	classHeaderMinTokens = 8
)

// chunkNamespace seeds deterministic chunk IDs.
var chunkNamespace = uuid.MustParse("6f1c2b9e-4d3a-5e8f-9a7b-0c1d2e3f4a5b")

// Options configures a Chunker.
type Options struct {
	Strategy  types.Strategy
	MaxTokens int
	// Overlap is the token budget re-included between sliding windows.
	// Zero selects 10% of MaxTokens; a negative value disables overlap.
	Overlap    int
	Collection string
}

// Fingerprint identifies the settings that shape chunk output.
func (o Options) Fingerprint() string {
	return fmt.Sprintf("%s/%d/%d", o.Strategy, o.MaxTokens, o.Overlap)
}

// Chunker turns a file and its extraction into chunks.
type Chunker struct {
	opts Options
}

// New validates opts and fills defaults.
func New(opts Options) (*Chunker, error) {
	if opts.Strategy == "" {
		opts.Strategy = types.StrategyFunction
	}
	if _, err := types.ParseStrategy(string(opts.Strategy)); err != nil {
		return nil, err
	}
	if opts.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", types.ErrInvalidInput, opts.MaxTokens)
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	switch {
	case opts.Overlap == 0:
		opts.Overlap = opts.MaxTokens / 10
	case opts.Overlap < 0:
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.MaxTokens {
		return nil, fmt.Errorf("%w: overlap %d must be below max tokens %d", types.ErrInvalidInput, opts.Overlap, opts.MaxTokens)
	}
	return &Chunker{opts: opts}, nil
}

// Options returns the effective options.
func (c *Chunker) Options() Options { return c.opts }

// Chunk splits file into chunks ordered by line. A nil or empty extraction
// makes structural strategies fall back to file or sliding chunking.
func (c *Chunker) Chunk(file types.SourceFile, ex *types.Extraction) []types.Chunk {
	s := newSource(file)
	if s.blank() {
		return nil
	}

	var chunks []types.Chunk
	switch {
	case c.opts.Strategy == types.StrategySliding:
		chunks = c.sliding(s, s.all(), types.ChunkWindow)
	case c.opts.Strategy == types.StrategyFile || ex.Empty():
		chunks = c.whole(s)
	case c.opts.Strategy == types.StrategyClass:
		chunks = c.byClass(s, sortedDecls(ex.Declarations, s.n()))
	default:
		chunks = c.byFunction(s, sortedDecls(ex.Declarations, s.n()))
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].StartLine != chunks[j].StartLine {
			return chunks[i].StartLine < chunks[j].StartLine
		}
		return chunks[i].EndLine < chunks[j].EndLine
	})

	ordinal := 0
	for i := range chunks {
		if chunks[i].Name == "" {
			ordinal++
			chunks[i].Name = s.stem + "#" + strconv.Itoa(ordinal)
		}
		chunks[i].ID = chunkID(file.Path, chunks[i], c.opts.Strategy)
	}
	return chunks
}

// whole emits the file as one chunk, or sliding windows when it is too big.
func (c *Chunker) whole(s *source) []types.Chunk {
	all := s.all()
	if s.tokensIn(all) <= c.opts.MaxTokens {
		return []types.Chunk{c.emit(s, types.ChunkFile, "", all)}
	}
	return c.sliding(s, all, types.ChunkWindow)
}

func (c *Chunker) sliding(s *source, lineNos []int, kind types.ChunkKind) []types.Chunk {
	var chunks []types.Chunk
	for _, w := range c.windows(s, lineNos) {
		chunks = append(chunks, c.emit(s, kind, "", w))
	}
	return chunks
}

// declChunks emits a declaration as one chunk, or as numbered windows over
// its lines when it exceeds the limit.
func (c *Chunker) declChunks(s *source, d types.Declaration, lineNos []int) []types.Chunk {
	kind := chunkKind(d.Kind)
	name := d.QualifiedName()
	if s.tokensIn(lineNos) <= c.opts.MaxTokens {
		return []types.Chunk{c.emit(s, kind, name, lineNos)}
	}
	var chunks []types.Chunk
	for i, w := range c.windows(s, lineNos) {
		chunks = append(chunks, c.emit(s, kind, partName(name, i+1), w))
	}
	return chunks
}

// residual emits the non-blank lines outside every declaration (imports,
// constants, top-level statements) as module chunks.
func (c *Chunker) residual(s *source, decls []types.Declaration) []types.Chunk {
	covered := make([]bool, s.n()+1)
	for _, d := range decls {
		for l := d.StartLine; l <= d.EndLine; l++ {
			covered[l] = true
		}
	}
	var lineNos []int
	for l := 1; l <= s.n(); l++ {
		if !covered[l] && strings.TrimSpace(s.lines[l-1]) != "" {
			lineNos = append(lineNos, l)
		}
	}
	if len(lineNos) == 0 {
		return nil
	}
	if s.tokensIn(lineNos) <= c.opts.MaxTokens {
		return []types.Chunk{c.emit(s, types.ChunkModule, "", lineNos)}
	}
	return c.sliding(s, lineNos, types.ChunkModule)
}

func (c *Chunker) emit(s *source, kind types.ChunkKind, name string, lineNos []int) types.Chunk {
	content := s.text(lineNos)
	sum := sha256.Sum256([]byte(content))
	return types.Chunk{
		Collection:  c.opts.Collection,
		FilePath:    s.file.Path,
		Language:    s.file.Language,
		Kind:        kind,
		Name:        name,
		StartLine:   lineNos[0],
		EndLine:     lineNos[len(lineNos)-1],
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
		Strategy:    c.opts.Strategy,
		Tokens:      tokens.Count(content),
	}
}

// chunkID derives a stable identifier from the chunk's position, so
// re-indexing unchanged content overwrites rather than duplicates.
func chunkID(filePath string, ch types.Chunk, strategy types.Strategy) string {
	seed := fmt.Sprintf("%s:%d-%d:%s:%s", filePath, ch.StartLine, ch.EndLine, strategy, ch.Kind)
	return uuid.NewSHA1(chunkNamespace, []byte(seed)).String()
}

func chunkKind(k types.DeclKind) types.ChunkKind {
	switch k {
	case types.DeclClass:
		return types.ChunkClass
	case types.DeclModule:
		return types.ChunkModule
	default:
		return types.ChunkFunction
	}
}

func partName(name string, part int) string {
	if name == "" {
		return ""
	}
	return name + "#" + strconv.Itoa(part)
}

// sortedDecls drops declarations with unusable ranges and orders the rest by
// start line, outer declarations first.
func sortedDecls(decls []types.Declaration, n int) []types.Declaration {
	out := make([]types.Declaration, 0, len(decls))
	for _, d := range decls {
		if d.StartLine < 1 || d.StartLine > n || d.EndLine < d.StartLine {
			continue
		}
		if d.EndLine > n {
			d.EndLine = n
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartLine != out[j].StartLine {
			return out[i].StartLine < out[j].StartLine
		}
		return out[i].EndLine > out[j].EndLine
	})
	return out
}

// source is a file split into lines with per-line token counts.
type source struct {
	file  types.SourceFile
	lines []string
	tok   []int
	stem  string
}

func newSource(f types.SourceFile) *source {
	text := strings.TrimSuffix(f.Text, "\n")
	lines := strings.Split(text, "\n")
	tok := make([]int, len(lines))
	for i, l := range lines {
		tok[i] = tokens.Count(l)
	}
	base := path.Base(f.Path)
	return &source{
		file:  f,
		lines: lines,
		tok:   tok,
		stem:  strings.TrimSuffix(base, path.Ext(base)),
	}
}

func (s *source) n() int { return len(s.lines) }

func (s *source) blank() bool { return strings.TrimSpace(s.file.Text) == "" }

func (s *source) all() []int { return span(1, s.n()) }

func (s *source) tokensIn(lineNos []int) int {
	n := 0
	for _, l := range lineNos {
		n += s.tok[l-1]
	}
	return n
}

func (s *source) text(lineNos []int) string {
	parts := make([]string, len(lineNos))
	for i, l := range lineNos {
		parts[i] = s.lines[l-1]
	}
	return strings.Join(parts, "\n")
}

// trimBlank drops leading and trailing blank lines.
func (s *source) trimBlank(lineNos []int) []int {
	for len(lineNos) > 0 && strings.TrimSpace(s.lines[lineNos[0]-1]) == "" {
		lineNos = lineNos[1:]
	}
	for len(lineNos) > 0 && strings.TrimSpace(s.lines[lineNos[len(lineNos)-1]-1]) == "" {
		lineNos = lineNos[:len(lineNos)-1]
	}
	return lineNos
}

func span(from, to int) []int {
	if to < from {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for l := from; l <= to; l++ {
		out = append(out, l)
	}
	return out
}
