package chunker

import "coderag/internal/types"

// byFunction emits one chunk per function or method, a header chunk for
// classes with methods, whole chunks for classes without any, and the
// module residual.
func (c *Chunker) byFunction(s *source, decls []types.Declaration) []types.Chunk {
	var chunks []types.Chunk
	for i, d := range decls {
		if d.Kind != types.DeclClass {
			chunks = append(chunks, c.declChunks(s, d, span(d.StartLine, d.EndLine))...)
			continue
		}
		children := childrenOf(decls, i)
		if len(children) == 0 {
			chunks = append(chunks, c.declChunks(s, d, span(d.StartLine, d.EndLine))...)
			continue
		}
		header := s.trimBlank(span(d.StartLine, children[0].StartLine-1))
		if len(header) > 0 && s.tokensIn(header) > classHeaderMinTokens {
			chunks = append(chunks, c.declChunks(s, d, header)...)
		}
	}
	return append(chunks, c.residual(s, decls)...)
}

// byClass emits whole top-level classes and functions. Oversized classes are
// split on method boundaries and packed greedily.
func (c *Chunker) byClass(s *source, decls []types.Declaration) []types.Chunk {
	var chunks []types.Chunk
	for _, i := range topLevel(decls) {
		d := decls[i]
		lines := span(d.StartLine, d.EndLine)
		if d.Kind != types.DeclClass || s.tokensIn(lines) <= c.opts.MaxTokens {
			chunks = append(chunks, c.declChunks(s, d, lines)...)
			continue
		}
		chunks = append(chunks, c.packClass(s, d, classSegments(decls, i))...)
	}
	return append(chunks, c.residual(s, decls)...)
}

// packClass groups consecutive segments while they fit; a segment that is
// too big on its own is windowed.
func (c *Chunker) packClass(s *source, d types.Declaration, segments [][]int) []types.Chunk {
	var chunks []types.Chunk
	name := d.QualifiedName()
	part := 0
	add := func(lines []int) {
		part++
		chunks = append(chunks, c.emit(s, types.ChunkClass, partName(name, part), lines))
	}

	var group []int
	flush := func() {
		if len(group) > 0 {
			add(group)
			group = nil
		}
	}
	for _, seg := range segments {
		t := s.tokensIn(seg)
		if t > c.opts.MaxTokens {
			flush()
			for _, w := range c.windows(s, seg) {
				add(w)
			}
			continue
		}
		if s.tokensIn(group)+t > c.opts.MaxTokens {
			flush()
		}
		group = append(group, seg...)
	}
	flush()
	return chunks
}

// contains reports whether a strictly encloses b.
func contains(a, b types.Declaration) bool {
	return a.StartLine <= b.StartLine && b.EndLine <= a.EndLine &&
		(a.StartLine != b.StartLine || a.EndLine != b.EndLine)
}

// childrenOf returns the declarations inside decls[i], in order.
func childrenOf(decls []types.Declaration, i int) []types.Declaration {
	var out []types.Declaration
	for j, d := range decls {
		if j != i && contains(decls[i], d) {
			out = append(out, d)
		}
	}
	return out
}

// topLevel returns the indexes of declarations not enclosed by any other.
func topLevel(decls []types.Declaration) []int {
	var out []int
	for i, d := range decls {
		outer := false
		for j, o := range decls {
			if j != i && contains(o, d) {
				outer = true
				break
			}
		}
		if !outer {
			out = append(out, i)
		}
	}
	return out
}

// classSegments tiles the class at decls[i] into a header followed by one
// segment per direct child, each running up to the next child.
func classSegments(decls []types.Declaration, i int) [][]int {
	class := decls[i]
	var direct []types.Declaration
	for _, d := range childrenOf(decls, i) {
		if len(direct) > 0 && contains(direct[len(direct)-1], d) {
			continue
		}
		direct = append(direct, d)
	}
	if len(direct) == 0 {
		return [][]int{span(class.StartLine, class.EndLine)}
	}

	var segs [][]int
	if direct[0].StartLine > class.StartLine {
		segs = append(segs, span(class.StartLine, direct[0].StartLine-1))
	}
	for k, d := range direct {
		end := class.EndLine
		if k+1 < len(direct) {
			end = direct[k+1].StartLine - 1
		}
		segs = append(segs, span(d.StartLine, end))
	}
	return segs
}
