package chunker

// windows packs lineNos into line-aligned windows of at most MaxTokens.
// Each window after the first starts at the earliest line of the previous
// window whose suffix holds no more than Overlap tokens, and always reaches
// at least one line further than its predecessor. A single line over the
// limit forms a window by itself.
func (c *Chunker) windows(s *source, lineNos []int) [][]int {
	if len(lineNos) == 0 {
		return nil
	}
	maxTok, overlap := c.opts.MaxTokens, c.opts.Overlap
	cost := func(i int) int { return s.tok[lineNos[i]-1] }

	var out [][]int
	start := 0
	for {
		end, sum := start, cost(start)
		for end+1 < len(lineNos) && sum+cost(end+1) <= maxTok {
			end++
			sum += cost(end)
		}
		out = append(out, lineNos[start:end+1])
		if end == len(lineNos)-1 {
			return out
		}

		next, carried := end+1, 0
		for i := end; i > start; i-- {
			if carried+cost(i) > overlap {
				break
			}
			carried += cost(i)
			next = i
		}
		for next <= end && carried+cost(end+1) > maxTok {
			carried -= cost(next)
			next++
		}
		start = next
	}
}
