package query

import (
	"fmt"
	"strings"

	"coderag/internal/llm"
	"coderag/internal/tokens"
	"coderag/internal/types"
)

const systemPrompt = `You are a code intelligence assistant. You answer questions about a codebase using the retrieved source code context provided below.

Focus on answering how, why, and where questions about the code. Explain architecture, data flow, and relationships between components. Reference specific file paths and line numbers when relevant.

Do not generate new code unless explicitly asked. Keep answers concise and grounded in the provided context. If the context doesn't contain enough information to answer, say so.`

// Header renders the provenance line of a context block.
func Header(i int, m types.Match) string {
	c := m.Chunk
	name := c.Name
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("### [%d] %s (lines %d-%d, type: %s, name: %s, similarity: %.3f)",
		i, c.FilePath, c.StartLine, c.EndLine, c.Kind, name, m.Score)
}

func block(i int, m types.Match, content string) string {
	var b strings.Builder
	b.WriteString(Header(i, m))
	b.WriteString("\n```")
	b.WriteString(m.Chunk.Language)
	b.WriteString("\n")
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")
	return b.String()
}

// BuildContext concatenates results in descending score order until the
// next block would push the total past maxTokens. A first block that alone
// exceeds the budget is truncated to fit, header included when the header
// alone is over budget.
func BuildContext(results types.QueryResult, maxTokens int) string {
	if len(results) == 0 || maxTokens <= 0 {
		return ""
	}

	var b strings.Builder
	used := 0
	for i, m := range results {
		blk := block(i+1, m, m.Chunk.Content)
		n := tokens.Count(blk)
		if used+n > maxTokens {
			if i > 0 {
				break
			}
			frame := tokens.Count(block(1, m, ""))
			if frame >= maxTokens {
				b.WriteString(tokens.Truncate(blk, maxTokens))
			} else {
				b.WriteString(block(1, m, tokens.Truncate(m.Chunk.Content, maxTokens-frame)))
			}
			break
		}
		b.WriteString(blk)
		used += n
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// BuildMessages constructs the message list for the LLM from assembled
// context, conversation history, and the current question.
func BuildMessages(contextBlock string, history []llm.Message, question string) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: systemPrompt}}

	if contextBlock != "" {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: "Here is the relevant source code context:\n\n" + contextBlock},
			llm.Message{Role: "assistant", Content: "I've reviewed the code context. What would you like to know?"},
		)
	}

	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: question})
	return msgs
}
