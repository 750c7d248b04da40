// Package prompt turns a retrieval result and a question into the grounded
// prompt handed to the generator.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pageqa/backend/internal/domain"
)

// Template is the fixed answer instruction. {context} and {input} are the only
// placeholders.
const Template = `You are a helpful assistant. Use only the following context to answer the question.
If the context does not contain the answer, say that you do not know.

<context>
{context}
</context>

Question: {input}
`

// NoContext replaces the context block when no passage was retrieved or none
// fits the budget.
const NoContext = "[no relevant passages found]"

// Delimiter separates chunk blocks inside the context.
const Delimiter = "\n\n---\n\n"

// Assemble concatenates results in rank order until the next block would push
// the context past maxContextChars runes. Chunks are never truncated; a
// maxContextChars of zero or less disables the budget.
func Assemble(question string, results []domain.ScoredChunk, maxContextChars int) domain.Prompt {
	var (
		builder  strings.Builder
		used     int
		chunkIDs []int
	)

	for _, r := range results {
		block := formatChunk(r.Chunk)

		cost := utf8.RuneCountInString(block)
		if len(chunkIDs) > 0 {
			cost += utf8.RuneCountInString(Delimiter)
		}
		if maxContextChars > 0 && used+cost > maxContextChars {
			break
		}

		if len(chunkIDs) > 0 {
			builder.WriteString(Delimiter)
		}
		builder.WriteString(block)
		used += cost
		chunkIDs = append(chunkIDs, r.Chunk.ID)
	}

	p := domain.Prompt{
		Context:  builder.String(),
		Input:    question,
		ChunkIDs: chunkIDs,
	}
	if len(chunkIDs) == 0 {
		p.Context = NoContext
		p.NoContext = true
	}

	p.Text = render(p.Context, p.Input)
	return p
}

func formatChunk(ch domain.Chunk) string {
	return fmt.Sprintf("[chunk %d]\n%s", ch.ID, ch.Text)
}

// render substitutes in a single pass so placeholder text inside the context
// or the question is left alone.
func render(context, input string) string {
	return strings.NewReplacer("{context}", context, "{input}", input).Replace(Template)
}
