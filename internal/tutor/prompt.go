package tutor

import (
	"fmt"
	"strings"

	"github.com/54b3r/tutor-go/internal/rag"
)

// systemPrompt is the fixed persona placed first in every prompt.
const systemPrompt = `You are a patient virtual tutor. Explain concepts clearly and step by step,
adapting the depth of your answer to the learner's question.

When earlier conversation turns or excerpts from course documents are included
before the question, use them to inform your answer. Prefer the document
excerpts over general knowledge when they are relevant, and say so when the
excerpts do not cover the question. Never invent citations.`

// contextHeader introduces the retrieved passages.
const contextHeader = "Excerpts from the course documents, most relevant first:"

// formatPassage renders one retrieved chunk with its attribution.
func formatPassage(n int, h rag.Hit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] Source: %s", n, h.Chunk.SourceID)
	if h.Chunk.Page > 0 {
		fmt.Fprintf(&sb, ", page %d", h.Chunk.Page)
	}
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(h.Chunk.Text))
	return sb.String()
}

// buildContext joins formatted passages under the context header.
func buildContext(passages []string) string {
	return contextHeader + "\n\n" + strings.Join(passages, "\n\n")
}

// distinctSources returns the SourceIDs of hits in order of first appearance.
func distinctSources(hits []rag.Hit) []string {
	seen := make(map[string]struct{}, len(hits))
	var out []string
	for _, h := range hits {
		if _, ok := seen[h.Chunk.SourceID]; ok {
			continue
		}
		seen[h.Chunk.SourceID] = struct{}{}
		out = append(out, h.Chunk.SourceID)
	}
	return out
}
