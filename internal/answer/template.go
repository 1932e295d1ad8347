package answer

import (
	"fmt"
	"strings"

	"localrag/internal/domain"
)

const (
	// DefaultMaxContexts is how many contexts a template answer lists.
	DefaultMaxContexts = 3

	// NoAnswer is returned when retrieval found nothing.
	NoAnswer = "I don't know based on the given documents."

	intro      = "Answer (from retrieved context):\n\nHere are the most relevant points found in your documents:\n\n"
	disclaimer = "\nNote: This answer is generated without an external LLM, using retrieved context only."
)

// TemplateSynthesizer lists the leading contexts verbatim. It does no ranking
// or summarization of its own.
type TemplateSynthesizer struct {
	maxContexts int
}

// NewTemplateSynthesizer creates a synthesizer listing at most maxContexts
// contexts; a non-positive value uses DefaultMaxContexts.
func NewTemplateSynthesizer(maxContexts int) *TemplateSynthesizer {
	if maxContexts <= 0 {
		maxContexts = DefaultMaxContexts
	}
	return &TemplateSynthesizer{maxContexts: maxContexts}
}

// Synthesize builds the answer text for query from contexts in their given order.
func (s *TemplateSynthesizer) Synthesize(_ string, contexts []domain.Context) string {
	if len(contexts) == 0 {
		return NoAnswer
	}
	var b strings.Builder
	b.WriteString(intro)
	for i, c := range contexts[:min(len(contexts), s.maxContexts)] {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, c.Text)
	}
	b.WriteString(disclaimer)
	return b.String()
}
