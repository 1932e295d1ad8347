package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"localrag/internal/domain"
)

// SentenceChunker splits text into sentence-based chunks with overlap.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
}

// NewSentenceChunker rejects an overlap that would stop the window from advancing.
func NewSentenceChunker(sentencesPerChunk, overlapSentences int) (*SentenceChunker, error) {
	if sentencesPerChunk <= 0 {
		return nil, fmt.Errorf("sentences per chunk must be positive, got %d: %w",
			sentencesPerChunk, domain.ErrInvalidConfiguration)
	}
	if overlapSentences < 0 || overlapSentences >= sentencesPerChunk {
		return nil, fmt.Errorf("overlap sentences must be in [0, %d), got %d: %w",
			sentencesPerChunk, overlapSentences, domain.ErrInvalidConfiguration)
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}, nil
}

// Chunk groups normalized sentences into windows of sentencesPerChunk.
// Text with no sentence terminator becomes a single sentence.
func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	content := Normalize(document.Content)
	if content == "" {
		return nil, nil
	}
	locs := c.splitter.FindAllStringIndex(content, -1)
	sentences := make([]string, 0, len(locs)+1)
	last := 0
	for _, loc := range locs {
		sentences = append(sentences, strings.TrimSpace(content[loc[0]:loc[1]]))
		last = loc[1]
	}
	// unterminated trailing text
	if tail := strings.TrimSpace(content[last:]); tail != "" {
		sentences = append(sentences, tail)
	}
	var chunks []domain.Chunk
	for i, idx := 0, 0; i < len(sentences); idx++ {
		end := min(i+c.sentencesPerChunk, len(sentences))
		chunks = append(chunks, domain.Chunk{
			Source: document.Source,
			Text:   strings.Join(sentences[i:end], " "),
			Index:  idx,
		})
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
	}
	return chunks, nil
}
