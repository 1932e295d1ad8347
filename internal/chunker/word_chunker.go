package chunker

import (
	"fmt"
	"strings"

	"localrag/internal/domain"
)

const (
	// DefaultChunkSize is the number of words per chunk.
	DefaultChunkSize = 250
	// DefaultOverlap is the number of words shared by consecutive chunks.
	DefaultOverlap = 50
)

// Normalize collapses whitespace runs, newlines included, into single spaces
// and trims both ends.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// Split cuts text into windows of chunkSize words, advancing by
// chunkSize-overlap words each step. The last window holds the tail.
func Split(text string, chunkSize, overlap int) ([]string, error) {
	if err := validateWindow(chunkSize, overlap); err != nil {
		return nil, err
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}
	stride := chunkSize - overlap
	chunks := make([]string, 0, (len(words)+stride-1)/stride)
	for start := 0; start < len(words); start += stride {
		end := min(start+chunkSize, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks, nil
}

func validateWindow(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d: %w", size, domain.ErrInvalidConfiguration)
	}
	if overlap < 0 {
		return fmt.Errorf("overlap must not be negative, got %d: %w", overlap, domain.ErrInvalidConfiguration)
	}
	if overlap >= size {
		return fmt.Errorf("overlap %d must be smaller than chunk size %d: %w", overlap, size, domain.ErrInvalidConfiguration)
	}
	return nil
}

// WordChunker splits documents into overlapping fixed-size word windows.
type WordChunker struct {
	chunkSize int
	overlap   int
}

// NewWordChunker validates the window settings up front so Chunk cannot loop forever.
func NewWordChunker(chunkSize, overlap int) (*WordChunker, error) {
	if err := validateWindow(chunkSize, overlap); err != nil {
		return nil, err
	}
	return &WordChunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Chunk normalizes the document text and splits it into word windows.
func (c *WordChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	texts, err := Split(Normalize(document.Content), c.chunkSize, c.overlap)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{Source: document.Source, Text: text, Index: i}
	}
	return chunks, nil
}
