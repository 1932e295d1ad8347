package domain

import "context"

// Document represents a single source text handed to ingestion.
type Document struct {
	Source  string
	Content string
	// Key identifies the document for record IDs; empty means Source.
	Key string
}

// IdentityKey returns Key, or Source when Key is empty.
func (d Document) IdentityKey() string {
	if d.Key != "" {
		return d.Key
	}
	return d.Source
}

// Chunk is a bounded window of a document used for indexing.
type Chunk struct {
	Source string
	Text   string
	Index  int
}

// Metadata is the payload stored alongside every vector.
type Metadata struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Record is one stored (identifier, vector, metadata) tuple.
type Record struct {
	ID       string    `json:"id"`
	Vector   []float64 `json:"vector"`
	Metadata Metadata  `json:"metadata"`
}

// SearchMatch is a scored hit produced by a vector store search.
type SearchMatch struct {
	Score    float64
	Metadata Metadata
}

// Context is a ranked passage handed to answer synthesis.
type Context struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// UpsertResult reports how many records an upsert accepted.
type UpsertResult struct {
	Accepted int
}

// IndexStats describes the current state of an index.
// Dimension is zero while the index dimension is unset.
type IndexStats struct {
	Dimension int
	Records   int
}

// Embedder maps texts to fixed-dimension vectors, same length and order as input.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore is a dimension-locked collection of records with exact similarity search.
type VectorStore interface {
	CreateIndex(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, records []Record) (UpsertResult, error)
	Search(ctx context.Context, query []float64, topK int) ([]SearchMatch, error)
	Reset(ctx context.Context) error
	Stats() IndexStats
}

// Synthesizer assembles a user-facing answer from ranked contexts.
type Synthesizer interface {
	Synthesize(query string, contexts []Context) string
}
