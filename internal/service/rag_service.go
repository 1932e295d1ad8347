package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"localrag/internal/domain"
	"localrag/internal/metrics"
)

// DefaultTopK is used when a caller passes a non-positive top_k.
const DefaultTopK = 5

const unknownSource = "unknown"

// recordNamespace scopes the name-based record identifiers.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("localrag/records"))

// IngestResult summarizes an ingestion run.
type IngestResult struct {
	Documents int
	Chunks    int
	Skipped   []string
	Dimension int
}

// Response is a synthesized answer together with the contexts it was built from.
type Response struct {
	Answer   string           `json:"answer"`
	Contexts []domain.Context `json:"contexts"`
}

// RAGServiceImpl wires chunking, embedding, storage and answer synthesis.
type RAGServiceImpl struct {
	chunker     domain.Chunker
	embedder    domain.Embedder
	store       domain.VectorStore
	synthesizer domain.Synthesizer
	topK        int
	logger      *zap.Logger
}

// NewRAGService creates the pipeline. topK <= 0 selects DefaultTopK.
func NewRAGService(
	chunker domain.Chunker,
	embedder domain.Embedder,
	store domain.VectorStore,
	synthesizer domain.Synthesizer,
	topK int,
	logger *zap.Logger,
) *RAGServiceImpl {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RAGServiceImpl{
		chunker:     chunker,
		embedder:    embedder,
		store:       store,
		synthesizer: synthesizer,
		topK:        topK,
		logger:      logger,
	}
}

// Ingest chunks every document, embeds all chunks in one call and upserts
// them as a single batch. Documents without text are skipped and reported.
// Two documents with the same identity key in one batch are rejected.
//
// Re-ingesting a key overwrites its chunks by position. When the new
// version yields fewer chunks the old tail stays searchable until Reset.
func (s *RAGServiceImpl) Ingest(ctx context.Context, docs []domain.Document) (IngestResult, error) {
	var res IngestResult
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		key := d.IdentityKey()
		if _, dup := seen[key]; dup {
			return res, fmt.Errorf("document %q appears more than once: %w", key, domain.ErrInvalidArgument)
		}
		seen[key] = struct{}{}
	}

	var chunks []domain.Chunk
	var keys []string
	for _, d := range docs {
		dc, err := s.chunker.Chunk(d)
		if err != nil {
			return res, fmt.Errorf("chunk %s: %w", d.Source, err)
		}
		if len(dc) == 0 {
			s.logger.Warn("No text extracted, skipping document", zap.String("source", d.Source))
			res.Skipped = append(res.Skipped, d.Source)
			continue
		}
		res.Documents++
		chunks = append(chunks, dc...)
		for range dc {
			keys = append(keys, d.IdentityKey())
		}
	}
	if len(chunks) == 0 {
		return res, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return res, err
	}

	if err := s.store.CreateIndex(ctx, len(vectors[0])); err != nil {
		return res, fmt.Errorf("create index: %w", err)
	}
	records := make([]domain.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = domain.Record{
			ID:       RecordID(keys[i], ch.Index),
			Vector:   vectors[i],
			Metadata: domain.Metadata{Text: ch.Text, Source: ch.Source},
		}
	}
	up, err := s.store.Upsert(ctx, records)
	if err != nil {
		return res, fmt.Errorf("upsert: %w", err)
	}
	res.Chunks = up.Accepted
	res.Dimension = s.store.Stats().Dimension
	metrics.IngestedChunksTotal.Add(float64(up.Accepted))
	s.logger.Info("Documents indexed",
		zap.Int("documents", res.Documents),
		zap.Int("chunks", res.Chunks),
		zap.Int("skipped", len(res.Skipped)),
		zap.String("embedder", s.embedder.Name()))
	return res, nil
}

// IngestFiles reads .txt and .md files (glob patterns allowed) and ingests
// them with their base name as source, keyed by their cleaned path. A file
// matched more than once is read once. Other extensions are ignored.
func (s *RAGServiceImpl) IngestFiles(ctx context.Context, paths []string) (IngestResult, error) {
	var documents []domain.Document
	read := make(map[string]struct{})
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			m = filepath.Clean(m)
			if _, ok := read[m]; ok {
				continue
			}
			read[m] = struct{}{}
			switch strings.ToLower(filepath.Ext(m)) {
			case ".txt", ".md":
			default:
				s.logger.Debug("Unsupported file type, skipping", zap.String("path", m))
				continue
			}
			data, err := os.ReadFile(m)
			if err != nil {
				return IngestResult{}, fmt.Errorf("read %s: %w", m, err)
			}
			documents = append(documents, domain.Document{
				Source:  filepath.Base(m),
				Content: strings.ToValidUTF8(string(data), ""),
				Key:     m,
			})
		}
	}
	if len(documents) == 0 {
		return IngestResult{}, fmt.Errorf("no .txt or .md documents found: %w", domain.ErrInvalidArgument)
	}
	return s.Ingest(ctx, documents)
}

// Retrieve embeds query and returns up to topK contexts ranked by similarity.
// An empty store yields an empty slice.
func (s *RAGServiceImpl) Retrieve(ctx context.Context, query string, topK int) ([]domain.Context, error) {
	if topK <= 0 {
		topK = s.topK
	}
	start := time.Now()
	vectors, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	matches, err := s.store.Search(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	contexts := make([]domain.Context, len(matches))
	for i, m := range matches {
		source := m.Metadata.Source
		if source == "" {
			source = unknownSource
		}
		contexts[i] = domain.Context{Text: m.Metadata.Text, Source: source, Score: m.Score}
	}
	metrics.RetrieveDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug("Retrieved contexts", zap.Int("k", topK), zap.Int("results", len(contexts)))
	return contexts, nil
}

// Answer retrieves contexts for query and synthesizes an answer from them.
func (s *RAGServiceImpl) Answer(ctx context.Context, query string, topK int) (Response, error) {
	contexts, err := s.Retrieve(ctx, query, topK)
	if err != nil {
		return Response{}, err
	}
	return Response{Answer: s.synthesizer.Synthesize(query, contexts), Contexts: contexts}, nil
}

// CreateIndex fixes the store dimension ahead of the first ingestion.
// A store whose dimension is already set keeps it.
func (s *RAGServiceImpl) CreateIndex(ctx context.Context, dimension int) error {
	if err := s.store.CreateIndex(ctx, dimension); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Reset clears the whole store, persisted state included.
func (s *RAGServiceImpl) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	s.logger.Info("Store cleared")
	return nil
}

// Stats reports the store dimension and record count.
func (s *RAGServiceImpl) Stats() domain.IndexStats { return s.store.Stats() }

// embed calls the embedder and checks it returned one vector per text.
// Errors already classified as embedding failures pass through untouched.
func (s *RAGServiceImpl) embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
			domain.ErrEmbeddingFailure, s.embedder.Name(), len(vectors), len(texts))
	}
	return vectors, nil
}

// RecordID derives a stable identifier for chunk index of the document
// identified by key, so that re-ingesting it replaces its chunks instead of
// duplicating them.
func RecordID(key string, index int) string {
	return uuid.NewSHA1(recordNamespace, []byte(key+"#"+strconv.Itoa(index))).String()
}
