package memory

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"go.uber.org/zap"

	"localrag/internal/domain"
	"localrag/internal/vectorstore"
)

// Storage is an in-memory vector index using exact brute-force cosine similarity.
// Once the dimension is set every stored vector has exactly that length.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	records   []domain.Record
	positions map[string]int
	logger    *zap.Logger
}

// NewStorage creates an empty index with the dimension unset.
func NewStorage(logger *zap.Logger) *Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{positions: make(map[string]int), logger: logger}
}

// CreateIndex sets the dimension if it is still unset. Later calls keep the
// first dimension and succeed.
func (s *Storage) CreateIndex(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d: %w", dimension, domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		s.dimension = dimension
		s.logger.Debug("Index dimension set", zap.Int("dimension", dimension))
	}
	return nil
}

// Upsert replaces records with a known ID in place and appends the rest.
// An unset dimension is inferred from the first record. The whole batch is
// validated before anything is applied; NaN and infinite components are
// rejected.
func (s *Storage) Upsert(_ context.Context, records []domain.Record) (domain.UpsertResult, error) {
	if len(records) == 0 {
		return domain.UpsertResult{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	if dim == 0 {
		dim = len(records[0].Vector)
		if dim == 0 {
			return domain.UpsertResult{}, fmt.Errorf("record %q has an empty vector: %w",
				records[0].ID, domain.ErrInvalidArgument)
		}
	}
	for i := range records {
		if records[i].ID == "" {
			return domain.UpsertResult{}, fmt.Errorf("record %d has no id: %w", i, domain.ErrInvalidArgument)
		}
		if len(records[i].Vector) != dim {
			return domain.UpsertResult{}, fmt.Errorf("record %q: %w",
				records[i].ID, domain.NewDimensionMismatch(dim, len(records[i].Vector)))
		}
		if j := nonFinite(records[i].Vector); j >= 0 {
			return domain.UpsertResult{}, fmt.Errorf("record %q: component %d is %v: %w",
				records[i].ID, j, records[i].Vector[j], domain.ErrInvalidArgument)
		}
	}
	s.dimension = dim

	for _, r := range records {
		r.Vector = slices.Clone(r.Vector)
		if pos, ok := s.positions[r.ID]; ok {
			s.records[pos] = r
			continue
		}
		s.positions[r.ID] = len(s.records)
		s.records = append(s.records, r)
	}
	s.logger.Debug("Upserted records", zap.Int("count", len(records)), zap.Int("total", len(s.records)))
	return domain.UpsertResult{Accepted: len(records)}, nil
}

// Search returns at most topK matches ordered by descending cosine similarity.
// Equal scores keep insertion order.
func (s *Storage) Search(_ context.Context, query []float64, topK int) ([]domain.SearchMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return []domain.SearchMatch{}, nil
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d: %w", topK, domain.ErrInvalidArgument)
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("search query: %w", domain.NewDimensionMismatch(s.dimension, len(query)))
	}

	scored := make([]domain.SearchMatch, len(s.records))
	for i := range s.records {
		scored[i] = domain.SearchMatch{
			Score:    vectorstore.Cosine(query, s.records[i].Vector),
			Metadata: s.records[i].Metadata,
		}
	}
	slices.SortStableFunc(scored, func(a, b domain.SearchMatch) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if topK < len(scored) {
		scored = scored[:topK]
	}
	s.logger.Debug("Search completed", zap.Int("k", topK), zap.Int("results", len(scored)))
	return scored, nil
}

// Reset drops every record and unsets the dimension.
func (s *Storage) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = 0
	s.records = nil
	s.positions = make(map[string]int)
	return nil
}

// Stats reports the dimension (0 while unset) and record count.
func (s *Storage) Stats() domain.IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IndexStats{Dimension: s.dimension, Records: len(s.records)}
}

// Snapshot returns the dimension and an ordered copy of the record list.
func (s *Storage) Snapshot() (int, []domain.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension, slices.Clone(s.records)
}

// Restore replaces the index contents. It rejects records that break the
// dimension invariant or repeat an ID, leaving the index untouched.
func (s *Storage) Restore(dimension int, records []domain.Record) error {
	if dimension < 0 {
		return fmt.Errorf("negative dimension %d: %w", dimension, domain.ErrInvalidArgument)
	}
	if dimension == 0 && len(records) > 0 {
		return fmt.Errorf("%d records without a dimension: %w", len(records), domain.ErrInvalidArgument)
	}
	positions := make(map[string]int, len(records))
	for i, r := range records {
		if len(r.Vector) != dimension {
			return fmt.Errorf("record %q: %w", r.ID, domain.NewDimensionMismatch(dimension, len(r.Vector)))
		}
		if _, dup := positions[r.ID]; dup || r.ID == "" {
			return fmt.Errorf("record %d has a missing or duplicate id %q: %w", i, r.ID, domain.ErrInvalidArgument)
		}
		positions[r.ID] = i
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.records = slices.Clone(records)
	s.positions = positions
	return nil
}

// nonFinite returns the position of the first NaN or infinite component, or -1.
func nonFinite(vec []float64) int {
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

// Close is a no-op; the index lives only in memory.
func (s *Storage) Close() error { return nil }

var _ vectorstore.Storage = (*Storage)(nil)
