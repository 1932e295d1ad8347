// Package local implements a file-backed vector store. The whole index lives
// in memory and is rewritten to a single JSON artifact, <dir>/<index>.json,
// after every mutation.
//
// An artifact that exists but cannot be read or decoded does not fail Open:
// the store starts empty and reports the condition through Recovery, a
// warning log entry and the store_recoveries_total metric.
//
// Only one writer per named index is supported. With Config.Lock set, Open
// takes an exclusive advisory lock on <dir>/<index>.lock and a second Open of
// the same index fails with domain.ErrIndexLocked until Close.
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"localrag/internal/domain"
	"localrag/internal/metrics"
	"localrag/internal/vectorstore"
	"localrag/internal/vectorstore/memory"
)

const (
	// DefaultDir is the directory dedicated to local indexes.
	DefaultDir = "local_db"
	// DefaultIndex is the index name used when none is configured.
	DefaultIndex = "docs_index"
)

// Config configures a local store.
type Config struct {
	Dir    string
	Index  string
	Lock   bool
	Logger *zap.Logger
}

// Recovery describes what happened while loading the artifact.
type Recovery struct {
	// Recovered is true when an existing artifact was discarded.
	Recovered bool
	Path      string
	Err       error
}

// Storage is a persistent, dimension-locked vector index.
type Storage struct {
	mu       sync.Mutex
	index    *memory.Storage
	name     string
	dir      string
	path     string
	recovery Recovery
	unlock   func() error
	logger   *zap.Logger
}

type artifact struct {
	Dimension *int            `json:"dimension"`
	Items     []domain.Record `json:"items"`
}

// Open creates the index directory if needed and loads the named index.
func Open(cfg Config) (*Storage, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if strings.ContainsAny(cfg.Index, `/\`) || cfg.Index == "." || cfg.Index == ".." {
		return nil, fmt.Errorf("index name %q is not a plain file name: %w", cfg.Index, domain.ErrInvalidConfiguration)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("index", cfg.Index))

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, &domain.StorageError{Op: "mkdir", Path: cfg.Dir, Err: err}
	}

	s := &Storage{
		index:  memory.NewStorage(logger),
		name:   cfg.Index,
		dir:    cfg.Dir,
		path:   filepath.Join(cfg.Dir, cfg.Index+".json"),
		logger: logger,
	}
	if cfg.Lock {
		unlock, err := lockFile(filepath.Join(cfg.Dir, cfg.Index+".lock"))
		if err != nil {
			return nil, err
		}
		s.unlock = unlock
	}

	s.load()
	metrics.StoreRecords.WithLabelValues(s.name).Set(float64(s.index.Stats().Records))
	return s, nil
}

func (s *Storage) load() {
	s.recovery = Recovery{Path: s.path}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err == nil {
		err = s.decode(data)
	}
	if err != nil {
		s.recovery.Recovered = true
		s.recovery.Err = err
		_ = s.index.Reset(context.Background())
		metrics.StoreRecoveriesTotal.WithLabelValues(s.name).Inc()
		s.logger.Warn("Index artifact unreadable, starting with an empty index",
			zap.String("path", s.path), zap.Error(err))
		return
	}
	stats := s.index.Stats()
	s.logger.Info("Index loaded",
		zap.String("path", s.path),
		zap.Int("dimension", stats.Dimension),
		zap.Int("records", stats.Records))
}

func (s *Storage) decode(data []byte) error {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	dim := 0
	if a.Dimension != nil {
		dim = *a.Dimension
	}
	if err := s.index.Restore(dim, a.Items); err != nil {
		return fmt.Errorf("restore %s: %w", s.path, err)
	}
	return nil
}

// CreateIndex sets the dimension if unset and persists it. Later calls are no-ops.
func (s *Storage) CreateIndex(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.index.Stats().Dimension
	if err := s.index.CreateIndex(ctx, dimension); err != nil {
		s.countOp("create_index", err)
		return err
	}
	if before != 0 {
		s.countOp("create_index", nil)
		return nil
	}
	err := s.persist()
	s.countOp("create_index", err)
	if err != nil {
		return err
	}
	s.logger.Info("Index created", zap.Int("dimension", dimension))
	return nil
}

// Upsert applies the batch in memory, then rewrites the artifact once.
// A write error is returned even though the in-memory index already changed.
func (s *Storage) Upsert(ctx context.Context, records []domain.Record) (domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.index.Upsert(ctx, records)
	if err != nil || res.Accepted == 0 {
		s.countOp("upsert", err)
		return res, err
	}
	err = s.persist()
	s.countOp("upsert", err)
	if err != nil {
		return res, err
	}
	return res, nil
}

// Search runs an exact top-k cosine search over the in-memory index.
func (s *Storage) Search(ctx context.Context, query []float64, topK int) ([]domain.SearchMatch, error) {
	matches, err := s.index.Search(ctx, query, topK)
	s.countOp("search", err)
	return matches, err
}

// Reset empties the index and deletes its artifact.
func (s *Storage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.index.Reset(ctx)
	metrics.StoreRecords.WithLabelValues(s.name).Set(0)
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		err = &domain.StorageError{Op: "remove", Path: s.path, Err: err}
		s.countOp("reset", err)
		return err
	}
	s.countOp("reset", nil)
	s.logger.Info("Index reset", zap.String("path", s.path))
	return nil
}

// Stats reports the dimension (0 while unset) and record count.
func (s *Storage) Stats() domain.IndexStats { return s.index.Stats() }

// Recovery reports whether Open discarded an unreadable artifact.
func (s *Storage) Recovery() Recovery { return s.recovery }

// Path returns the artifact location.
func (s *Storage) Path() string { return s.path }

// Close releases the index lock, if held.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlock == nil {
		return nil
	}
	err := s.unlock()
	s.unlock = nil
	return err
}

func (s *Storage) persist() error {
	start := time.Now()
	dim, records := s.index.Snapshot()
	a := artifact{Items: records}
	if a.Items == nil {
		a.Items = []domain.Record{}
	}
	if dim > 0 {
		a.Dimension = &dim
	}
	if err := writeFileAtomic(s.path, func(w *bufio.Writer) error {
		return json.NewEncoder(w).Encode(a)
	}); err != nil {
		return &domain.StorageError{Op: "write", Path: s.path, Err: err}
	}
	metrics.StorePersistDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	metrics.StoreRecords.WithLabelValues(s.name).Set(float64(len(records)))
	s.logger.Debug("Index persisted", zap.Int("records", len(records)), zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Storage) countOp(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.StoreOperationsTotal.WithLabelValues(s.name, op, status).Inc()
}

// writeFileAtomic writes to a temp file in the target directory and renames it
// over the target, so readers never observe a partial artifact.
func writeFileAtomic(filename string, write func(*bufio.Writer) error) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()
	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := write(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}
	tmpName = ""

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

var _ vectorstore.Storage = (*Storage)(nil)
