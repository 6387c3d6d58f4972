// Package ingestion coordinates what happens to processed chunks: durable
// append to the chunk store, embedding upsert into the dense index when one
// is configured, and extension of the in-memory sparse index.
package ingestion

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/amoshnin/documind/document"
	"github.com/amoshnin/documind/retrieval"
	"github.com/amoshnin/documind/store"
)

type Service struct {
	store  *store.Store
	dense  *retrieval.DenseIndex // nil when dense retrieval is disabled
	sparse *retrieval.SparseIndex
	logger *log.Logger
}

func NewService(chunkStore *store.Store, dense *retrieval.DenseIndex, sparse *retrieval.SparseIndex, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: chunkStore, dense: dense, sparse: sparse, logger: logger}
}

// Ingest persists the chunks and extends both indexes. The store append and
// the dense upsert complete before the call returns; a storage failure is
// fatal for the whole ingestion.
func (s *Service) Ingest(ctx context.Context, chunks []document.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := s.store.Append(ctx, chunks); err != nil {
		return 0, fmt.Errorf("persist chunks: %w", err)
	}

	if s.dense != nil {
		if err := s.dense.Upsert(ctx, chunks); err != nil {
			return 0, fmt.Errorf("index chunks densely: %w", err)
		}
	}

	if err := s.sparse.Extend(chunks); err != nil {
		return 0, fmt.Errorf("extend sparse index: %w", err)
	}

	return len(chunks), nil
}

// IngestFile processes a local file through the same path the HTTP upload
// uses. Used by the CLI ingest command.
func (s *Service) IngestFile(ctx context.Context, path string, chunkSize, chunkOverlap int) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	chunks, totalPages, err := document.ProcessDocument(data, filepath.Base(path), chunkSize, chunkOverlap)
	if err != nil {
		return 0, fmt.Errorf("process document: %w", err)
	}
	s.logger.Printf("processed %s: %d pages, %d chunks", path, totalPages, len(chunks))

	return s.Ingest(ctx, chunks)
}

// RebuildFromStore replaces the sparse index contents with the persisted
// corpus. A missing store file yields an empty index, not an error.
func (s *Service) RebuildFromStore(ctx context.Context) error {
	chunks, err := s.store.LoadAll(ctx, 0)
	if err != nil {
		return fmt.Errorf("load chunk store: %w", err)
	}
	if err := s.sparse.Rebuild(chunks); err != nil {
		return fmt.Errorf("rebuild sparse index: %w", err)
	}
	s.logger.Printf("sparse index rebuilt with %d of %d stored chunks", s.sparse.Len(), len(chunks))
	return nil
}

// Warm rebuilds the sparse index in the background with a deadline, so a
// slow disk cannot hold up startup. Failures are logged, not fatal: the
// retriever rehydrates lazily if it finds the index empty.
func (s *Service) Warm(ctx context.Context, timeout time.Duration) {
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := s.RebuildFromStore(warmCtx); err != nil {
			s.logger.Printf("startup warmup skipped: %v", err)
			return
		}
		s.logger.Printf("startup warmup completed")
	}()
}
