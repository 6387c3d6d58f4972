package retrieval

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/amoshnin/documind/document"
)

// SparseIndex is a bounded in-memory lexical index. Chunk text is indexed
// in a mem-only bleve index; the chunks themselves are kept in a map keyed
// by chunk id with a FIFO order ledger for eviction. The corpus held here
// is a derived view of the chunk store and never exceeds maxChunks.
type SparseIndex struct {
	mu        sync.RWMutex
	index     bleve.Index
	chunks    map[string]document.Chunk
	order     []string // chunk ids, oldest first
	maxChunks int
	logger    *log.Logger
}

type sparseDoc struct {
	Content string `json:"content"`
}

func NewSparseIndex(maxChunks int, logger *log.Logger) (*SparseIndex, error) {
	if maxChunks <= 0 {
		return nil, fmt.Errorf("sparse index capacity must be positive, got %d", maxChunks)
	}
	if logger == nil {
		logger = log.Default()
	}

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}

	return &SparseIndex{
		index:     index,
		chunks:    make(map[string]document.Chunk),
		maxChunks: maxChunks,
		logger:    logger,
	}, nil
}

// Len reports how many chunks are currently indexed.
func (s *SparseIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Rebuild replaces the index contents with the given chunks. When more
// chunks are supplied than the index may hold, only the most recent ones
// are kept. The fresh index is swapped in under the write lock so readers
// never observe a partially built state.
func (s *SparseIndex) Rebuild(chunks []document.Chunk) error {
	if len(chunks) > s.maxChunks {
		chunks = chunks[len(chunks)-s.maxChunks:]
	}

	fresh, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("create lexical index: %w", err)
	}

	byID := make(map[string]document.Chunk, len(chunks))
	order := make([]string, 0, len(chunks))
	batch := fresh.NewBatch()
	for _, chunk := range chunks {
		id := chunk.Metadata.ChunkID
		if id == "" {
			continue
		}
		if err := batch.Index(id, sparseDoc{Content: chunk.Content}); err != nil {
			return fmt.Errorf("index chunk %s: %w", id, err)
		}
		byID[id] = chunk
		order = append(order, id)
	}
	if err := fresh.Batch(batch); err != nil {
		return fmt.Errorf("apply lexical batch: %w", err)
	}

	s.mu.Lock()
	old := s.index
	s.index = fresh
	s.chunks = byID
	s.order = order
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Printf("sparse index: close replaced index: %v", err)
		}
	}

	return nil
}

// Extend appends newly ingested chunks, then evicts the longest-resident
// chunks beyond the capacity. Eviction is strictly FIFO; relevance plays
// no part.
func (s *SparseIndex) Extend(chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	for _, chunk := range chunks {
		id := chunk.Metadata.ChunkID
		if id == "" {
			continue
		}
		if err := batch.Index(id, sparseDoc{Content: chunk.Content}); err != nil {
			return fmt.Errorf("index chunk %s: %w", id, err)
		}
		s.chunks[id] = chunk
		s.order = append(s.order, id)
	}

	for len(s.order) > s.maxChunks {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.chunks, oldest)
		batch.Delete(oldest)
	}

	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("apply lexical batch: %w", err)
	}

	return nil
}

// Search returns the top k chunks by lexical score. The read lock is held
// for the duration of the call so a concurrent Extend cannot surface a
// half-evicted view.
func (s *SparseIndex) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	results := make([]ScoredChunk, 0, len(result.Hits))
	for _, hit := range result.Hits {
		chunk, ok := s.chunks[hit.ID]
		if !ok {
			// Hit for a chunk evicted between batch apply and lookup
			// cannot happen under the lock; guard anyway.
			continue
		}
		results = append(results, ScoredChunk{Chunk: chunk, Score: hit.Score})
	}

	return results, nil
}

// Close releases the underlying index.
func (s *SparseIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}

var _ Searcher = (*SparseIndex)(nil)
