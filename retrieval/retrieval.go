// Package retrieval ranks corpus chunks against a query. Two index kinds
// are supported: a dense vector index backed by pgvector (optional) and an
// in-memory lexical index backed by bleve. The Hybrid retriever fuses
// whichever of the two is available.
package retrieval

import (
	"context"
	"errors"

	"github.com/amoshnin/documind/document"
)

// ErrNotReady is returned when no index holds any content yet. The caller
// can correct this by ingesting at least one document.
var ErrNotReady = errors.New("no documents have been ingested yet")

// ScoredChunk pairs a chunk with its ranking score. Scores are only
// comparable within a single result list.
type ScoredChunk struct {
	Chunk document.Chunk
	Score float64
}

// Searcher is the capability shared by every index variant. An absent
// index is represented by a nil Searcher, not an empty one.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]ScoredChunk, error)
}
