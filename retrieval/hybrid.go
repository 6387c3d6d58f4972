package retrieval

import (
	"context"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"
)

// rrfRankConstant dampens the contribution of lower ranks in reciprocal
// rank fusion. 60 is the value from the original RRF paper.
const rrfRankConstant = 60

// Params bounds one retrieval call. DenseWeight applies to the dense list;
// the sparse list gets 1 - DenseWeight.
type Params struct {
	DenseK      int
	SparseK     int
	DenseWeight float64
}

// Hybrid fuses a dense and a sparse index into one ranked result. Either
// index may be absent (nil dense) or empty; the retriever degrades to
// whichever side has content. Raw dense similarities and lexical scores
// live on different scales, so fusion uses weighted reciprocal rank fusion
// over the two ranked lists rather than mixing the scores directly.
type Hybrid struct {
	dense  Searcher
	sparse *SparseIndex
	logger *log.Logger

	// Rehydrate, when set, is called before a query that finds the sparse
	// index unexpectedly empty. It is the recovery path after a restart
	// where startup warming was skipped or failed.
	Rehydrate func(ctx context.Context) error
}

// NewHybrid builds the retriever. dense may be nil when dense retrieval is
// disabled; it must be nil rather than an empty implementation.
func NewHybrid(dense Searcher, sparse *SparseIndex, logger *log.Logger) *Hybrid {
	if logger == nil {
		logger = log.Default()
	}
	return &Hybrid{dense: dense, sparse: sparse, logger: logger}
}

func (h *Hybrid) DenseEnabled() bool {
	return h.dense != nil
}

// Retrieve runs both available searches concurrently and fuses the ranked
// lists. With only one side available its results are returned directly.
// With neither, ErrNotReady is returned.
func (h *Hybrid) Retrieve(ctx context.Context, query string, p Params) ([]ScoredChunk, error) {
	if h.sparse != nil && h.sparse.Len() == 0 && h.Rehydrate != nil {
		if err := h.Rehydrate(ctx); err != nil {
			h.logger.Printf("retrieval: sparse rehydration failed: %v", err)
		}
	}

	useSparse := h.sparse != nil && h.sparse.Len() > 0
	useDense := h.dense != nil

	if !useSparse && !useDense {
		return nil, ErrNotReady
	}

	var denseResults, sparseResults []ScoredChunk

	g, gctx := errgroup.WithContext(ctx)
	if useDense {
		g.Go(func() error {
			results, err := h.dense.Search(gctx, query, p.DenseK)
			if err != nil {
				return err
			}
			denseResults = results
			return nil
		})
	}
	if useSparse {
		g.Go(func() error {
			results, err := h.sparse.Search(gctx, query, p.SparseK)
			if err != nil {
				return err
			}
			sparseResults = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(denseResults) == 0 && len(sparseResults) == 0 {
		if !useSparse {
			// The sparse index is empty and the dense table produced no
			// rows, so there is no corpus at all. Distance ordering always
			// returns rows from a non-empty table, which makes zero dense
			// results equivalent to an empty table.
			return nil, ErrNotReady
		}
		// The sparse side holds content but nothing matched. An empty
		// result list is the honest answer.
		return nil, nil
	}
	if !useDense || len(denseResults) == 0 {
		return sparseResults, nil
	}
	if !useSparse || len(sparseResults) == 0 {
		return denseResults, nil
	}

	return fuse(denseResults, sparseResults, p.DenseWeight), nil
}

type fusedEntry struct {
	chunk      ScoredChunk
	score      float64
	denseRank  int
	sparseRank int
}

// fuse combines the two ranked lists with weighted RRF. A chunk present in
// both lists accumulates both weighted contributions, so it can only score
// higher than it would in either list alone. Ties break by dense rank,
// then sparse rank.
func fuse(dense, sparse []ScoredChunk, denseWeight float64) []ScoredChunk {
	const unranked = 1 << 30

	entries := make(map[string]*fusedEntry, len(dense)+len(sparse))
	ordered := make([]*fusedEntry, 0, len(dense)+len(sparse))

	add := func(results []ScoredChunk, weight float64, isDense bool) {
		for rank, result := range results {
			id := result.Chunk.Metadata.ChunkID
			entry, ok := entries[id]
			if !ok {
				entry = &fusedEntry{chunk: result, denseRank: unranked, sparseRank: unranked}
				entries[id] = entry
				ordered = append(ordered, entry)
			}
			entry.score += weight / float64(rrfRankConstant+rank+1)
			if isDense {
				entry.denseRank = rank
			} else {
				entry.sparseRank = rank
			}
		}
	}

	add(dense, denseWeight, true)
	add(sparse, 1-denseWeight, false)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].score != ordered[j].score {
			return ordered[i].score > ordered[j].score
		}
		if ordered[i].denseRank != ordered[j].denseRank {
			return ordered[i].denseRank < ordered[j].denseRank
		}
		return ordered[i].sparseRank < ordered[j].sparseRank
	})

	fusedResults := make([]ScoredChunk, len(ordered))
	for i, entry := range ordered {
		fusedResults[i] = ScoredChunk{Chunk: entry.chunk.Chunk, Score: entry.score}
	}
	return fusedResults
}
