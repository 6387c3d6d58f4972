package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/amoshnin/documind/document"
)

type stubSearcher struct {
	results []ScoredChunk
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

var _ Searcher = (*stubSearcher)(nil)

func scored(id string, score float64) ScoredChunk {
	return ScoredChunk{
		Chunk: document.Chunk{
			Content:  "content of " + id,
			Metadata: document.Metadata{ChunkID: id, Filename: "doc.txt", PageNumber: 1},
		},
		Score: score,
	}
}

func TestRetrieveNotReadyWithoutIndexes(t *testing.T) {
	h := NewHybrid(nil, nil, testLogger())
	_, err := h.Retrieve(context.Background(), "query", Params{DenseK: 3, SparseK: 3, DenseWeight: 0.5})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestRetrieveSparseOnly(t *testing.T) {
	sparse, err := NewSparseIndex(10, testLogger())
	if err != nil {
		t.Fatalf("new sparse: %v", err)
	}
	defer sparse.Close()
	if err := sparse.Extend([]document.Chunk{sparseChunk("c1", "uptime guarantee text")}); err != nil {
		t.Fatalf("extend: %v", err)
	}

	h := NewHybrid(nil, sparse, testLogger())
	if h.DenseEnabled() {
		t.Fatal("dense should be disabled")
	}

	results, err := h.Retrieve(context.Background(), "uptime", Params{DenseK: 3, SparseK: 3, DenseWeight: 0.5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Metadata.ChunkID != "c1" {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestRetrieveDenseOnlyWhenSparseEmpty(t *testing.T) {
	sparse, err := NewSparseIndex(10, testLogger())
	if err != nil {
		t.Fatalf("new sparse: %v", err)
	}
	defer sparse.Close()

	dense := &stubSearcher{results: []ScoredChunk{scored("d1", 0.9)}}
	h := NewHybrid(dense, sparse, testLogger())

	results, err := h.Retrieve(context.Background(), "query", Params{DenseK: 3, SparseK: 3, DenseWeight: 0.5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Metadata.ChunkID != "d1" {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestRetrieveDenseEmptyCorpusNotReady(t *testing.T) {
	sparse, err := NewSparseIndex(10, testLogger())
	if err != nil {
		t.Fatalf("new sparse: %v", err)
	}
	defer sparse.Close()

	// Dense enabled, but its table holds no rows and the sparse index is
	// empty: the corpus is empty and the caller must be told to ingest.
	dense := &stubSearcher{results: nil}
	h := NewHybrid(dense, sparse, testLogger())

	_, err = h.Retrieve(context.Background(), "query", Params{DenseK: 3, SparseK: 3, DenseWeight: 0.5})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady for an empty corpus, got %v", err)
	}
}

func TestRetrieveSparsePopulatedNoMatchesIsEmpty(t *testing.T) {
	sparse, err := NewSparseIndex(10, testLogger())
	if err != nil {
		t.Fatalf("new sparse: %v", err)
	}
	defer sparse.Close()
	if err := sparse.Extend([]document.Chunk{sparseChunk("c1", "uptime guarantee text")}); err != nil {
		t.Fatalf("extend: %v", err)
	}

	h := NewHybrid(nil, sparse, testLogger())
	results, err := h.Retrieve(context.Background(), "zzzzqqqq", Params{DenseK: 3, SparseK: 3, DenseWeight: 0.5})
	if err != nil {
		t.Fatalf("a populated corpus with no matches is not an error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %v", results)
	}
}

func TestRetrieveDenseErrorPropagates(t *testing.T) {
	dense := &stubSearcher{err: errors.New("connection refused")}
	h := NewHybrid(dense, nil, testLogger())

	_, err := h.Retrieve(context.Background(), "query", Params{DenseK: 3, SparseK: 3, DenseWeight: 0.5})
	if err == nil {
		t.Fatal("expected dense error to propagate")
	}
}

func TestRetrieveRunsRehydrateWhenSparseEmpty(t *testing.T) {
	sparse, err := NewSparseIndex(10, testLogger())
	if err != nil {
		t.Fatalf("new sparse: %v", err)
	}
	defer sparse.Close()

	h := NewHybrid(nil, sparse, testLogger())
	h.Rehydrate = func(ctx context.Context) error {
		return sparse.Extend([]document.Chunk{sparseChunk("c1", "rehydrated uptime entry")})
	}

	results, err := h.Retrieve(context.Background(), "uptime", Params{DenseK: 3, SparseK: 3, DenseWeight: 0.5})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the rehydrated chunk, got %v", results)
	}
}

func TestRetrieveRehydrateFailureDegradesToNotReady(t *testing.T) {
	sparse, err := NewSparseIndex(10, testLogger())
	if err != nil {
		t.Fatalf("new sparse: %v", err)
	}
	defer sparse.Close()

	h := NewHybrid(nil, sparse, testLogger())
	h.Rehydrate = func(ctx context.Context) error {
		return errors.New("disk gone")
	}

	_, err = h.Retrieve(context.Background(), "query", Params{DenseK: 3, SparseK: 3, DenseWeight: 0.5})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after failed rehydration, got %v", err)
	}
}

func TestFuseBothListsBoostsSharedChunks(t *testing.T) {
	dense := []ScoredChunk{scored("shared", 0.9), scored("d2", 0.5)}
	sparse := []ScoredChunk{scored("s1", 7.0), scored("shared", 2.0)}

	fused := fuse(dense, sparse, 0.5)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}
	if fused[0].Chunk.Metadata.ChunkID != "shared" {
		t.Fatalf("chunk present in both lists should rank first, got %s", fused[0].Chunk.Metadata.ChunkID)
	}
}

func TestFuseWeightShiftsOrder(t *testing.T) {
	dense := []ScoredChunk{scored("d1", 0.9)}
	sparse := []ScoredChunk{scored("s1", 9.0)}

	denseHeavy := fuse(dense, sparse, 0.8)
	if denseHeavy[0].Chunk.Metadata.ChunkID != "d1" {
		t.Fatalf("dense-heavy weight should favor the dense hit, got %s", denseHeavy[0].Chunk.Metadata.ChunkID)
	}

	sparseHeavy := fuse(dense, sparse, 0.2)
	if sparseHeavy[0].Chunk.Metadata.ChunkID != "s1" {
		t.Fatalf("sparse-heavy weight should favor the lexical hit, got %s", sparseHeavy[0].Chunk.Metadata.ChunkID)
	}
}

func TestFuseScoresDescend(t *testing.T) {
	dense := []ScoredChunk{scored("a", 1), scored("b", 0.8), scored("c", 0.6)}
	sparse := []ScoredChunk{scored("c", 5), scored("d", 3)}

	fused := fuse(dense, sparse, 0.5)
	for i := 1; i < len(fused); i++ {
		if fused[i].Score > fused[i-1].Score {
			t.Fatalf("fused scores not descending at %d: %f > %f", i, fused[i].Score, fused[i-1].Score)
		}
	}
}
