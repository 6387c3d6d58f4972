package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/amoshnin/documind/document"
	"github.com/amoshnin/documind/embeddings"
)

// DenseIndex stores chunk embeddings in Postgres with pgvector and answers
// approximate nearest-neighbor queries. When dense retrieval is disabled
// the index is simply never constructed; callers treat a nil *DenseIndex
// as an absent capability.
type DenseIndex struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
}

func NewDenseIndex(pool *pgxpool.Pool, embedder embeddings.Embedder) *DenseIndex {
	return &DenseIndex{pool: pool, embedder: embedder}
}

// Upsert embeds the chunks and stores the vectors keyed by chunk id.
// Re-upserting an id replaces its vector and content.
func (d *DenseIndex) Upsert(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := d.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: have %d chunks, %d vectors", len(chunks), len(vectors))
	}

	for i, chunk := range chunks {
		if _, err := d.pool.Exec(ctx, `
			INSERT INTO documind_chunks (id, document_id, filename, page_number, content, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content,
			    embedding = EXCLUDED.embedding,
			    updated_at = NOW()
		`, chunk.Metadata.ChunkID, chunk.Metadata.DocumentID, chunk.Metadata.Filename,
			chunk.Metadata.PageNumber, chunk.Content, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", chunk.Metadata.ChunkID, err)
		}
	}

	return nil
}

// Search embeds the query and returns the k nearest chunks. Distance is
// converted to a similarity score with 1/(1+distance).
func (d *DenseIndex) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	vectors, err := d.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	rows, err := d.pool.Query(ctx, `
		SELECT id, document_id, filename, page_number, content,
		       (embedding <-> $1::vector) AS distance
		FROM documind_chunks
		ORDER BY embedding <-> $1::vector
		LIMIT $2
	`, pgvector.NewVector(vectors[0]), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]ScoredChunk, 0, k)
	for rows.Next() {
		var chunk document.Chunk
		var distance float64
		if err := rows.Scan(&chunk.Metadata.ChunkID, &chunk.Metadata.DocumentID,
			&chunk.Metadata.Filename, &chunk.Metadata.PageNumber, &chunk.Content, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		results = append(results, ScoredChunk{Chunk: chunk, Score: 1 / (1 + distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

var _ Searcher = (*DenseIndex)(nil)
