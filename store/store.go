// Package store persists ingested chunks in an append-only JSONL log.
// The log is the source of truth for the corpus: the sparse index is
// rebuilt from it on startup and the dense index only ever mirrors it.
package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/amoshnin/documind/document"
)

// Store writes one JSON record per chunk to a log file. Appends are
// serialized with a mutex; the file format is safe to truncate-read even
// if the process died mid-write (the loader skips an unparseable line).
type Store struct {
	path   string
	mu     sync.Mutex
	logger *log.Logger
}

func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{path: path, logger: logger}
}

// Append durably writes chunks in ingestion order. The whole batch is
// buffered and written with a single Write call so that concurrent appends
// from other callers cannot interleave records within a batch.
func (s *Store) Append(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf []byte
	for _, chunk := range chunks {
		line, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", chunk.Metadata.ChunkID, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("append to chunk store: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync chunk store: %w", err)
	}

	return nil
}

// LoadAll reads previously stored chunks in storage order, up to maxCount
// when maxCount is positive. A missing store file means no data yet, not an
// error. Unparseable lines (for example a record truncated by a crash) are
// skipped with a log line instead of failing the whole load.
func (s *Store) LoadAll(ctx context.Context, maxCount int) ([]document.Chunk, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	defer f.Close()

	var chunks []document.Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk document.Chunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.logger.Printf("chunk store: skipping unparseable record at line %d: %v", lineNo, err)
			continue
		}
		chunks = append(chunks, chunk)
		if maxCount > 0 && len(chunks) >= maxCount {
			return chunks, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunk store: %w", err)
	}

	return chunks, nil
}

// Path returns the location of the underlying log file.
func (s *Store) Path() string {
	return s.path
}
