package document

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	pdflib "github.com/ledongthuc/pdf"
)

// ProcessDocument extracts text from an uploaded file and splits it into
// chunks. PDF files are processed page by page so every chunk carries the
// page it came from; anything else is treated as UTF-8 text on page 1.
// Returns the chunks and the total page count.
func ProcessDocument(data []byte, filename string, chunkSize, chunkOverlap int) ([]Chunk, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("document %q is empty", filename)
	}

	docID := uuid.NewString()

	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return processPDF(data, filename, docID, chunkSize, chunkOverlap)
	}

	if !utf8.Valid(data) {
		return nil, 0, fmt.Errorf("document %q is not valid UTF-8 text", filename)
	}

	chunks := chunkPage(string(data), filename, docID, 1, chunkSize, chunkOverlap)
	return chunks, 1, nil
}

func processPDF(data []byte, filename, docID string, chunkSize, chunkOverlap int) ([]Chunk, int, error) {
	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("open pdf %q: %w", filename, err)
	}

	totalPages := reader.NumPage()
	chunks := make([]Chunk, 0, totalPages)
	for pageNumber := 1; pageNumber <= totalPages; pageNumber++ {
		page := reader.Page(pageNumber)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		chunks = append(chunks, chunkPage(text, filename, docID, pageNumber, chunkSize, chunkOverlap)...)
	}

	return chunks, totalPages, nil
}

func chunkPage(text, filename, docID string, pageNumber, chunkSize, chunkOverlap int) []Chunk {
	parts := SplitText(text, chunkSize, chunkOverlap)
	chunks := make([]Chunk, 0, len(parts))
	for _, part := range parts {
		chunks = append(chunks, Chunk{
			Content: part,
			Metadata: Metadata{
				DocumentID: docID,
				Filename:   filename,
				PageNumber: pageNumber,
				ChunkID:    uuid.NewString(),
			},
		})
	}
	return chunks
}
