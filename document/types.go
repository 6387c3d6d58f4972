package document

// Metadata identifies where a chunk came from. DocumentID groups every
// chunk produced from one upload; ChunkID is unique per chunk.
type Metadata struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	PageNumber int    `json:"page_number"`
	ChunkID    string `json:"chunk_id"`
}

// Chunk is the unit of retrievable text. Immutable once created.
type Chunk struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}
