package generation

// CitationMetadata mirrors the metadata lines printed in the grounding
// context; the model is instructed to copy them literally.
type CitationMetadata struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	PageNumber int    `json:"page_number"`
}

type Citation struct {
	SourceText string           `json:"source_text"`
	Metadata   CitationMetadata `json:"metadata"`
}

type AnswerResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

type EventType string

const (
	EventToken EventType = "token"
	EventFinal EventType = "final"
	EventError EventType = "error"
)

// StreamEvent is one item of a streamed answer. Token events carry Text;
// exactly one terminal event (Final with Answer set, or Error with Err set)
// closes every stream.
type StreamEvent struct {
	Type   EventType
	Text   string
	Answer *AnswerResponse
	Err    error
}
