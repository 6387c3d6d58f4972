// Package generation turns a query plus retrieved chunks into a grounded,
// citation-backed answer, either in one shot or as a token stream.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/amoshnin/documind/llm"
	"github.com/amoshnin/documind/retrieval"
)

// ErrMalformedOutput means the model's structured response could not be
// coerced into an AnswerResponse. The non-streaming path never swallows
// this; the streaming path has its own text fallback instead.
var ErrMalformedOutput = errors.New("model returned a malformed structured answer")

// citationToolName is the internal marker for the citation side channel.
// The streaming pipeline guarantees this token sequence never appears in
// user-visible output.
const citationToolName = "record_citations"

const answerToolName = "grounded_answer"

const noContextMarker = "No context provided."

const systemPrompt = "You are an expert technical assistant. Answer the user's question " +
	"using ONLY the provided context. If the answer is not in the context, say so. " +
	"You must provide exact citations matching the source metadata.\n\n" +
	"Rules:\n" +
	"1) Never use outside knowledge.\n" +
	"2) Citations must contain only metadata shown in the context " +
	"(document_id, filename, page_number).\n" +
	"3) source_text must be a verbatim snippet from the cited chunk.\n" +
	"4) If the context is insufficient, state clearly that the context does not " +
	"contain the answer and return an empty citations list."

const reformulatePrompt = "Given the conversation so far and a follow-up question, " +
	"rewrite the follow-up as a standalone search query that carries any context it " +
	"depends on. Reply with the query only, no explanation."

var citationsProperty = jsonschema.Definition{
	Type: jsonschema.Array,
	Items: &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"source_text": {
				Type:        jsonschema.String,
				Description: "Verbatim snippet from the cited chunk.",
			},
			"metadata": {
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"document_id": {Type: jsonschema.String},
					"filename":    {Type: jsonschema.String},
					"page_number": {Type: jsonschema.Integer},
				},
				Required: []string{"document_id", "filename", "page_number"},
			},
		},
		Required: []string{"source_text", "metadata"},
	},
}

func answerTool() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        answerToolName,
		Description: "Record the grounded answer together with its citations.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"answer":    {Type: jsonschema.String},
				"citations": citationsProperty,
			},
			Required: []string{"answer", "citations"},
		},
	}
}

func citationsTool() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        citationToolName,
		Description: "Record citations for the answer you are writing.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"citations": citationsProperty,
			},
			Required: []string{"citations"},
		},
	}
}

// Service drives the language model. A Service is cheap to construct and
// is built per request because the model client depends on per-request
// provider headers.
type Service struct {
	client llm.Client
	logger *log.Logger
}

func NewService(client llm.Client, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{client: client, logger: logger}
}

// Answer requests a single structured response and coerces it into an
// AnswerResponse. Coercion failure is a hard error.
func (s *Service) Answer(ctx context.Context, query string, retrieved []retrieval.ScoredChunk) (AnswerResponse, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: formatUserMessage(query, retrieved)},
	}

	args, err := s.client.GenerateStructured(ctx, messages, answerTool())
	if err != nil {
		return AnswerResponse{}, fmt.Errorf("generate answer: %w", err)
	}

	var resp AnswerResponse
	if err := json.Unmarshal([]byte(args), &resp); err != nil {
		return AnswerResponse{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if strings.TrimSpace(resp.Answer) == "" {
		return AnswerResponse{}, fmt.Errorf("%w: empty answer field", ErrMalformedOutput)
	}
	if resp.Citations == nil {
		resp.Citations = []Citation{}
	}

	return resp, nil
}

// Reformulate turns a follow-up question into a standalone retrieval query
// using the prior turns. Without history the raw query is returned as-is;
// an empty reformulation also falls back to the raw query.
func (s *Service) Reformulate(ctx context.Context, rawQuery string, history []llm.Message) (string, error) {
	if len(history) == 0 {
		return rawQuery, nil
	}

	var convo strings.Builder
	for _, msg := range history {
		convo.WriteString(msg.Role)
		convo.WriteString(": ")
		convo.WriteString(msg.Content)
		convo.WriteString("\n")
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: reformulatePrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Conversation:\n%s\nFollow-up question:\n%s", convo.String(), rawQuery)},
	}

	out, err := s.client.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("reformulate query: %w", err)
	}

	reformulated := strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"`))
	if reformulated == "" {
		return rawQuery, nil
	}
	return reformulated, nil
}

// buildContext enumerates the retrieved chunks with their metadata in
// retrieval-rank order. An empty result yields an explicit marker so the
// model sees "no context" rather than a blank block.
func buildContext(retrieved []retrieval.ScoredChunk) string {
	if len(retrieved) == 0 {
		return noContextMarker
	}

	sections := make([]string, 0, len(retrieved))
	for i, result := range retrieved {
		meta := result.Chunk.Metadata
		sections = append(sections, fmt.Sprintf(
			"[Chunk %d]\ndocument_id: %s\nfilename: %s\npage_number: %d\ncontent:\n%s",
			i+1, meta.DocumentID, meta.Filename, meta.PageNumber, result.Chunk.Content))
	}
	return strings.Join(sections, "\n\n")
}

func formatUserMessage(query string, retrieved []retrieval.ScoredChunk) string {
	return fmt.Sprintf("Context:\n%s\n\nUser question:\n%s", buildContext(retrieved), query)
}
