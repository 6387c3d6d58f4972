package llm

import (
	"context"
	"fmt"

	"github.com/amoshnin/documind/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// ToolSpec describes a function the model may (or must) call. Parameters is
// a JSON-schema value accepted by the provider client.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  any
}

// ToolCallDelta is one streamed fragment of a tool call's arguments. Index
// identifies which concurrent tool call the fragment belongs to; Name is
// only populated on the fragment that opens the call.
type ToolCallDelta struct {
	Index     int
	Name      string
	Arguments string
}

// StreamChunk is one increment of a streamed completion: visible text,
// tool-call fragments, or both.
type StreamChunk struct {
	Content   string
	ToolCalls []ToolCallDelta
}

type Client interface {
	// Generate returns a plain text completion.
	Generate(ctx context.Context, messages []Message) (string, error)

	// GenerateStructured forces the model to call tool and returns the raw
	// JSON arguments of that call.
	GenerateStructured(ctx context.Context, messages []Message, tool ToolSpec) (string, error)

	// GenerateStream streams the completion, invoking fn for every chunk.
	// The tool is offered but not forced; fragments of its arguments arrive
	// through StreamChunk.ToolCalls. Returning an error from fn stops the
	// stream.
	GenerateStream(ctx context.Context, messages []Message, tool ToolSpec, fn func(StreamChunk) error) error
}

type Options struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
}

// NewClient builds a chat client for the requested provider. Groq speaks the
// OpenAI wire protocol, so both providers share one implementation and
// differ only in base URL, model and credentials.
func NewClient(opts Options) (Client, error) {
	switch opts.Provider {
	case config.ProviderOpenAI, config.ProviderGroq:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%s provider selected but no API key configured", opts.Provider)
		}
		return newOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
