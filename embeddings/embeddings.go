package embeddings

import (
	"context"
	"fmt"

	"github.com/amoshnin/documind/config"
)

// Embedder turns texts into dense vectors. Implementations are used both at
// ingest time (chunk contents) and at query time (the query itself).
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options carries everything an embedder needs; callers assemble it from
// their own configuration rather than handing over the full server config.
type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewEmbedder(opts Options) (Embedder, error) {
	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embeddings selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}
