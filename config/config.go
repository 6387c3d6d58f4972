package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderOllama = "ollama"
)

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type Config struct {
	Port string

	// Corpus persistence
	StorePath string

	// Dense retrieval (optional)
	DenseEnabled bool
	PostgresDSN  string
	Embeddings   EmbeddingsConfig

	// Sparse retrieval
	SparseMaxChunks     int
	WarmSparseOnStartup bool

	// Model providers
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GroqAPIKey    string
	GroqModel     string
	GroqBaseURL   string
	OllamaHost    string

	// Upload limits
	MaxUploadMB int

	// CORS
	CORSAllowOrigins []string
}

func Load() Config {
	return Config{
		Port: envOr("PORT", "8000"),

		StorePath: envOr("DOCUMIND_STORE_PATH", "data/chunks.jsonl"),

		DenseEnabled: envBool("DOCUMIND_DENSE_ENABLED", false),
		PostgresDSN:  envOr("POSTGRES_DSN", "postgres://localhost:5432/documind?sslmode=disable"),
		Embeddings: EmbeddingsConfig{
			Provider:  envOr("EMBEDDINGS_PROVIDER", ProviderOpenAI),
			Model:     envOr("EMBEDDINGS_MODEL", "text-embedding-3-small"),
			Dimension: envInt("EMBEDDINGS_DIMENSION", 1536),
		},

		SparseMaxChunks:     envInt("DOCUMIND_SPARSE_MAX_CHUNKS", 5000),
		WarmSparseOnStartup: envBool("DOCUMIND_WARM_ON_STARTUP", true),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   envOr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		GroqAPIKey:    os.Getenv("GROQ_API_KEY"),
		GroqModel:     envOr("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqBaseURL:   envOr("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		OllamaHost:    envOr("OLLAMA_HOST", "http://localhost:11434"),

		MaxUploadMB: envInt("DOCUMIND_MAX_UPLOAD_MB", 25),

		CORSAllowOrigins: envCSV("DOCUMIND_CORS_ALLOW_ORIGINS"),
	}
}

// Validate checks requirements that depend on which features are enabled.
func (c Config) Validate() error {
	if c.SparseMaxChunks <= 0 {
		return fmt.Errorf("DOCUMIND_SPARSE_MAX_CHUNKS must be positive")
	}
	if c.DenseEnabled {
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when dense retrieval is enabled")
		}
		if c.Embeddings.Provider == ProviderOpenAI && c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for openai embeddings")
		}
		if c.Embeddings.Dimension <= 0 {
			return fmt.Errorf("EMBEDDINGS_DIMENSION must be positive")
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envCSV(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimRight(strings.TrimSpace(part), "/")
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}
