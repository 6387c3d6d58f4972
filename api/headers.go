package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/amoshnin/documind/config"
	"github.com/amoshnin/documind/llm"
)

// Runtime knobs arrive as headers so the frontend can tune retrieval per
// request. Everything is clamped to a safe range; out-of-range values are
// corrected silently rather than rejected.
const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 150
	defaultRetrieverK   = 3
	defaultDenseWeight  = 0.5

	minChunkSize    = 400
	maxChunkSize    = 2200
	minChunkOverlap = 50
	maxChunkOverlap = 400
	minRetrieverK   = 2
	maxRetrieverK   = 8
	minDenseWeight  = 0.2
	maxDenseWeight  = 0.8
	minTemperature  = 0.0
	maxTemperature  = 1.0
)

type runtimeConfig struct {
	chunkSize    int
	chunkOverlap int
	denseK       int
	sparseK      int
	denseWeight  float64
	temperature  float64
}

func runtimeConfigFromHeaders(h http.Header) runtimeConfig {
	chunkSize := clampInt(headerInt(h, "X-Chunk-Size", defaultChunkSize), minChunkSize, maxChunkSize)
	chunkOverlap := clampInt(headerInt(h, "X-Chunk-Overlap", defaultChunkOverlap), minChunkOverlap, maxChunkOverlap)
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
		if chunkOverlap < minChunkOverlap {
			chunkOverlap = minChunkOverlap
		}
	}

	return runtimeConfig{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		denseK:       clampInt(headerInt(h, "X-Dense-K", defaultRetrieverK), minRetrieverK, maxRetrieverK),
		sparseK:      clampInt(headerInt(h, "X-BM25-K", defaultRetrieverK), minRetrieverK, maxRetrieverK),
		denseWeight:  clampFloat(headerFloat(h, "X-Dense-Weight", defaultDenseWeight), minDenseWeight, maxDenseWeight),
		temperature:  clampFloat(headerFloat(h, "X-Temperature", 0), minTemperature, maxTemperature),
	}
}

// providerOptions resolves the per-request model provider. OpenAI requires
// a caller-supplied key; Groq uses the server-side key.
func (s *Server) providerOptions(r *http.Request, rc runtimeConfig) (llm.Options, *httpError) {
	provider := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Model-Provider")))
	if provider == "" {
		provider = config.ProviderGroq
	}

	switch provider {
	case config.ProviderOpenAI:
		key := strings.TrimSpace(r.Header.Get("X-OpenAI-Key"))
		if key == "" || !strings.HasPrefix(key, "sk-") {
			return llm.Options{}, &httpError{http.StatusUnauthorized, "Invalid or expired OpenAI API Key"}
		}
		return llm.Options{
			Provider:    provider,
			Model:       s.cfg.OpenAIModel,
			APIKey:      key,
			BaseURL:     s.cfg.OpenAIBaseURL,
			Temperature: float32(rc.temperature),
		}, nil
	case config.ProviderGroq:
		if s.cfg.GroqAPIKey == "" {
			return llm.Options{}, &httpError{http.StatusInternalServerError, "GROQ_API_KEY is not configured on the server"}
		}
		return llm.Options{
			Provider:    provider,
			Model:       s.cfg.GroqModel,
			APIKey:      s.cfg.GroqAPIKey,
			BaseURL:     s.cfg.GroqBaseURL,
			Temperature: float32(rc.temperature),
		}, nil
	default:
		return llm.Options{}, &httpError{http.StatusBadRequest, "Unsupported model provider. Use 'groq' or 'openai'."}
	}
}

func (s *Server) modelUsed(provider string) string {
	if provider == config.ProviderOpenAI {
		return fmt.Sprintf("OpenAI · %s", s.cfg.OpenAIModel)
	}
	return fmt.Sprintf("Groq · %s", s.cfg.GroqModel)
}

func headerInt(h http.Header, key string, fallback int) int {
	if v := strings.TrimSpace(h.Get(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func headerFloat(h http.Header, key string, fallback float64) float64 {
	if v := strings.TrimSpace(h.Get(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
