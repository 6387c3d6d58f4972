package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Provider failures are mapped here, once, so callers can branch on the
// category without knowing which provider produced the error.
var (
	// ErrAuth means the provider rejected the supplied credentials.
	ErrAuth = errors.New("provider rejected the API key")

	// ErrRateLimited means the provider asked us to slow down. The caller
	// decides whether to retry; the client never retries on its own.
	ErrRateLimited = errors.New("provider is rate limited")

	// ErrModelUnavailable means the configured model does not exist or has
	// been decommissioned; operators should reconfigure.
	ErrModelUnavailable = errors.New("configured model is unavailable")
)

// MapProviderError translates provider-specific errors into the package
// sentinels. Unrecognized errors pass through unchanged. It is applied on
// every client call and exported so other provider touchpoints (embedding
// requests) can reuse the same mapping.
func MapProviderError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.HTTPStatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelUnavailable, apiErr.Message)
	case http.StatusBadRequest:
		msg := strings.ToLower(apiErr.Message)
		if strings.Contains(msg, "model") && (strings.Contains(msg, "decommission") || strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")) {
			return fmt.Errorf("%w: %s", ErrModelUnavailable, apiErr.Message)
		}
	}

	return err
}
