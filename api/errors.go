package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/amoshnin/documind/generation"
	"github.com/amoshnin/documind/llm"
	"github.com/amoshnin/documind/retrieval"
)

type errorResponse struct {
	Error string `json:"error"`
}

// httpError carries a status decided at validation time, before any
// downstream error mapping applies.
type httpError struct {
	status  int
	message string
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeHTTPError(w http.ResponseWriter, herr *httpError) {
	s.writeError(w, herr.status, errors.New(herr.message))
}

// statusForError maps the error taxonomy to HTTP statuses in one place.
// NotReady is the caller's fault (upload something first); the provider
// categories tell them whether to fix credentials, wait, or reconfigure.
func statusForError(err error) int {
	err = llm.MapProviderError(err)
	switch {
	case errors.Is(err, retrieval.ErrNotReady):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, llm.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, generation.ErrMalformedOutput):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
