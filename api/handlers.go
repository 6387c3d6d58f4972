package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/amoshnin/documind/document"
	"github.com/amoshnin/documind/generation"
	"github.com/amoshnin/documind/llm"
	"github.com/amoshnin/documind/retrieval"
)

const uploadOverheadBytes = 1 << 20

type uploadResponse struct {
	Filename        string `json:"filename"`
	TotalPages      int    `json:"total_pages"`
	ChunksGenerated int    `json:"chunks_generated"`
	IndexedChunks   int    `json:"indexed_chunks"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	rc := runtimeConfigFromHeaders(r.Header)

	maxBytes := int64(s.cfg.MaxUploadMB)<<20 + uploadOverheadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds the %d MB upload limit", s.cfg.MaxUploadMB))
			return
		}
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("missing 'file' form field"))
		return
	}
	defer file.Close()

	filename := strings.TrimSpace(header.Filename)
	if filename == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("uploaded file has no filename"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read uploaded file: %w", err))
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("uploaded file is empty"))
		return
	}
	if int64(len(data)) > int64(s.cfg.MaxUploadMB)<<20 {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds the %d MB upload limit", s.cfg.MaxUploadMB))
		return
	}

	chunks, pages, err := document.ProcessDocument(data, filename, rc.chunkSize, rc.chunkOverlap)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("process document: %w", err))
		return
	}

	indexed, err := s.ingest.Ingest(r.Context(), chunks)
	if err != nil {
		s.writeError(w, statusForError(err), fmt.Errorf("ingest document: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Filename:        filename,
		TotalPages:      pages,
		ChunksGenerated: len(chunks),
		IndexedChunks:   indexed,
	})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

func (c *chatRequest) validate() *httpError {
	c.Query = strings.TrimSpace(c.Query)
	if c.Query == "" {
		return &httpError{http.StatusBadRequest, "query must not be empty"}
	}
	c.SessionID = strings.TrimSpace(c.SessionID)
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	} else if _, err := uuid.Parse(c.SessionID); err != nil {
		return &httpError{http.StatusBadRequest, "session_id must be a valid UUID"}
	}
	return nil
}

type chatResponse struct {
	SessionID string                `json:"session_id"`
	Answer    string                `json:"answer"`
	Citations []generation.Citation `json:"citations"`
	ModelUsed string                `json:"model_used"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if herr := req.validate(); herr != nil {
		s.writeHTTPError(w, herr)
		return
	}

	rc := runtimeConfigFromHeaders(r.Header)
	opts, herr := s.providerOptions(r, rc)
	if herr != nil {
		s.writeHTTPError(w, herr)
		return
	}

	client, err := s.newLLM(opts)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	svc := generation.NewService(client, s.logger)

	ctx := r.Context()
	query := req.Query
	history := s.sessions.Messages(req.SessionID)
	if len(history) > 0 {
		query, err = svc.Reformulate(ctx, req.Query, history)
		if err != nil {
			s.writeError(w, statusForError(err), fmt.Errorf("reformulate query: %w", err))
			return
		}
	}

	retrieved, err := s.retriever.Retrieve(ctx, query, retrieval.Params{
		DenseK:      rc.denseK,
		SparseK:     rc.sparseK,
		DenseWeight: rc.denseWeight,
	})
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	answer, err := svc.Answer(ctx, req.Query, retrieved)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	s.sessions.Append(req.SessionID,
		llm.Message{Role: llm.RoleUser, Content: req.Query},
		llm.Message{Role: llm.RoleAssistant, Content: answer.Answer},
	)

	s.writeJSON(w, http.StatusOK, chatResponse{
		SessionID: req.SessionID,
		Answer:    answer.Answer,
		Citations: answer.Citations,
		ModelUsed: s.modelUsed(opts.Provider),
	})
}

type streamFinalPayload struct {
	Answer    string                `json:"answer"`
	Citations []generation.Citation `json:"citations"`
	ModelUsed string                `json:"model_used"`
	SessionID string                `json:"session_id"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if herr := req.validate(); herr != nil {
		s.writeHTTPError(w, herr)
		return
	}

	rc := runtimeConfigFromHeaders(r.Header)
	opts, herr := s.providerOptions(r, rc)
	if herr != nil {
		s.writeHTTPError(w, herr)
		return
	}

	client, err := s.newLLM(opts)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	svc := generation.NewService(client, s.logger)

	ctx := r.Context()
	query := req.Query
	history := s.sessions.Messages(req.SessionID)
	if len(history) > 0 {
		query, err = svc.Reformulate(ctx, req.Query, history)
		if err != nil {
			s.writeError(w, statusForError(err), fmt.Errorf("reformulate query: %w", err))
			return
		}
	}

	retrieved, err := s.retriever.Retrieve(ctx, query, retrieval.Params{
		DenseK:      rc.denseK,
		SparseK:     rc.sparseK,
		DenseWeight: rc.denseWeight,
	})
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	events := svc.StreamAnswer(ctx, req.Query, history, retrieved)

	// Peek the first event before committing to SSE so that an immediate
	// provider failure still gets a proper HTTP status.
	first, ok := <-events
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("answer stream produced no events"))
		return
	}
	if first.Type == generation.EventError {
		s.writeError(w, statusForError(first.Err), first.Err)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Printf("marshal stream event: %v", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		if canFlush {
			flusher.Flush()
		}
	}

	handle := func(ev generation.StreamEvent) {
		switch ev.Type {
		case generation.EventToken:
			emit(map[string]string{"type": "token", "text": ev.Text})
		case generation.EventFinal:
			emit(map[string]any{
				"type": "final",
				"payload": streamFinalPayload{
					Answer:    ev.Answer.Answer,
					Citations: ev.Answer.Citations,
					ModelUsed: s.modelUsed(opts.Provider),
					SessionID: req.SessionID,
				},
			})
			s.sessions.Append(req.SessionID,
				llm.Message{Role: llm.RoleUser, Content: req.Query},
				llm.Message{Role: llm.RoleAssistant, Content: ev.Answer.Answer},
			)
		case generation.EventError:
			emit(map[string]string{"type": "error", "message": ev.Err.Error()})
		}
	}

	handle(first)
	for ev := range events {
		handle(ev)
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}
