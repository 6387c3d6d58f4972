// Package api exposes the HTTP surface: document upload, question
// answering (plain and streamed), and a health probe.
package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amoshnin/documind/config"
	"github.com/amoshnin/documind/ingestion"
	"github.com/amoshnin/documind/llm"
	"github.com/amoshnin/documind/retrieval"
	"github.com/amoshnin/documind/session"
)

// Server wires the HTTP handlers to the retrieval and generation core.
// The llm client is built per request from provider headers; newLLM is a
// field so tests can substitute a stub client.
type Server struct {
	cfg       config.Config
	logger    *log.Logger
	router    chi.Router
	ingest    *ingestion.Service
	retriever *retrieval.Hybrid
	sessions  *session.History
	newLLM    func(llm.Options) (llm.Client, error)
}

func NewServer(cfg config.Config, ingest *ingestion.Service, retriever *retrieval.Hybrid, sessions *session.History, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		ingest:    ingest,
		retriever: retriever,
		sessions:  sessions,
		newLLM:    llm.NewClient,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware(s.cfg.CORSAllowOrigins))
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)

	r.Post("/api/v1/documents/upload", s.handleUpload)
	r.Post("/upload", s.handleUpload)

	r.Post("/api/v1/chat", s.handleChat)
	r.Post("/query", s.handleChat)

	r.Post("/api/v1/chat/stream", s.handleChatStream)
	r.Post("/process", s.handleChatStream)

	s.router = r
}

type healthResponse struct {
	Status                string `json:"status"`
	DenseRetrievalEnabled bool   `json:"dense_retrieval_enabled"`
	BM25Enabled           bool   `json:"bm25_enabled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:                "ok",
		DenseRetrievalEnabled: s.retriever.DenseEnabled(),
		BM25Enabled:           true,
	})
}
