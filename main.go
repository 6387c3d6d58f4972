package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amoshnin/documind/api"
	"github.com/amoshnin/documind/config"
	"github.com/amoshnin/documind/database"
	"github.com/amoshnin/documind/embeddings"
	"github.com/amoshnin/documind/ingestion"
	"github.com/amoshnin/documind/retrieval"
	"github.com/amoshnin/documind/session"
	"github.com/amoshnin/documind/store"
)

const (
	sessionMaxMessages = 20
	sessionMaxSessions = 200

	warmTimeout     = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		serveCmd(cfg, logger)
	case "ingest":
		ingestCmd(cfg, logger, args)
	default:
		logger.Printf("unknown command: %s", cmd)
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ingest, retriever, sessions, cleanup, err := buildCore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer cleanup()

	if cfg.WarmSparseOnStartup {
		ingest.Warm(ctx, warmTimeout)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(cfg, ingest, retriever, sessions, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	case <-ctx.Done():
		logger.Println("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown: %v", err)
		}
	}
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	path := flags.String("file", "", "path to a PDF or text document")
	chunkSize := flags.Int("chunk-size", 1000, "target chunk size in characters")
	chunkOverlap := flags.Int("chunk-overlap", 150, "overlap between consecutive chunks")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}
	if *path == "" {
		logger.Fatal("ingest requires -file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ingest, _, _, cleanup, err := buildCore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer cleanup()

	count, err := ingest.IngestFile(ctx, *path, *chunkSize, *chunkOverlap)
	if err != nil {
		logger.Fatalf("ingest %s: %v", *path, err)
	}
	logger.Printf("ingested %d chunks from %s", count, *path)
}

// buildCore assembles the shared pipeline: chunk store, sparse index,
// optional dense index, and the hybrid retriever on top.
func buildCore(ctx context.Context, cfg config.Config, logger *log.Logger) (*ingestion.Service, *retrieval.Hybrid, *session.History, func(), error) {
	chunkStore := store.New(cfg.StorePath, logger)

	sparse, err := retrieval.NewSparseIndex(cfg.SparseMaxChunks, logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("sparse index: %w", err)
	}

	cleanups := []func(){func() { sparse.Close() }}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var dense *retrieval.DenseIndex
	if cfg.DenseEnabled {
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			cleanup()
			return nil, nil, nil, nil, fmt.Errorf("postgres connection: %w", err)
		}
		cleanups = append(cleanups, pool.Close)

		if err := database.EnsureSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			cleanup()
			return nil, nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}

		embedder, err := embeddings.NewEmbedder(embeddings.Options{
			Provider:      cfg.Embeddings.Provider,
			Model:         cfg.Embeddings.Model,
			Dimension:     cfg.Embeddings.Dimension,
			OllamaHost:    cfg.OllamaHost,
			OpenAIAPIKey:  cfg.OpenAIAPIKey,
			OpenAIBaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			cleanup()
			return nil, nil, nil, nil, fmt.Errorf("embedder: %w", err)
		}

		dense = retrieval.NewDenseIndex(pool, embedder)
	}

	ingest := ingestion.NewService(chunkStore, dense, sparse, logger)

	var denseSearcher retrieval.Searcher
	if dense != nil {
		denseSearcher = dense
	}
	retriever := retrieval.NewHybrid(denseSearcher, sparse, logger)
	retriever.Rehydrate = ingest.RebuildFromStore

	sessions := session.NewHistory(sessionMaxMessages, sessionMaxSessions)

	return ingest, retriever, sessions, cleanup, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: documind [serve|ingest] [flags]")
	fmt.Fprintln(os.Stderr, "  serve            start the HTTP API (default)")
	fmt.Fprintln(os.Stderr, "  ingest -file F   chunk and index a document from disk")
}
