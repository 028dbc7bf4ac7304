// Package api provides the JSON HTTP surface of the knowledge-base service:
// knowledge-base and document management, ingestion status, similarity
// queries, and grounded answers.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echobase-ai/echobase/internal/answer"
	"github.com/echobase-ai/echobase/internal/knowledge"
	"github.com/echobase-ai/echobase/internal/retrieve"
	"github.com/echobase-ai/echobase/internal/vector"
)

// HTTP server timeouts.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 120 * time.Second
)

// Retriever is the slice of the retrieval service the API consumes.
type Retriever interface {
	Retrieve(ctx context.Context, query, knowledgeBaseID string, limit int) ([]retrieve.Passage, error)
}

// Answerer generates grounded answers.
type Answerer interface {
	Generate(ctx context.Context, query, knowledgeBaseID string, contextLimit int) (answer.Answer, error)
}

// Ingestor accepts documents for background processing.
type Ingestor interface {
	Enqueue(documentID string) error
}

// Pipeline covers lifecycle operations that touch both the document store
// and the vector store.
type Pipeline interface {
	DeleteDocument(ctx context.Context, documentID string) error
	DeleteKnowledgeBase(ctx context.Context, knowledgeBaseID string) error
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Docs        knowledge.DocumentStore // Required
	Vectors     vector.Store            // Required
	Ingestor    Ingestor                // Required
	Pipeline    Pipeline                // Required
	Retriever   Retriever               // Required
	Answerer    Answerer                // Required
	Pool        *pgxpool.Pool           // Optional: nil disables pool stats in /ready
	CORSOrigins []string                // Allowed origins for CORS
	TrustProxy  bool                    // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int                     // Rate limiter burst size per IP (0 = default 60)
	DefaultTopK int                     // Passages returned when a query omits topK
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Docs == nil || cfg.Vectors == nil {
		return nil, errors.New("document and vector stores are required")
	}
	if cfg.Ingestor == nil || cfg.Pipeline == nil {
		return nil, errors.New("ingestion pipeline is required")
	}
	if cfg.Retriever == nil || cfg.Answerer == nil {
		return nil, errors.New("retrieval services are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	kh := &knowledgeBaseHandler{docs: cfg.Docs, pipeline: cfg.Pipeline, logger: logger}
	dh := &documentHandler{
		docs:     cfg.Docs,
		vectors:  cfg.Vectors,
		ingestor: cfg.Ingestor,
		pipeline: cfg.Pipeline,
		logger:   logger,
	}
	qh := &queryHandler{
		retriever: cfg.Retriever,
		answerer:  cfg.Answerer,
		topK:      cfg.DefaultTopK,
		logger:    logger,
	}

	mux := http.NewServeMux()

	// Knowledge base CRUD
	mux.HandleFunc("POST /api/v1/knowledge-bases", kh.create)
	mux.HandleFunc("GET /api/v1/knowledge-bases", kh.list)
	mux.HandleFunc("GET /api/v1/knowledge-bases/{id}", kh.get)
	mux.HandleFunc("DELETE /api/v1/knowledge-bases/{id}", kh.delete)
	mux.HandleFunc("GET /api/v1/knowledge-bases/{id}/documents", dh.list)

	// Document lifecycle
	mux.HandleFunc("POST /api/v1/documents", dh.create)
	mux.HandleFunc("GET /api/v1/documents/{id}", dh.get)
	mux.HandleFunc("POST /api/v1/documents/{id}/reprocess", dh.reprocess)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.delete)

	// Retrieval
	mux.HandleFunc("POST /api/v1/query", qh.query)
	mux.HandleFunc("POST /api/v1/answer", qh.answer)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so the ID is available in log
	// attributes; CORS before RateLimit so preflight gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes stay outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// NewHTTPServer wraps the Server in an http.Server with timeouts set.
func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}
