// Package ingest drives a document through the pipeline:
// fetch → extract → chunk → embed → upsert, with explicit state transitions
// on the document record. One orchestrator run owns one document at a time;
// the pending → extracting compare-and-set in the document store serializes
// concurrent runs on the same document.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avast/retry-go/v4"
	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/echobase-ai/echobase/internal/chunk"
	"github.com/echobase-ai/echobase/internal/extract"
	"github.com/echobase-ai/echobase/internal/knowledge"
	"github.com/echobase-ai/echobase/internal/vector"
)

// Config is the ingestion policy.
type Config struct {
	// MaxChunkSize bounds chunk length in characters (word-boundary based).
	MaxChunkSize int

	// EmbedConcurrency bounds concurrent embedding calls per document.
	EmbedConcurrency int

	// EmbedRate limits embedding calls per second across the orchestrator.
	// Zero disables rate limiting.
	EmbedRate float64

	// MaxAttempts bounds retries of transient embedding/upsert failures.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = chunk.DefaultMaxSize
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Orchestrator runs document ingestions. Safe for concurrent use; per-document
// serialization is enforced by the store's claim CAS, not by local locking, so
// it holds across processes too.
type Orchestrator struct {
	docs       knowledge.DocumentStore
	fetcher    extract.Fetcher
	extractors *extract.Registry
	embedder   ai.Embedder
	vectors    vector.Store
	limiter    *rate.Limiter
	cfg        Config
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(
	docs knowledge.DocumentStore,
	fetcher extract.Fetcher,
	extractors *extract.Registry,
	embedder ai.Embedder,
	vectors vector.Store,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	var limiter *rate.Limiter
	if cfg.EmbedRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRate), cfg.EmbedConcurrency)
	}

	return &Orchestrator{
		docs:       docs,
		fetcher:    fetcher,
		extractors: extractors,
		embedder:   embedder,
		vectors:    vectors,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Ingest processes one pending document to completion. On any failure the
// document ends in failed with the cause recorded and no partial vector
// records left behind; on success it ends in processed. Returns ErrNotPending
// (wrapped) when the document is not pending, including when another run
// holds the claim.
func (o *Orchestrator) Ingest(ctx context.Context, documentID string) error {
	doc, err := o.docs.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	// Claim the document. Losing the CAS means it is not pending anymore,
	// either because it already ran or because a concurrent run owns it.
	if err := o.docs.ClaimForExtraction(ctx, documentID); err != nil {
		if doc.Status != knowledge.StatusPending {
			return fmt.Errorf("%w: status is %s", ErrNotPending, doc.Status)
		}
		return err
	}

	o.logger.Info("ingestion started",
		"document_id", documentID, "format", doc.Format, "knowledge_base_id", doc.KnowledgeBaseID)

	data, err := o.fetcher.Fetch(ctx, doc.SourceURL)
	if err != nil {
		ferr := &FetchError{URL: doc.SourceURL, Err: err}
		return o.fail(ctx, documentID, ferr, false)
	}

	// Extraction failures are not retried: they indicate a malformed or
	// unsupported source that needs operator intervention.
	text, err := o.extractors.Extract(ctx, doc.Format, data)
	if err != nil {
		return o.fail(ctx, documentID, err, false)
	}

	if err := o.docs.MarkEmbedding(ctx, documentID, text); err != nil {
		return err
	}

	chunks := chunk.Split(text, o.cfg.MaxChunkSize)

	var records []vector.Record
	if len(chunks) > 0 {
		embeddings, err := o.embedChunks(ctx, chunks)
		if err != nil {
			return o.fail(ctx, documentID, err, true)
		}

		records = make([]vector.Record, len(chunks))
		for i, c := range chunks {
			records[i] = vector.Record{
				ID:              vector.RecordID(documentID, c.Index),
				DocumentID:      documentID,
				KnowledgeBaseID: doc.KnowledgeBaseID,
				ChunkIndex:      c.Index,
				Text:            c.Text,
				Embedding:       embeddings[i],
			}
		}
	}

	if err := o.replaceRecords(ctx, doc.KnowledgeBaseID, documentID, records); err != nil {
		return o.fail(ctx, documentID, err, true)
	}

	if err := o.docs.MarkProcessed(ctx, documentID, len(chunks)); err != nil {
		return err
	}

	o.logger.Info("ingestion completed", "document_id", documentID, "chunks", len(chunks))
	return nil
}

// Reprocess resets a processed or failed document to pending and ingests it
// again. The new run replaces the document's records wholesale, so content
// that shrank to fewer chunks leaves no surplus records from the previous run.
func (o *Orchestrator) Reprocess(ctx context.Context, documentID string) error {
	if err := o.docs.ResetForReprocess(ctx, documentID); err != nil {
		return err
	}
	return o.Ingest(ctx, documentID)
}

// DeleteDocument removes a document and all of its vector records. Vector
// cleanup runs first so a crash cannot leave records whose document is gone.
func (o *Orchestrator) DeleteDocument(ctx context.Context, documentID string) error {
	if err := o.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete vector records: %w", err)
	}
	return o.docs.DeleteDocument(ctx, documentID)
}

// DeleteKnowledgeBase removes a knowledge base, its documents, and their
// vector records. In-flight ingestions of member documents lose their next
// status CAS once the document row is gone and abort on that error.
func (o *Orchestrator) DeleteKnowledgeBase(ctx context.Context, knowledgeBaseID string) error {
	docs, err := o.docs.ListDocuments(ctx, knowledgeBaseID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := o.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete vector records for document %q: %w", doc.ID, err)
		}
	}
	return o.docs.DeleteKnowledgeBase(ctx, knowledgeBaseID)
}

// embedChunks embeds all chunks, bounded by the concurrency limit and the
// shared rate limiter. Chunk order is preserved in the result. Transient
// provider failures are retried with exponential backoff before giving up.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error) {
	embeddings := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EmbedConcurrency)

	for i, c := range chunks {
		g.Go(func() error {
			emb, err := o.embedOne(gctx, c.Text)
			if err != nil {
				return &EmbeddingError{ChunkIndex: c.Index, Transient: isTransient(err), Err: err}
			}
			embeddings[i] = emb
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

func (o *Orchestrator) embedOne(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32

	err := retry.Do(
		func() error {
			if o.limiter != nil {
				if err := o.limiter.Wait(ctx); err != nil {
					return err
				}
			}

			dim := vector.Dimension
			resp, err := o.embedder.Embed(ctx, &ai.EmbedRequest{
				Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
				Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
			})
			if err != nil {
				return err
			}
			if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
				return fmt.Errorf("empty embedding returned")
			}
			embedding = resp.Embeddings[0].Embedding
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.cfg.MaxAttempts)),
		retry.RetryIf(isTransient),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	return embedding, err
}

// replaceRecords swaps the document's vector records for the new batch,
// retrying transient store failures. Deleting first removes surplus records
// when the new content yields fewer chunks than the previous run.
func (o *Orchestrator) replaceRecords(ctx context.Context, knowledgeBaseID, documentID string, records []vector.Record) error {
	err := retry.Do(
		func() error {
			if err := o.vectors.DeleteByDocument(ctx, documentID); err != nil {
				return err
			}
			if len(records) == 0 {
				return nil
			}
			return o.vectors.Upsert(ctx, knowledgeBaseID, records)
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.cfg.MaxAttempts)),
		retry.RetryIf(isTransient),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return &UpsertError{Err: err}
	}
	return nil
}

// fail finalizes a failed ingestion: optionally compensate for partial
// external writes, then record the cause on the document. Runs on a
// cancellation-free context so a cancelled job still lands in failed rather
// than stuck mid-pipeline.
func (o *Orchestrator) fail(ctx context.Context, documentID string, cause error, cleanup bool) error {
	finalCtx := context.WithoutCancel(ctx)

	if cleanup {
		// Best effort: cleanup failures are logged separately, never masked
		// over the ingestion failure.
		if err := o.vectors.DeleteByDocument(finalCtx, documentID); err != nil {
			o.logger.Error("failed to clean up partial vector records",
				"document_id", documentID, "error", err)
		}
	}

	if err := o.docs.MarkFailed(finalCtx, documentID, cause.Error()); err != nil {
		o.logger.Error("failed to mark document failed",
			"document_id", documentID, "error", err)
	}

	o.logger.Warn("ingestion failed", "document_id", documentID, "error", cause)
	return cause
}
