package knowledge

import (
	"context"
	"errors"
	"time"
)

// Status is a document's position in the ingestion state machine.
type Status string

// Document processing states, in forward order.
const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusEmbedding  Status = "embedding"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusExtracting, StatusEmbedding, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from s to
// next. Reprocessing (processed|failed → pending) is included because it is
// the one sanctioned regression; failed is never reachable from pending.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusExtracting
	case StatusExtracting:
		return next == StatusEmbedding || next == StatusFailed
	case StatusEmbedding:
		return next == StatusProcessed || next == StatusFailed
	case StatusProcessed, StatusFailed:
		return next == StatusPending
	}
	return false
}

// Format is the declared format of an uploaded document.
type Format string

// Supported document formats. FormatOther routes to the fallback extractor.
const (
	FormatPDF   Format = "pdf"
	FormatCSV   Format = "csv"
	FormatText  Format = "txt"
	FormatJSON  Format = "json"
	FormatAudio Format = "audio"
	FormatOther Format = "other"
)

// ParseFormat maps a declared format string to a Format, defaulting to
// FormatOther for anything unrecognized.
func ParseFormat(s string) Format {
	switch Format(s) {
	case FormatPDF, FormatCSV, FormatText, FormatJSON, FormatAudio:
		return Format(s)
	}
	return FormatOther
}

// KnowledgeBase is a named collection of documents searchable as one
// retrieval scope.
type KnowledgeBase struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
}

// Document is an uploaded source tracked through the ingestion pipeline.
// ExtractedContent and ErrorDetail are nil until extraction succeeds or the
// document fails, respectively.
type Document struct {
	ID               string
	KnowledgeBaseID  string
	SourceURL        string
	Format           Format
	Status           Status
	ExtractedContent *string
	ErrorDetail      *string
	ChunkCount       int
	CreatedAt        time.Time
	StatusChangedAt  time.Time
}

// Store errors shared by all implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a status update that the state machine
	// forbids, including losing a compare-and-set claim race.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DocumentStore persists knowledge bases and documents. Status-changing
// methods are guarded: they fail with ErrInvalidTransition unless the
// document is currently in the expected predecessor state, which serializes
// concurrent orchestrator runs on the same document.
type DocumentStore interface {
	CreateKnowledgeBase(ctx context.Context, kb KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (KnowledgeBase, error)
	DeleteKnowledgeBase(ctx context.Context, id string) error
	ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error)

	CreateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, knowledgeBaseID string) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// ClaimForExtraction atomically moves a pending document to extracting.
	// Returns ErrInvalidTransition if the document is not pending.
	ClaimForExtraction(ctx context.Context, id string) error

	// MarkEmbedding persists the extracted text and moves extracting → embedding.
	MarkEmbedding(ctx context.Context, id string, extractedContent string) error

	// MarkProcessed moves embedding → processed and records the chunk count.
	MarkProcessed(ctx context.Context, id string, chunkCount int) error

	// MarkFailed moves extracting|embedding → failed and records the cause.
	MarkFailed(ctx context.Context, id string, cause string) error

	// ResetForReprocess moves processed|failed → pending, clearing error
	// detail and chunk count. Extracted content is kept for display until the
	// next extraction overwrites it.
	ResetForReprocess(ctx context.Context, id string) error

	// DocumentStatuses returns the current status for each existing id.
	// Unknown ids are omitted rather than reported as errors.
	DocumentStatuses(ctx context.Context, ids []string) (map[string]Status, error)
}
