package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNotPending indicates an ingest request for a document that is not in
// the pending state. Callers must issue an explicit reprocess instead of
// silently re-running.
var ErrNotPending = errors.New("document is not pending ingestion")

// FetchError indicates the source bytes were unreachable or unreadable.
// Terminal for the ingestion attempt.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch source %q: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EmbeddingError indicates an embedding call failed. Transient failures
// (rate limits, timeouts) are retried with backoff; permanent ones are
// terminal.
type EmbeddingError struct {
	ChunkIndex int
	Transient  bool
	Err        error
}

func (e *EmbeddingError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s embedding failure on chunk %d: %v", kind, e.ChunkIndex, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// UpsertError indicates the vector store write failed. Triggers cleanup of
// any partial records before the document is marked failed.
type UpsertError struct {
	Err error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("vector upsert failed: %v", e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }

// transientMarkers are provider error fragments treated as retryable.
var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"503",
	"connection reset",
	"too many requests",
}

// isTransient classifies provider failures worth retrying. Cancellation is
// never transient: a cancelled ingestion must fail, not spin.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
