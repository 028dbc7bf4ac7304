// Package extract converts raw document bytes into normalized text.
//
// Each format has an Extractor implementation; a Registry dispatches on the
// document's declared format and falls back to a best-effort plain-text
// extraction for unknown formats. Extraction is a pure transform over bytes:
// fetching the bytes is the separate Fetcher capability (fetch.go), so
// extractors are testable without network I/O.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/echobase-ai/echobase/internal/knowledge"
)

// ErrUnsupportedFormat indicates no extractor is registered for a format and
// no fallback is configured.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Error is an extraction failure carrying the offending format.
type Error struct {
	Format knowledge.Format
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed for format %q: %v", e.Format, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Extractor converts raw bytes of one format into normalized text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, data []byte) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (string, error) {
	return f(ctx, data)
}

// Registry dispatches extraction by declared format. New formats register
// without touching the ingestion orchestrator.
type Registry struct {
	extractors map[knowledge.Format]Extractor
	fallback   Extractor
}

// NewRegistry creates a Registry with the standard text, CSV and JSON
// extractors registered and Fallback handling unknown formats. PDF and audio
// need external dependencies and are registered by the caller.
func NewRegistry() *Registry {
	r := &Registry{
		extractors: make(map[knowledge.Format]Extractor),
		fallback:   Fallback{},
	}
	r.Register(knowledge.FormatText, Text{})
	r.Register(knowledge.FormatCSV, CSV{})
	r.Register(knowledge.FormatJSON, JSON{})
	return r
}

// Register binds an extractor to a format, replacing any previous binding.
func (r *Registry) Register(format knowledge.Format, e Extractor) {
	r.extractors[format] = e
}

// Extract runs the extractor registered for format, or the fallback for
// unregistered formats. Failures are wrapped in *Error with the format
// attached; no partial text is ever returned alongside an error.
func (r *Registry) Extract(ctx context.Context, format knowledge.Format, data []byte) (string, error) {
	e, ok := r.extractors[format]
	if !ok {
		if r.fallback == nil {
			return "", &Error{Format: format, Err: ErrUnsupportedFormat}
		}
		e = r.fallback
	}

	text, err := e.Extract(ctx, data)
	if err != nil {
		return "", &Error{Format: format, Err: err}
	}
	return text, nil
}
