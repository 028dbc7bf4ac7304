// Package chunk splits extracted text into bounded-size segments for
// embedding. Chunking is a pure function of (text, maxSize): identical inputs
// always produce identical chunks, which the deterministic vector record
// identifiers depend on.
package chunk

import (
	"strings"
	"unicode"
)

// DefaultMaxSize is the chunking limit in characters when the caller passes
// a non-positive size.
const DefaultMaxSize = 1000

// Chunk is one bounded segment of a document's extracted text. Start and End
// are byte offsets of the segment's first and last token within the original
// text.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Split greedily accumulates whitespace-delimited tokens into chunks of at
// most maxSize characters, counting a single separating space between
// tokens. Tokens are never split: a single token longer than maxSize is
// emitted alone, exceeding the nominal limit rather than being corrupted.
// Empty or all-whitespace text yields no chunks.
func Split(text string, maxSize int) []Chunk {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var chunks []Chunk
	var buf strings.Builder
	start := -1 // byte offset of the current chunk's first token
	end := 0    // byte offset just past the current chunk's last token

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  buf.String(),
			Start: start,
			End:   end,
		})
		buf.Reset()
		start = -1
	}

	for tok := range tokens(text) {
		if buf.Len() > 0 && buf.Len()+1+len(tok.text) > maxSize {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		} else {
			start = tok.start
		}
		buf.WriteString(tok.text)
		end = tok.end
	}
	flush()

	return chunks
}

type token struct {
	text  string
	start int
	end   int
}

// tokens yields whitespace-delimited tokens with their byte offsets.
func tokens(text string) func(yield func(token) bool) {
	return func(yield func(token) bool) {
		tokStart := -1
		for i, r := range text {
			if unicode.IsSpace(r) {
				if tokStart >= 0 {
					if !yield(token{text: text[tokStart:i], start: tokStart, end: i}) {
						return
					}
					tokStart = -1
				}
				continue
			}
			if tokStart < 0 {
				tokStart = i
			}
		}
		if tokStart >= 0 {
			yield(token{text: text[tokStart:], start: tokStart, end: len(text)})
		}
	}
}

// Join reproduces the whitespace-normalized text from a chunk list. Used by
// tests to verify that chunking loses no content.
func Join(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, " ")
}
