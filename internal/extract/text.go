package extract

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Text passes plain text through, repairing invalid UTF-8.
type Text struct{}

func (Text) Extract(_ context.Context, data []byte) (string, error) {
	return strings.ToValidUTF8(string(data), "�"), nil
}

// Fallback is the best-effort extractor for unknown formats: it keeps
// printable text and whitespace and drops everything else, so binary blobs
// degrade to whatever readable fragments they contain.
type Fallback struct{}

func (Fallback) Extract(_ context.Context, data []byte) (string, error) {
	var b strings.Builder
	b.Grow(len(data))

	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		i += size
		if r == utf8.RuneError && size == 1 {
			continue
		}
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}
