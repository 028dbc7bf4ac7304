package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Transcriber is the speech-to-text capability behind audio extraction.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte) (string, error)
}

// Audio extracts text from audio documents by transcribing them.
type Audio struct {
	Transcriber Transcriber
}

func (a Audio) Extract(ctx context.Context, data []byte) (string, error) {
	if a.Transcriber == nil {
		return "", fmt.Errorf("no transcriber configured")
	}
	text, err := a.Transcriber.Transcribe(ctx, data)
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return text, nil
}

const transcribePrompt = "Transcribe this audio recording verbatim. " +
	"Output only the spoken words, with no commentary."

// ModelTranscriber transcribes audio with a multimodal generation model.
type ModelTranscriber struct {
	Genkit    *genkit.Genkit
	ModelName string

	// ContentType of the audio payload. Defaults to audio/mpeg.
	ContentType string
}

func (t *ModelTranscriber) Transcribe(ctx context.Context, data []byte) (string, error) {
	contentType := t.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	dataURI := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := genkit.Generate(ctx, t.Genkit,
		ai.WithModelName(t.ModelName),
		ai.WithMessages(ai.NewUserMessage(
			ai.NewTextPart(transcribePrompt),
			ai.NewMediaPart(contentType, dataURI),
		)),
	)
	if err != nil {
		return "", fmt.Errorf("transcription model call failed: %w", err)
	}

	return strings.TrimSpace(resp.Text()), nil
}
