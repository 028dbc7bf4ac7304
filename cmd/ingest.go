package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/echobase-ai/echobase/internal/app"
	"github.com/echobase-ai/echobase/internal/knowledge"
)

var (
	ingestKB     string
	ingestFormat string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [url]",
	Short: "Ingest a document into a knowledge base",
	Long: `Registers a document by URL and processes it to completion: the content
is fetched, converted to text, chunked, embedded, and written to the vector
index. The command blocks until the document is processed or failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runIngest(args[0])
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestKB, "kb", "", "knowledge base ID (required)")
	ingestCmd.Flags().StringVar(&ingestFormat, "format", "txt", "document format: pdf, csv, txt, json, audio, other")
	_ = ingestCmd.MarkFlagRequired("kb")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(sourceURL string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		if _, err := a.Docs.GetKnowledgeBase(ctx, ingestKB); err != nil {
			return fmt.Errorf("loading knowledge base %s: %w", ingestKB, err)
		}

		now := time.Now().UTC()
		doc := knowledge.Document{
			ID:              uuid.New().String(),
			KnowledgeBaseID: ingestKB,
			SourceURL:       sourceURL,
			Format:          knowledge.ParseFormat(ingestFormat),
			Status:          knowledge.StatusPending,
			CreatedAt:       now,
			StatusChangedAt: now,
		}
		if err := a.Docs.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("registering document: %w", err)
		}
		fmt.Printf("Registered document %s\n", doc.ID)

		if err := a.Orchestrator.Ingest(ctx, doc.ID); err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}

		processed, err := a.Docs.GetDocument(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("loading document: %w", err)
		}
		fmt.Printf("Processed %s into %d chunks\n", sourceURL, processed.ChunkCount)
		return nil
	})
}
