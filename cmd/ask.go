package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/echobase-ai/echobase/internal/app"
)

var (
	askKB      string
	askTopK    int
	askContext int
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against a knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search a knowledge base for similar passages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runQuery(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askKB, "kb", "", "knowledge base ID (required)")
	askCmd.Flags().IntVar(&askContext, "context-limit", 0, "number of passages used to ground the answer")
	_ = askCmd.MarkFlagRequired("kb")

	queryCmd.Flags().StringVar(&askKB, "kb", "", "knowledge base ID (required)")
	queryCmd.Flags().IntVar(&askTopK, "top-k", 0, "number of passages to return")
	_ = queryCmd.MarkFlagRequired("kb")

	rootCmd.AddCommand(askCmd, queryCmd)
}

func runAsk(question string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		ans, err := a.Answerer.Generate(ctx, question, askKB, askContext)
		if err != nil {
			return fmt.Errorf("generating answer: %w", err)
		}

		fmt.Println(ans.Text)
		if len(ans.SourceDocumentIDs) > 0 {
			fmt.Printf("\nSources: %s\n", strings.Join(ans.SourceDocumentIDs, ", "))
		}
		return nil
	})
}

func runQuery(text string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		topK := askTopK
		if topK <= 0 {
			topK = a.Config.Retrieval.TopK
		}

		passages, err := a.Retriever.Retrieve(ctx, text, askKB, topK)
		if err != nil {
			return fmt.Errorf("searching: %w", err)
		}
		if len(passages) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		for i, p := range passages {
			fmt.Printf("%d. [%.3f] %s (chunk %d)\n   %s\n",
				i+1, p.Score, p.DocumentID, p.ChunkIndex, p.Text)
		}
		return nil
	})
}
