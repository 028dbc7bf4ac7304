package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/echobase-ai/echobase/internal/app"
	"github.com/echobase-ai/echobase/internal/config"
	"github.com/echobase-ai/echobase/internal/knowledge"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge bases",
}

var kbCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			kb := knowledge.KnowledgeBase{
				ID:        uuid.New().String(),
				Name:      args[0],
				CreatedAt: time.Now().UTC(),
			}
			if err := a.Docs.CreateKnowledgeBase(ctx, kb); err != nil {
				return fmt.Errorf("creating knowledge base: %w", err)
			}
			fmt.Printf("Created knowledge base %q\n  ID: %s\n", kb.Name, kb.ID)
			return nil
		})
	},
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge bases",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			kbs, err := a.Docs.ListKnowledgeBases(ctx)
			if err != nil {
				return fmt.Errorf("listing knowledge bases: %w", err)
			}
			if len(kbs) == 0 {
				fmt.Println("No knowledge bases.")
				return nil
			}
			for _, kb := range kbs {
				documents, err := a.Docs.ListDocuments(ctx, kb.ID)
				if err != nil {
					return fmt.Errorf("listing documents: %w", err)
				}
				fmt.Printf("%s  %s  (%d documents)\n", kb.ID, kb.Name, len(documents))
			}
			return nil
		})
	},
}

var kbDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a knowledge base and all of its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Orchestrator.DeleteKnowledgeBase(ctx, args[0]); err != nil {
				return fmt.Errorf("deleting knowledge base: %w", err)
			}
			fmt.Printf("Deleted knowledge base %s\n", args[0])
			return nil
		})
	},
}

func init() {
	kbCmd.AddCommand(kbCreateCmd, kbListCmd, kbDeleteCmd)
	rootCmd.AddCommand(kbCmd)
}

// withApp loads config, sets up the application, runs fn, and tears down.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	a, err := app.Setup(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		_ = a.Close()
	}()

	return fn(ctx, a)
}
