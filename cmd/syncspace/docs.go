package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncspace/syncspace/internal/config"
	"github.com/syncspace/syncspace/internal/docstore"
	"github.com/syncspace/syncspace/internal/ui"
)

var docsCmd = &cobra.Command{
	Use:     "docs",
	GroupID: "documents",
	Short:   "Manage documents in the store",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		docs, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents found. Create one with: syncspace docs create --title \"...\"")
			return nil
		}

		for _, doc := range docs {
			title := doc.Title
			if title == "" {
				title = "Untitled Doc"
			}
			fmt.Printf("%s %s\n", ui.RenderTitle(title), ui.RenderMuted("("+doc.ID+")"))
			if preview := contentPreview(doc.Content); preview != "" {
				fmt.Printf("   %s\n", preview)
			}
			if !doc.CreatedAt.IsZero() {
				fmt.Printf("   %s\n", ui.RenderMuted(doc.CreatedAt.Local().Format("Jan 2, 2006")))
			}
		}
		return nil
	},
}

var docsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new empty document",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeClient()
		if err != nil {
			return err
		}
		title, _ := cmd.Flags().GetString("title")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		doc, err := store.Save(ctx, docstore.Document{Title: title, Content: ""})
		if err != nil {
			return err
		}

		fmt.Printf("%s Created %s %s\n", ui.RenderPass("✓"), ui.RenderTitle(doc.Title), ui.RenderMuted("("+doc.ID+")"))
		fmt.Printf("   Open it with: syncspace edit %s\n", doc.ID)
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Deletion is an explicit user action, so unlike autosave its
		// failure is surfaced directly rather than just logged.
		if err := store.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}

		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

func storeClient() (*docstore.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return docstore.NewClient(cfg.Store.URL), nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// contentPreview strips markup and truncates for list display. The cut
// is at a rune boundary so multi-byte characters never get split.
func contentPreview(content string) string {
	text := strings.TrimSpace(tagPattern.ReplaceAllString(content, ""))
	if text == "" {
		return ""
	}
	if runes := []rune(text); len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return text
}

func init() {
	docsCreateCmd.Flags().String("title", "Untitled Doc", "Document title")
	docsCmd.AddCommand(docsListCmd, docsCreateCmd, docsDeleteCmd)
}
