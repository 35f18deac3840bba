package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncspace/syncspace/internal/autosave"
	"github.com/syncspace/syncspace/internal/config"
	"github.com/syncspace/syncspace/internal/docstore"
	"github.com/syncspace/syncspace/internal/editor"
	"github.com/syncspace/syncspace/internal/logging"
	"github.com/syncspace/syncspace/internal/relay"
	"github.com/syncspace/syncspace/internal/session"
	"github.com/syncspace/syncspace/internal/ui"
)

var editCmd = &cobra.Command{
	Use:     "edit <document-id>",
	GroupID: "documents",
	Short:   "Open a live editing session on a document",
	Long: `Open a collaborative editing session.

The document content is written to a local file; edit that file with any
editor. Every save propagates to other connected clients through the
relay, and after a quiet period the content is persisted to the store.
Remote edits are applied back to the file without triggering re-publish.

If the relay is unreachable the session runs local-only: editing and
autosave keep working, only live propagation is lost.

Example usage:
  syncspace edit 4f7c2b --file draft.html
  syncspace edit 4f7c2b                       # edits ./4f7c2b.html`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID := args[0]

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			file = docID + ".html"
		}

		surface, err := editor.NewFileSurface(file, logging.New("[surface] "))
		if err != nil {
			return fmt.Errorf("failed to open editing surface: %w", err)
		}

		adapter, err := editor.NewAdapter(surface, logging.New("[editor] "))
		if err != nil {
			return err
		}

		relayCfg := relay.DefaultConfig(cfg.Relay.URL)
		relayCfg.Reconnect = cfg.Relay.Reconnect
		relayCfg.Logger = logging.New("[relay] ")
		client, err := relay.NewClient(relayCfg)
		if err != nil {
			return err
		}

		store := docstore.NewClient(cfg.Store.URL)
		sched, err := autosave.New(store, &autosave.Config{
			QuietPeriod: cfg.Autosave.QuietPeriod,
			Logger:      logging.New("[autosave] "),
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		sess, err := session.Open(ctx, session.Config{
			DocumentID: docID,
			Store:      store,
			Relay:      client,
			Adapter:    adapter,
			Scheduler:  sched,
			Topic:      session.Topic(docID, cfg.Relay.GlobalTopic),
			Logger:     logging.New("[session] "),
		})
		cancel()
		if err != nil {
			_ = adapter.Close()
			return err
		}

		doc := sess.Document()
		fmt.Printf("%s Editing %s\n", ui.RenderPass("✓"), ui.RenderTitle(doc.Title))
		fmt.Printf("   File:  %s\n", file)
		if sess.Degraded() {
			fmt.Printf("   Sync:  %s\n", ui.RenderFail("offline (autosave only)"))
		} else {
			fmt.Printf("   Sync:  %s\n", ui.RenderAccent("live"))
		}
		fmt.Println("\nEdit the file with any editor. Press Ctrl+C to stop...")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		return sess.Close()
	},
}

func init() {
	editCmd.Flags().String("file", "", "Local file to edit (default: <document-id>.html)")
}
