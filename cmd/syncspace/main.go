// Command syncspace is a collaborative document workspace: a reference
// server (document store + broadcast relay) and a client that keeps a
// local file in sync with a shared document.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "syncspace",
	Short: "Real-time collaborative document workspace",
	Long: `SyncSpace keeps a document in sync across clients in real time.

Every client edits a local copy; edits propagate to other clients through
a broadcast relay and are persisted to the document store after a short
quiet period. The server half of this binary provides both the store and
the relay.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "documents", Title: "Document Commands:"},
	)
	rootCmd.AddCommand(serveCmd, editCmd, docsCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
