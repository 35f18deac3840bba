package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncspace/syncspace/internal/config"
	"github.com/syncspace/syncspace/internal/logging"
	"github.com/syncspace/syncspace/internal/server"
	"github.com/syncspace/syncspace/internal/storage"
	"github.com/syncspace/syncspace/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the document store and broadcast relay",
	Long: `Run the SyncSpace reference server.

The server provides both halves of the backend:
  - the document store REST API (/documents)
  - the broadcast relay websocket endpoint (/ws)

Documents are persisted to an embedded SQLite database. With a Redis
address configured, relay frames are bridged across server instances
through a pub/sub channel so clients may connect to any instance.

Example usage:
  syncspace serve                  # listen on the configured port
  syncspace serve --port 9000      # override the port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}
		if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
			cfg.Server.DBPath = dbPath
		}

		logger := logging.NewRotating("[server] ", cfg.Server.LogFile)

		db, err := storage.Open(cfg.Server.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open document database: %w", err)
		}
		defer db.Close()

		if err := db.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		var bridge server.Bridge
		if cfg.Redis.Addr != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			bridge, err = server.NewRedisBridge(ctx, cfg.Redis.Addr, cfg.Redis.Password, logger)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to connect relay bridge: %w", err)
			}
			logger.Printf("Relay bridge connected to %s", cfg.Redis.Addr)
		}

		srv, err := server.New(db, &server.Config{
			Port:   cfg.Server.Port,
			Bridge: bridge,
			Logger: logger,
		})
		if err != nil {
			return err
		}

		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		fmt.Printf("%s Server listening on http://localhost:%d\n", ui.RenderPass("✓"), cfg.Server.Port)
		fmt.Printf("   Store:  http://localhost:%d/documents\n", cfg.Server.Port)
		fmt.Printf("   Relay:  ws://localhost:%d/ws\n", cfg.Server.Port)
		fmt.Printf("   Data:   %s\n", cfg.Server.DBPath)
		fmt.Println("\nPress Ctrl+C to stop...")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		return srv.Stop()
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().String("db", "", "Path to the document database (overrides config)")
}
