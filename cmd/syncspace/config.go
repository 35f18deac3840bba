package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncspace/syncspace/internal/config"
	"github.com/syncspace/syncspace/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage syncspace configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to syncspace.yaml.

The file documents every setting: server port and database path, store
and relay URLs, the autosave quiet period, topic scoping, and the
optional Redis bridge.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("path", "syncspace.yaml", "Where to write the config file")
	configCmd.AddCommand(configInitCmd)
}
