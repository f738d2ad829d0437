package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lyricsync",
		Short:        "Synchronized lyrics for the running music player",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Config file (default $XDG_CONFIG_HOME/lyricsync/config.toml)")
	root.PersistentFlags().String("log-level", "", "Override the configured log level")

	root.AddCommand(
		cmdRun(),
		cmdFetch(),
		cmdImport(),
		cmdOffset(),
		cmdExclude(),
		cmdRefresh(),
	)
	return root
}
