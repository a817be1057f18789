// Package cmd wires grovefs's cobra CLI: a root command carrying the
// global --config/--debug flags, plus serve, bundle, and version
// subcommands registered from init() (spec.md SPEC_FULL §11).
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "grovefs",
	Short: "Local-first, peer-to-peer synchronized virtual filesystem",
	Long: `grovefs mounts a CRDT-backed virtual filesystem that replicates between
peers over a message-oriented transport, and exports/imports its state as a
portable bundle archive.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: ~/.config/grovefs/config.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
}
