package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uploader",
		Short: "Upload files straight to storage with signed POST policies",
		Long: `uploader sends local files to an object store using signatures issued
by a signing endpoint, writes each resulting URL into a form and saves it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		uploadCmd(),
		versionCmd(),
	)
	return rootCmd
}
