package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "presenced",
	Short: "presenced tracks player presence across application instances",
	Long: `presenced serves client connections, drives the session presence state
machine and ages out idle sessions. The other commands inspect and maintain
the shared presence store.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (json or yaml); PRESENCE_* env vars override it")
}
