// Package main is the entry point for the headless LOD streaming simulator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Faultbox/midgard-hlod/internal/config"
)

var (
	flags config.Flags

	rootCmd = &cobra.Command{
		Use:   "hlodsim",
		Short: "Headless hierarchical LOD streaming simulator",
		Long: `hlodsim builds a grid of quadtree chunks, streams their high and low
detail objects with asynchronous loaders and flies a camera around them.`,
		SilenceUsage: true,
	}
)

func init() {
	flags.Bind(rootCmd.PersistentFlags())
	rootCmd.AddCommand(runCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
