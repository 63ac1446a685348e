// Package main is the operator CLI: roster construction and membership
// proofs, nullifier derivation, and config inspection against a running
// registry.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "registryctl",
	Short:         "Operator tooling for the conubium registry",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("registryctl:", err)
		os.Exit(1)
	}
}
