package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"conubium/internal/identity"
)

var nullifierB64 bool

var nullifierCmd = &cobra.Command{
	Use:   "nullifier [file]",
	Short: "Derive the canonical nullifier for an attestation blob",
	Long: "Derive the canonical nullifier for an attestation blob.\n\n" +
		"Reads the blob from the given file, or from stdin when no file is\n" +
		"given. The derived nullifier is the identity the attestation stands\n" +
		"for under nullifier binding.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := readBlob(args)
		if err != nil {
			return err
		}
		if nullifierB64 {
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(blob)))
			if err != nil {
				return fmt.Errorf("decode base64 attestation: %w", err)
			}
			blob = decoded
		}
		if len(blob) == 0 {
			return fmt.Errorf("attestation blob is empty")
		}
		fmt.Fprintln(cmd.OutOrStdout(), identity.DeriveNullifier(blob))
		return nil
	},
}

func init() {
	nullifierCmd.Flags().BoolVar(&nullifierB64, "base64", false, "input is base64 encoded, decode before deriving")
	rootCmd.AddCommand(nullifierCmd)
}

func readBlob(args []string) ([]byte, error) {
	if len(args) == 0 {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}
