package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"conubium/internal/merkle"
	"conubium/pkg/domain"
	platformstrings "conubium/pkg/platform/strings"
)

var rosterIn string

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Build the eligibility roster tree and emit membership proofs",
}

var rosterBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compute the roster root over a newline list of identity hashes",
	RunE: func(cmd *cobra.Command, args []string) error {
		identities, err := readIdentities(rosterIn)
		if err != nil {
			return err
		}
		roster, err := merkle.BuildRoster(identities)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"root": roster.Root(),
			"size": roster.Size(),
		})
	},
}

var proveIdentity string

var rosterProveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Emit the membership proof for one identity in the roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		party, err := domain.ParseIdentity(proveIdentity)
		if err != nil {
			return fmt.Errorf("parse identity: %w", err)
		}
		identities, err := readIdentities(rosterIn)
		if err != nil {
			return err
		}
		roster, err := merkle.BuildRoster(identities)
		if err != nil {
			return err
		}
		path, err := roster.Proof(party)
		if err != nil {
			return err
		}
		if !merkle.VerifyMembership(domain.Hash32(party), roster.Root(), path) {
			return fmt.Errorf("produced proof does not verify, roster is inconsistent")
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"identity": party,
			"root":     roster.Root(),
			"path":     path,
		})
	},
}

func init() {
	rosterCmd.PersistentFlags().StringVar(&rosterIn, "in", "-", "identity list file, one 0x-hex identity per line, - for stdin")
	rosterProveCmd.Flags().StringVar(&proveIdentity, "identity", "", "identity to prove membership for")
	_ = rosterProveCmd.MarkFlagRequired("identity")

	rosterCmd.AddCommand(rosterBuildCmd)
	rosterCmd.AddCommand(rosterProveCmd)
	rootCmd.AddCommand(rosterCmd)
}

// readIdentities parses one identity per line, skipping blanks, # comments,
// and duplicate entries. Roster exports often concatenate per-office lists,
// so the same identity showing up twice is expected input, not an error.
func readIdentities(path string) ([]domain.Identity, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var identities []domain.Identity
	for _, line := range platformstrings.DedupeAndTrim(lines) {
		party, err := domain.ParseIdentity(line)
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", line, err)
		}
		identities = append(identities, party)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities in input")
	}
	return identities, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
