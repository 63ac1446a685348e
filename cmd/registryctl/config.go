package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	configServer string
	configToken  string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration of a running registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configToken == "" {
			return fmt.Errorf("--admin-token is required")
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
			strings.TrimRight(configServer, "/")+"/admin/config", nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-Admin-Token", configToken)

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("query registry: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("registry answered %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}

		var pretty map[string]any
		if err := json.Unmarshal(body, &pretty); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), pretty)
	},
}

func init() {
	configCmd.Flags().StringVar(&configServer, "server", "http://localhost:8080", "registry base URL")
	configCmd.Flags().StringVar(&configToken, "admin-token", "", "operator token for the admin API")
	rootCmd.AddCommand(configCmd)
}
