package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/headerlock/internal/config"
)

func importCmd() *cobra.Command {
	var addr string
	var token string

	cmd := &cobra.Command{
		Use:   "import <profile.json>",
		Short: "Import a profile document into the running daemon",
		Long: `Submit a profile document to the running daemon. Parsing is
tolerant: malformed header or domain entries are dropped and an unknown
match mode falls back to the default, but the resulting profile still
passes full validation before anything is persisted.

Use "headerlock check" first to see what an import would do.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0]) //nolint:gosec // G304: path from user
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			client := newDaemonClient(addr, token)
			body, err := client.post("/api/v1/profile/import", data)
			if err != nil {
				return err
			}

			var resp struct {
				Enabled bool     `json:"enabled"`
				Domains []string `json:"domains"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing daemon response: %w", err)
			}

			state := "enabled"
			if !resp.Enabled {
				state = "disabled"
			}
			cmd.Printf("Imported %s: profile %s, %d domain(s)\n", args[0], state, len(resp.Domains))
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", config.DefaultListen, "daemon address")
	cmd.Flags().StringVarP(&token, "token", "t", "", "API bearer token (or "+tokenEnvVar+")")

	return cmd
}
