package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/headerlock/internal/config"
	"github.com/luckyPipewrench/headerlock/internal/profile"
)

func statusCmd() *cobra.Command {
	var addr string
	var token string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's profile and rule state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newDaemonClient(addr, token)

			body, err := client.get("/api/v1/profile/export")
			if err != nil {
				return err
			}
			var doc profile.Document
			if err := json.Unmarshal(body, &doc); err != nil {
				return fmt.Errorf("parsing profile response: %w", err)
			}

			rulesBody, err := client.get("/api/v1/rules")
			if err != nil {
				return err
			}
			var ruleResp struct {
				Count int `json:"count"`
			}
			if err := json.Unmarshal(rulesBody, &ruleResp); err != nil {
				return fmt.Errorf("parsing rules response: %w", err)
			}

			state := "enabled"
			if !doc.Enabled {
				state = "disabled"
			}
			cmd.Printf("Profile:  %s\n", state)
			cmd.Printf("  headers: %d\n", countFilled(doc.Headers))
			cmd.Printf("  domains: %d (%s)\n", len(doc.Domains), doc.DomainMatchMode)
			if doc.TemporaryMinutes > 0 {
				cmd.Printf("  expires: in %dm\n", doc.TemporaryMinutes)
			}
			cmd.Printf("Rules:    %d installed\n", ruleResp.Count)
			cmd.Printf("Daemon:   %s (checked %s)\n", client.addr, time.Now().Format(time.Kitchen))
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", config.DefaultListen, "daemon address")
	cmd.Flags().StringVarP(&token, "token", "t", "", "API bearer token (or "+tokenEnvVar+")")

	return cmd
}

// countFilled counts header entries with a non-empty key, skipping any
// blank template rows a document may carry.
func countFilled(entries []profile.HeaderEntry) int {
	n := 0
	for _, e := range entries {
		if e.Key != "" {
			n++
		}
	}
	return n
}
