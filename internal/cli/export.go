package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/headerlock/internal/config"
)

func exportCmd() *cobra.Command {
	var addr string
	var token string
	var outFile string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the current profile as a JSON document",
		Long: `Fetch the running daemon's profile as an interchange document,
suitable for backup or for importing on another machine. A pending
expiry is exported as the minutes remaining, so an import restarts the
window from the time of import.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newDaemonClient(addr, token)

			body, err := client.get("/api/v1/profile/export")
			if err != nil {
				return err
			}

			if outFile == "" {
				cmd.Print(string(body))
				return nil
			}
			if err := os.WriteFile(outFile, body, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", outFile, err)
			}
			cmd.Printf("Exported profile to %s\n", outFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", config.DefaultListen, "daemon address")
	cmd.Flags().StringVarP(&token, "token", "t", "", "API bearer token (or "+tokenEnvVar+")")
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "write to file instead of stdout")

	return cmd
}
