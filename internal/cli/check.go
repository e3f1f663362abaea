package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/headerlock/internal/profile"
	"github.com/luckyPipewrench/headerlock/internal/rules"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <profile.json>",
		Short: "Validate a profile document without applying it",
		Long: `Parse and validate a profile document file offline. Nothing is
persisted and no rules are installed; the command reports what a save of
this document would do.

Exit status is non-zero when the document fails validation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0]) //nolint:gosec // G304: path from user
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			doc, err := profile.ParseDocument(data)
			if err != nil {
				return fmt.Errorf("parsing document: %w", err)
			}

			p, err := profile.Validate(doc.RawInput(), time.Now())
			if err != nil {
				var verr *profile.ValidationError
				if errors.As(err, &verr) {
					cmd.PrintErrf("INVALID: %s (code=%s field=%s)\n", verr.Error(), verr.Code, verr.Field)
					return err
				}
				return err
			}

			compiled := rules.Compile(p)
			cmd.Printf("OK: %s\n", args[0])
			cmd.Printf("  enabled:  %v\n", p.Enabled)
			cmd.Printf("  headers:  %d\n", len(p.Headers))
			cmd.Printf("  domains:  %d (%s)\n", len(p.Domains), p.MatchMode)
			cmd.Printf("  rules:    %d\n", len(compiled))
			if !p.ExpiresAt.IsZero() {
				cmd.Printf("  expires:  %s\n", p.ExpiresAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}
