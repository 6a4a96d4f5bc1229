package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpaudit/mcpaudit/internal/appupdate"
	"github.com/mcpaudit/mcpaudit/internal/version"
)

// NewVersionCommand prints build metadata and, with --check, looks for a
// newer release.
func NewVersionCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "mcpaudit "+version.String())
			if !check {
				return nil
			}

			result, err := appupdate.Check(cmd.Context(), appupdate.CheckOptions{
				CurrentVersion: version.Version,
			})
			if err != nil {
				return fmt.Errorf("update check: %w", err)
			}
			if result.LatestVersion == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "update check skipped for non-release build")
				return nil
			}
			if result.UpdateAvailable {
				fmt.Fprintf(cmd.OutOrStdout(), "update available: %s (installed %s)\n  %s\n",
					result.LatestVersion, result.CurrentVersion, result.UpgradeHint)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "up to date")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "check GitHub for a newer release")
	return cmd
}
