package main

import (
	"github.com/spf13/cobra"

	"github.com/mcpaudit/mcpaudit/internal/browser"
	"github.com/mcpaudit/mcpaudit/internal/config"
	"github.com/mcpaudit/mcpaudit/internal/store"
)

// NewBrowseCommand opens the interactive session browser.
func NewBrowseCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse recorded sessions interactively",
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := store.Open(cfg.ResolveSessionsDir())
			if err != nil {
				return err
			}
			defer st.Close()

			table, err := loadPricing(cfg)
			if err != nil {
				return err
			}
			return browser.Run(st, table)
		},
	}
}
