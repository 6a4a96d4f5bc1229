package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpaudit/mcpaudit/internal/config"
	"github.com/mcpaudit/mcpaudit/internal/core"
	"github.com/mcpaudit/mcpaudit/internal/pricing"
	"github.com/mcpaudit/mcpaudit/internal/report"
	"github.com/mcpaudit/mcpaudit/internal/store"
)

// NewReportCommand renders recorded sessions as JSON, Markdown or CSV.
func NewReportCommand(cfg config.Config) *cobra.Command {
	var format string
	var platform string
	var since string
	var limit int
	var topN int
	var output string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a usage report over recorded sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmtParsed, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			filter := store.ListFilter{Platform: platform, Limit: limit}
			if since != "" {
				parsed, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since %q, want YYYY-MM-DD", since)
				}
				filter.Since = parsed
			}

			snaps, err := loadSnapshots(cfg, filter)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				return fmt.Errorf("no recorded sessions match")
			}

			table, err := loadPricing(cfg)
			if err != nil {
				return err
			}

			gen := report.New(table,
				report.WithAdvertisedTools(cfg.AdvertisedTools),
				report.WithTopTools(topN),
			)
			data, err := gen.Render(snaps, fmtParsed)
			if err != nil {
				return err
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format: json, markdown, csv")
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "only include sessions from this platform")
	cmd.Flags().StringVar(&since, "since", "", "only include sessions starting on or after this date (YYYY-MM-DD)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "cap the number of sessions included (0 = all)")
	cmd.Flags().IntVar(&topN, "top-n", 0, "cap tools shown per server in markdown output (0 = all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func loadSnapshots(cfg config.Config, filter store.ListFilter) ([]*core.Snapshot, error) {
	st, err := store.Open(cfg.ResolveSessionsDir())
	if err != nil {
		return nil, err
	}
	defer st.Close()

	records, err := st.ListSessions(context.Background(), filter)
	if err != nil {
		return nil, err
	}
	snaps := make([]*core.Snapshot, 0, len(records))
	for _, rec := range records {
		snap, err := st.LoadSnapshot(rec.Dir)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func loadPricing(cfg config.Config) (*pricing.Table, error) {
	table := pricing.NewTable()
	if cfg.PricingFile != "" {
		if err := table.LoadOverrides(cfg.PricingFile); err != nil {
			return nil, err
		}
	}
	return table, nil
}
