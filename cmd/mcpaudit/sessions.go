package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mcpaudit/mcpaudit/internal/config"
	"github.com/mcpaudit/mcpaudit/internal/store"
)

// NewSessionsCommand lists recorded sessions from the index.
func NewSessionsCommand(cfg config.Config) *cobra.Command {
	var platform string
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(cfg.ResolveSessionsDir())
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.ListSessions(context.Background(),
				store.ListFilter{Platform: platform, Limit: limit})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no recorded sessions")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tPLATFORM\tSTART\tTOKENS\tMCP CALLS\tSMELLS")
			for _, rec := range records {
				smells := ""
				if len(rec.Smells) > 0 {
					smells = fmt.Sprintf("%d", len(rec.Smells))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					rec.Dir,
					rec.Platform,
					rec.StartTime.Local().Format("2006-01-02 15:04"),
					rec.TotalTokens,
					rec.MCPCalls,
					smells,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&platform, "platform", "p", "", "only list sessions from this platform")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "cap the number of sessions listed (0 = all)")
	return cmd
}
