package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpaudit/mcpaudit/internal/adapters"
	"github.com/mcpaudit/mcpaudit/internal/analytics"
	"github.com/mcpaudit/mcpaudit/internal/config"
	"github.com/mcpaudit/mcpaudit/internal/core"
	"github.com/mcpaudit/mcpaudit/internal/store"
)

// NewImportCommand ingests a finished session log in one pass, for sessions
// that were not tracked live.
func NewImportCommand(cfg config.Config) *cobra.Command {
	var platform string
	var project string

	cmd := &cobra.Command{
		Use:   "import <session-file>",
		Short: "Record a finished session log without live tracking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if platform == "" {
				return fmt.Errorf("--platform is required for import")
			}
			adapter, err := adapters.ForPlatform(platform, "")
			if err != nil {
				return err
			}
			if project == "" {
				project = detectProjectName()
			}

			session := core.NewSession(adapter.Platform(), project)
			session.SourceFiles = append(session.SourceFiles, args[0])

			var dropped int
			if err := adapter.ParseBatch(args[0], func(ev core.Event) {
				if applyErr := session.Apply(ev); applyErr != nil {
					dropped++
				}
			}); err != nil {
				return err
			}

			for k, v := range adapter.Metadata() {
				session.Metadata[k] = v
			}
			if model, ok := adapter.Metadata()["model"]; ok {
				session.SetModel(model)
			}

			snap, err := session.Finalize()
			if errors.Is(err, core.ErrEmptySession) {
				fmt.Fprintln(cmd.OutOrStdout(), "no activity in session file, nothing recorded")
				return nil
			}
			if err != nil {
				return err
			}
			snap.Smells = analytics.DetectSmells(snap, cfg.Smells)

			st, err := store.Open(cfg.ResolveSessionsDir())
			if err != nil {
				return err
			}
			defer st.Close()

			dir, err := st.SaveSnapshot(context.Background(), snap)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s: %d tokens, %d MCP calls\n",
				dir, snap.Tokens.Total, snap.MCP.TotalCalls)
			if dropped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %d events\n", dropped)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&platform, "platform", "p", "", "platform the session file belongs to (required)")
	cmd.Flags().StringVar(&project, "project", "", "project name to tag the session with")
	return cmd
}
