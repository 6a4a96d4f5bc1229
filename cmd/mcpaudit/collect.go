package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpaudit/mcpaudit/internal/adapters"
	"github.com/mcpaudit/mcpaudit/internal/config"
	"github.com/mcpaudit/mcpaudit/internal/core"
	"github.com/mcpaudit/mcpaudit/internal/store"
	"github.com/mcpaudit/mcpaudit/internal/track"
)

// NewCollectCommand tails the active session of a platform until
// interrupted, then persists the finished session.
func NewCollectCommand(cfg config.Config) *cobra.Command {
	var platform string
	var project string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Track the current coding session live and record it on exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			adapter, err := resolveAdapter(cfg, platform)
			if err != nil {
				return err
			}
			if project == "" {
				project = detectProjectName()
			}

			st, err := store.Open(cfg.ResolveSessionsDir())
			if err != nil {
				return err
			}
			defer st.Close()

			poll := cfg.PollInterval()
			if interval > 0 {
				poll = interval
			}

			tracker, err := track.New(adapter, project, st,
				track.WithPollInterval(poll),
				track.WithSmellConfig(cfg.Smells),
				track.WithCallHistoryCap(cfg.Tracking.CallHistoryCap),
			)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "tracking %s session (%s)\npress Ctrl-C to stop\n",
				adapter.Platform(), adapter.Source())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snap, err := tracker.Run(ctx)
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no activity observed, nothing recorded")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"recorded %s: %d tokens, %d MCP calls across %d tools\n",
				tracker.Dir(), snap.Tokens.Total, snap.MCP.TotalCalls, snap.MCP.UniqueTools)
			if diag := tracker.Diagnostics(); diag.MalformedRecords > 0 || diag.SkippedReads > 0 {
				fmt.Fprintf(cmd.OutOrStdout(),
					"diagnostics: %d malformed records, %d skipped reads\n",
					diag.MalformedRecords, diag.SkippedReads)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&platform, "platform", "p", "", "platform to track (codex-cli, gemini-cli); auto-detected when omitted")
	cmd.Flags().StringVar(&project, "project", "", "project name to tag the session with; defaults to the current directory name")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval override, e.g. 250ms")
	return cmd
}

func resolveAdapter(cfg config.Config, platform string) (core.Adapter, error) {
	if platform == "" {
		platform = cfg.DefaultPlatform
	}
	if platform == "" {
		detected, err := adapters.Detect()
		if err != nil {
			return nil, fmt.Errorf("no active platform detected: %w", err)
		}
		platform = detected
	}
	return adapters.ForPlatform(platform, "")
}

func detectProjectName() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Base(cwd)
}
