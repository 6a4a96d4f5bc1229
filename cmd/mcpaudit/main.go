package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpaudit/mcpaudit/internal/config"
)

func main() {
	if os.Getenv("MCPAUDIT_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Config path: %s\n", config.ConfigPath())
		os.Exit(1)
	}

	root := cobra.Command{
		Use:   "mcpaudit",
		Short: "mcpaudit observes MCP tool usage and token spend across AI coding CLI sessions.",
	}

	root.AddCommand(
		NewCollectCommand(cfg),
		NewImportCommand(cfg),
		NewReportCommand(cfg),
		NewSessionsCommand(cfg),
		NewBrowseCommand(cfg),
		NewVersionCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
