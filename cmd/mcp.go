package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trackd/trackd/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This allows Claude Code to query trackd natively for issues, comments,
and reports. Configure in Claude Code with:

  {
    "mcpServers": {
      "trackd": { "command": "trackd", "args": ["mcp"] }
    }
  }

Available tools: trackd_list_issues, trackd_create_issue, trackd_update_issue,
trackd_add_comment, trackd_bulk_status, trackd_top_assignees`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		svc, err := getTracker()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(s, svc)
		return srv.ServeStdio(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
