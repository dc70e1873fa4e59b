package main

import (
	"github.com/urfave/cli/v2"

	"github.com/neural-garage/tools/internal/mcpserver"
)

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Start the MCP server over stdio",
		Description: `Starts a Model Context Protocol server that exposes dead code
analysis as tools for LLM clients.

Example client configuration:
  {
    "mcpServers": {
      "bury": {"command": "bury", "args": ["mcp"]}
    }
  }`,
		Action: func(c *cli.Context) error {
			server := mcpserver.NewServer(version, mcpserver.WithLogger(loggerFrom(c)))
			return server.Run(c.Context)
		},
	}
}
