package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/helicon-ai/helicon/pkg/logger"
	"github.com/helicon-ai/helicon/pkg/mcp"
)

// ToolsCmd inspects the tool catalog without starting the full stack.
type ToolsCmd struct {
	List    ToolsListCmd    `cmd:"" default:"withargs" help:"List discovered tools."`
	Refresh ToolsRefreshCmd `cmd:"" help:"Re-discover tools and list them."`
}

// connectRegistry builds a registry from the configured servers.
func connectRegistry(cli *CLI, ctx context.Context) (*mcp.Registry, error) {
	cfg, err := cli.loadConfig()
	if err != nil {
		return nil, err
	}

	registry := mcp.NewRegistry(cfg.MCP, logger.Default())
	if err := registry.ConnectAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return registry, nil
}

func printCatalog(registry *mcp.Registry) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXPOSED\tQUALIFIED\tSERVER\tDESCRIPTION")
	for _, t := range registry.Tools() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ExposedName, t.QualifiedName, t.ServerID, t.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, s := range registry.ListServers() {
		health := "healthy"
		if !s.Healthy {
			health = "unhealthy"
		}
		fmt.Printf("server %s: %s, %d tools\n", s.ServerID, health, s.ToolCount)
	}
	return nil
}

// ToolsListCmd lists the current catalog.
type ToolsListCmd struct{}

func (c *ToolsListCmd) Run(cli *CLI, ctx context.Context) error {
	registry, err := connectRegistry(cli, ctx)
	if err != nil {
		return err
	}
	defer registry.CloseAll()
	return printCatalog(registry)
}

// ToolsRefreshCmd forces a refresh cycle first.
type ToolsRefreshCmd struct{}

func (c *ToolsRefreshCmd) Run(cli *CLI, ctx context.Context) error {
	registry, err := connectRegistry(cli, ctx)
	if err != nil {
		return err
	}
	defer registry.CloseAll()

	if err := registry.RefreshTools(ctx); err != nil {
		return err
	}
	return printCatalog(registry)
}
