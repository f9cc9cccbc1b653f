package main

import (
	"context"

	"github.com/helicon-ai/helicon/pkg/runtime"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host string `help:"Bind address (overrides config)."`
	Port int    `help:"Listen port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI, ctx context.Context) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}
