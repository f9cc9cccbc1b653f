package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/helicon-ai/helicon/pkg/auth"
	"github.com/helicon-ai/helicon/pkg/ingest"
	"github.com/helicon-ai/helicon/pkg/runtime"
)

// IngestCmd runs one ingestion and prints the report.
type IngestCmd struct {
	Path string `arg:"" help:"File, directory, or URL to ingest."`

	Recursive  bool     `short:"r" help:"Recurse into subdirectories."`
	FromWeb    bool     `help:"Tag content as web-sourced."`
	Tags       []string `short:"t" help:"Tags to attach to every chunk."`
	Collection string   `help:"Target collection (defaults to the configured one)."`
	User       string   `help:"User the documents belong to." default:""`
}

func (c *IngestCmd) Run(cli *CLI, ctx context.Context) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	userID := c.User
	if userID == "" {
		userID = auth.DefaultUserID
	}

	report, err := rt.Ingestor().IngestPath(ctx, c.Path, ingest.Options{
		Recursive:  c.Recursive,
		FromWeb:    c.FromWeb,
		Tags:       c.Tags,
		Collection: c.Collection,
		UserID:     userID,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
