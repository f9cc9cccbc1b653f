// Command helicon runs the assistant backend.
//
// Usage:
//
//	helicon serve --config config.yaml
//	helicon chat
//	helicon ingest ./docs --recursive
//	helicon tools list
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/helicon-ai/helicon/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`
	Chat    ChatCmd    `cmd:"" help:"Chat with the assistant in the terminal."`
	Ingest  IngestCmd  `cmd:"" help:"Ingest a file, directory, or URL."`
	Tools   ToolsCmd   `cmd:"" help:"Inspect or refresh the tool catalog."`
	Schema  SchemaCmd  `cmd:"" help:"Print the configuration JSON schema."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)." default:""`
}

// loadConfig resolves the configuration: the file when given, environment
// and defaults otherwise. CLI logging flags override the file.
func (cli *CLI) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if cli.Config != "" {
		loaded, err := config.LoadConfig(config.LoaderOptions{Path: cli.Config})
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
		processed, err := config.ProcessConfigPipeline(cfg)
		if err != nil {
			return nil, err
		}
		cfg = processed
	}

	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.LogFile != "" {
		cfg.Logger.File = cli.LogFile
	}
	if cli.LogFormat != "" {
		cfg.Logger.Format = cli.LogFormat
	}
	return cfg, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	fmt.Printf("helicon %s\n", version)
	return nil
}

func main() {
	// .env is optional; absence is not an error.
	godotenv.Load()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("helicon"),
		kong.Description("Multi-user assistant backend: agent loop, tool servers, document search."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "helicon: %v\n", err)
		os.Exit(1)
	}
}
