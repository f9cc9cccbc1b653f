package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/helicon-ai/helicon/pkg/agent"
	"github.com/helicon-ai/helicon/pkg/model"
	"github.com/helicon-ai/helicon/pkg/runtime"
)

// ChatCmd is an interactive terminal session against the local stack.
type ChatCmd struct {
	NoTools bool   `help:"Disable tool use for this session."`
	Think   string `help:"Reasoning level (low, medium, high)."`
}

func (c *ChatCmd) Run(cli *CLI, ctx context.Context) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println("helicon chat — type a message, or /quit to exit")
	}

	var conversation []model.ChatMessage
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		conversation = append(conversation, model.UserMessage(line))
		final, appended := c.streamRun(ctx, rt, conversation)
		conversation = append(conversation, appended...)
		if final != "" {
			conversation = append(conversation, model.AssistantMessage(final))
		}

		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

// streamRun prints one agent run and returns the final answer plus the
// intermediate messages to keep in the conversation.
func (c *ChatCmd) streamRun(ctx context.Context, rt *runtime.Runtime, conversation []model.ChatMessage) (string, []model.ChatMessage) {
	events, record := rt.Agent().Run(ctx, conversation, agent.RunOptions{
		EnableTools: !c.NoTools,
		Think:       c.Think,
	})

	for ev := range events {
		switch ev.Type {
		case model.EventToken:
			fmt.Print(ev.Token.Text)
		case model.EventTool:
			switch ev.Tool.Status {
			case model.ToolStatusStart:
				fmt.Fprintf(os.Stderr, "[tool] %s …\n", ev.Tool.Tool)
			case model.ToolStatusError:
				fmt.Fprintf(os.Stderr, "[tool] %s failed (%dms)\n", ev.Tool.Tool, ev.Tool.LatencyMS)
			default:
				fmt.Fprintf(os.Stderr, "[tool] %s done (%dms)\n", ev.Tool.Tool, ev.Tool.LatencyMS)
			}
		case model.EventLog:
			fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Log.Level, ev.Log.Msg)
		case model.EventDone:
			fmt.Println()
			if ev.Done.Metadata.Status != model.StatusSuccess {
				fmt.Fprintf(os.Stderr, "[run ended: %s]\n", ev.Done.Metadata.Status)
			}
		}
	}

	return record.FinalText, record.Messages
}
