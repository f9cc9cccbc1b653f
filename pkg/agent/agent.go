// Package agent drives the LLM through the single-tool stepper loop:
// reason with tools, execute exactly one tool, feed its result back, repeat
// until the model answers or the iteration budget runs out. Progress streams
// to the caller as events; thinking traces are consumed and never surfaced.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/helicon-ai/helicon/pkg/config"
	"github.com/helicon-ai/helicon/pkg/llm"
	"github.com/helicon-ai/helicon/pkg/model"
	"github.com/helicon-ai/helicon/pkg/observability"
	"github.com/helicon-ai/helicon/pkg/tokens"
)

// eventChannelBuffer decouples the loop from a slow event consumer.
const eventChannelBuffer = 64

// ToolRouter resolves and executes tools. *mcp.Registry implements it.
type ToolRouter interface {
	ToLLMTools() []model.ToolDefinition
	CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// TurnResult is the outcome of one LLM round. Thinking stays internal.
// RequiresFollowup is true exactly when a tool call was kept.
type TurnResult struct {
	Thinking         string
	Content          string
	ToolCalls        []model.ToolCall
	RequiresFollowup bool

	// discarded counts surplus tool calls dropped to enforce the
	// single-tool rule.
	discarded int
}

// ToolRun records one executed tool for persistence.
type ToolRun struct {
	Tool      string
	Args      map[string]interface{}
	StartedAt time.Time
	LatencyMS int64
	Error     string
}

// RunRecord accumulates what a run produced. It must only be read after the
// event channel has closed.
type RunRecord struct {
	// Messages appended to the conversation during the run (assistant
	// tool-call messages, tool results, corrective reminders).
	Messages []model.ChatMessage

	ToolRuns   []ToolRun
	Iterations int
	Status     string
	FinalText  string
}

// RunOptions adjusts one run.
type RunOptions struct {
	// EnableTools attaches the registry catalog to each LLM round.
	EnableTools bool

	// Think overrides the configured reasoning level.
	Think string
}

// Agent owns the completion loop for one deployment. It is stateless across
// runs and safe for concurrent use.
type Agent struct {
	cfg     config.AgentConfig
	llm     llm.Provider
	router  ToolRouter
	counter *tokens.Counter
	numCtx  int
	log     *slog.Logger
	metrics observability.Metrics
}

// Option configures an Agent.
type Option func(*Agent)

// WithTokenCounter enables context-budget trimming before each LLM round.
func WithTokenCounter(counter *tokens.Counter, numCtx int) Option {
	return func(a *Agent) {
		a.counter = counter
		a.numCtx = numCtx
	}
}

// WithMetrics wires the metrics recorder.
func WithMetrics(m observability.Metrics) Option {
	return func(a *Agent) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.log = log
		}
	}
}

// New builds an Agent over an LLM provider and a tool router.
func New(cfg config.AgentConfig, provider llm.Provider, router ToolRouter, opts ...Option) *Agent {
	a := &Agent{
		cfg:     cfg,
		llm:     provider,
		router:  router,
		log:     slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes the completion loop, streaming events on the returned
// channel. The producer closes the channel after the done event (or when the
// consumer's context is cancelled); the RunRecord is complete once the
// channel closes.
func (a *Agent) Run(ctx context.Context, conversation []model.ChatMessage, opts RunOptions) (<-chan model.Event, *RunRecord) {
	events := make(chan model.Event, eventChannelBuffer)
	record := &RunRecord{}

	go func() {
		defer close(events)
		start := time.Now()
		a.runLoop(ctx, conversation, opts, events, record)

		var runErr error
		if record.Status != model.StatusSuccess {
			runErr = fmt.Errorf("run ended with status %s", record.Status)
		}
		a.metrics.RecordAgentRun(ctx, time.Since(start), record.Iterations, runErr)
	}()

	return events, record
}

// emit delivers one event, honoring consumer cancellation. It reports false
// when the run should stop.
func emit(ctx context.Context, events chan<- model.Event, ev model.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Agent) runLoop(ctx context.Context, conversation []model.ChatMessage, opts RunOptions, events chan<- model.Event, record *RunRecord) {
	// The canonical system prompt goes first unless the caller brought
	// its own.
	if len(conversation) == 0 || conversation[0].Role != model.RoleSystem {
		prompt := a.cfg.SystemPrompt
		if prompt == "" {
			prompt = defaultSystemPrompt
		}
		conversation = append([]model.ChatMessage{model.SystemMessage(prompt)}, conversation...)
	}

	record.Status = model.StatusError

	for iteration := 1; iteration <= a.cfg.MaxIterations; iteration++ {
		conversation = a.trimToBudget(conversation)

		turn, err := a.runTurn(ctx, conversation, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Error("llm turn failed", "iteration", iteration, "error", err)
			record.Iterations = iteration
			emit(ctx, events, model.LogEvent("error", "model request failed"))
			emit(ctx, events, model.DoneEvent(iteration, len(record.ToolRuns), model.StatusError, ""))
			return
		}
		record.Iterations = iteration

		if !turn.RequiresFollowup {
			for _, tok := range displayTokens(turn.Content) {
				if !emit(ctx, events, model.TokenEvent(tok)) {
					return
				}
			}
			record.Status = model.StatusSuccess
			record.FinalText = turn.Content
			emit(ctx, events, model.DoneEvent(iteration, len(record.ToolRuns), model.StatusSuccess, turn.Content))
			return
		}

		call := turn.ToolCalls[0]
		if !emit(ctx, events, model.ToolStartEvent(call.Name, call.Args)) {
			return
		}

		assistantMsg := model.AssistantMessage(turn.Content, call)
		conversation = append(conversation, assistantMsg)
		record.Messages = append(record.Messages, assistantMsg)

		resultText, callErr, latency := a.executeTool(ctx, call)
		if ctx.Err() != nil {
			// The in-flight tool completed, but the consumer is gone;
			// its tool.end is dropped with the run.
			return
		}

		run := ToolRun{
			Tool:      call.Name,
			Args:      call.Args,
			StartedAt: time.Now().Add(-latency),
			LatencyMS: latency.Milliseconds(),
		}
		if callErr != nil {
			run.Error = callErr.Error()
		}
		record.ToolRuns = append(record.ToolRuns, run)

		toolMsg := model.ToolMessage(call.ID, call.Name, resultText)
		conversation = append(conversation, toolMsg)
		record.Messages = append(record.Messages, toolMsg)

		preview := truncate(resultText, a.cfg.ResultPreviewChars)
		if callErr != nil {
			if !emit(ctx, events, model.ToolErrorEvent(call.Name, latency, preview)) {
				return
			}
		} else if !emit(ctx, events, model.ToolEndEvent(call.Name, latency, preview)) {
			return
		}

		if turn.discarded > 0 {
			reminder := model.SystemMessage(multiToolReminder)
			conversation = append(conversation, reminder)
			record.Messages = append(record.Messages, reminder)
		}
	}

	a.log.Warn("iteration budget exhausted", "max_iterations", a.cfg.MaxIterations)
	record.Status = model.StatusMaxIterations
	emit(ctx, events, model.LogEvent("warn", "maximum tool iterations reached"))
	emit(ctx, events, model.DoneEvent(a.cfg.MaxIterations, len(record.ToolRuns), model.StatusMaxIterations, ""))
}

// runTurn consumes one streamed LLM round. The first tool call is kept;
// surplus calls are discarded with a warning to uphold the single-tool rule.
func (a *Agent) runTurn(ctx context.Context, conversation []model.ChatMessage, opts RunOptions) (*TurnResult, error) {
	chatOpts := llm.ChatOptions{Think: opts.Think}
	if opts.EnableTools {
		chatOpts.Tools = a.router.ToLLMTools()
	}

	start := time.Now()
	var firstToken time.Duration

	stream, err := a.llm.ChatStream(ctx, conversation, chatOpts)
	if err != nil {
		a.metrics.RecordLLMRequest(ctx, a.llm.ChatModel(), 0, time.Since(start), err)
		return nil, err
	}

	turn := &TurnResult{}
	for chunk := range stream {
		if chunk.Err != nil {
			a.metrics.RecordLLMRequest(ctx, a.llm.ChatModel(), firstToken, time.Since(start), chunk.Err)
			return nil, chunk.Err
		}
		if firstToken == 0 && (chunk.Content != "" || chunk.Thinking != "") {
			firstToken = time.Since(start)
		}
		turn.Thinking += chunk.Thinking
		turn.Content += chunk.Content
		if chunk.Done {
			turn.ToolCalls = chunk.ToolCalls
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	a.metrics.RecordLLMRequest(ctx, a.llm.ChatModel(), firstToken, time.Since(start), nil)

	if len(turn.ToolCalls) > 1 {
		a.log.Warn("model emitted multiple tool calls, keeping the first",
			"kept", turn.ToolCalls[0].Name, "discarded", len(turn.ToolCalls)-1)
		turn.discarded = len(turn.ToolCalls) - 1
		turn.ToolCalls = turn.ToolCalls[:1]
	}
	turn.RequiresFollowup = len(turn.ToolCalls) == 1

	return turn, nil
}

// executeTool routes one call through the registry. Failures become a JSON
// error object in the tool result so the model can self-correct instead of
// the turn failing.
func (a *Agent) executeTool(ctx context.Context, call model.ToolCall) (string, error, time.Duration) {
	start := time.Now()
	result, err := a.router.CallTool(ctx, call.Name, call.Args)
	latency := time.Since(start)
	a.metrics.RecordToolCall(ctx, call.Name, latency, err)

	if err != nil {
		a.log.Warn("tool call failed", "tool", call.Name, "error", err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(payload), err, latency
	}

	switch v := result.(type) {
	case string:
		return v, nil, latency
	case nil:
		return "", nil, latency
	default:
		payload, merr := json.Marshal(v)
		if merr != nil {
			return fmt.Sprintf("%v", v), nil, latency
		}
		return string(payload), nil, latency
	}
}

// trimToBudget drops the oldest non-system messages pairwise until the
// conversation fits the context window.
func (a *Agent) trimToBudget(conversation []model.ChatMessage) []model.ChatMessage {
	if a.counter == nil || a.numCtx <= 0 {
		return conversation
	}

	for a.counter.CountMessages(conversation) > a.numCtx {
		idx := -1
		for i, msg := range conversation {
			if msg.Role != model.RoleSystem {
				idx = i
				break
			}
		}
		// Nothing left to drop but the system prompt.
		if idx < 0 || idx+1 >= len(conversation) {
			break
		}
		a.log.Debug("trimming conversation to context budget",
			"dropped_role", conversation[idx].Role, "num_ctx", a.numCtx)
		conversation = append(conversation[:idx], conversation[idx+2:]...)
	}
	return conversation
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
