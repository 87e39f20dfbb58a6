package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"seccopilot/internal/domain"
	"seccopilot/internal/metrics"
	"seccopilot/internal/tool"
)

const (
	defaultMaxIterations    = 8
	defaultMaxParallelTools = 2
	defaultTemperature      = 0.7

	// iterationLimitText is returned when the model keeps calling tools.
	iterationLimitText = "Agent stopped due to iteration limit or time limit."
)

// Toolbox is the tool surface the agent needs.
type Toolbox interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
	GetDefinitions() []domain.ToolDefinition
}

// Agent runs the model/tool loop for one query and exposes it as an
// ordered event stream.
type Agent struct {
	provider         domain.Provider
	tools            Toolbox
	prompt           *PromptBuilder
	limiter          *RateLimiter
	logger           *slog.Logger
	model            string
	maxIterations    int
	maxParallelTools int
	temperature      float64
	maxTokens        int
}

// Config holds all dependencies and tuning parameters for the agent.
type Config struct {
	Provider         domain.Provider
	Tools            Toolbox
	Prompt           *PromptBuilder
	Limiter          *RateLimiter // optional
	Logger           *slog.Logger
	Model            string
	MaxIterations    int
	MaxParallelTools int
	Temperature      float64
	MaxTokens        int
}

func NewAgent(cfg Config) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = defaultMaxParallelTools
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder(PromptConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agent{
		provider:         cfg.Provider,
		tools:            cfg.Tools,
		prompt:           cfg.Prompt,
		limiter:          cfg.Limiter,
		logger:           cfg.Logger,
		model:            cfg.Model,
		maxIterations:    cfg.MaxIterations,
		maxParallelTools: cfg.MaxParallelTools,
		temperature:      cfg.Temperature,
		maxTokens:        cfg.MaxTokens,
	}
}

// Request is the input of one query.
type Request struct {
	Input   string
	History []domain.ConversationTurn
	Summary string
}

// Stream yields the events of answering req: text deltas as the model
// produces them, tool starts and ends around each tool step, and a
// FinalOutput carrying the answer of the last model step. Any error ends the
// sequence. Stopping iteration cancels the in-flight model call.
func (a *Agent) Stream(ctx context.Context, req Request) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		messages := a.prompt.Build(req.History, req.Summary, req.Input)
		var defs []domain.ToolDefinition
		if a.tools != nil {
			defs = a.tools.GetDefinitions()
		}

		for iteration := 0; iteration < a.maxIterations; iteration++ {
			a.logger.Debug("agent iteration", "iteration", iteration+1, "messages", len(messages))

			if err := a.limiter.Wait(ctx); err != nil {
				yield(nil, fmt.Errorf("rate limit: %w", err))
				return
			}

			resp, ok, err := a.step(ctx, domain.ChatRequest{
				Messages:    messages,
				Tools:       defs,
				Model:       a.model,
				MaxTokens:   a.maxTokens,
				Temperature: a.temperature,
			}, yield)
			if !ok {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}

			if !resp.HasToolCalls() {
				yield(domain.FinalOutput{Text: resp.Content}, nil)
				return
			}

			messages = append(messages, domain.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
			for _, tc := range resp.ToolCalls {
				if !yield(domain.ToolCallStart{Name: tc.Name, Input: tool.DescribeArgs(tc.Arguments)}, nil) {
					return
				}
			}
			results, err := a.runTools(ctx, resp.ToolCalls)
			if err != nil {
				yield(nil, err)
				return
			}
			for i, tc := range resp.ToolCalls {
				if !yield(domain.ToolCallEnd{Name: tc.Name, Output: results[i]}, nil) {
					return
				}
				messages = append(messages, domain.Message{Role: "tool", Content: results[i], ToolCallID: tc.ID, ToolName: tc.Name})
			}
		}

		a.logger.Warn("agent reached max iterations", "max", a.maxIterations)
		yield(domain.FinalOutput{Text: iterationLimitText}, nil)
	}
}

// step performs one model call, yielding text deltas as they arrive. ok is
// false when the consumer stopped iterating.
func (a *Agent) step(ctx context.Context, req domain.ChatRequest, yield func(domain.StreamEvent, error) bool) (*domain.ChatResponse, bool, error) {
	metrics.LLMRequestsTotal.Inc()
	start := time.Now()
	defer metrics.LLMLatency.ObserveSince(start)

	sp, streaming := a.provider.(domain.StreamingProvider)
	if !streaming {
		resp, err := a.provider.Chat(ctx, req)
		if err != nil {
			return nil, true, fmt.Errorf("LLM error: %w", err)
		}
		if resp.Content != "" {
			if !yield(domain.TextDelta{Text: resp.Content}, nil) {
				return nil, false, nil
			}
		}
		return resp, true, nil
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	chunks := make(chan domain.Chunk, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- sp.ChatStream(sctx, req, chunks) }()

	var (
		content strings.Builder
		resp    = &domain.ChatResponse{}
	)
	for c := range chunks {
		switch c.Type {
		case domain.ChunkToken:
			content.WriteString(c.Content)
			if !yield(domain.TextDelta{Text: c.Content}, nil) {
				cancel()
				for range chunks {
				}
				<-errCh
				return nil, false, nil
			}
		case domain.ChunkDone:
			resp.ToolCalls = c.ToolCalls
			resp.FinishReason = c.FinishReason
			resp.Usage = c.Usage
		}
	}
	if err := <-errCh; err != nil {
		return nil, true, fmt.Errorf("LLM stream error: %w", err)
	}
	resp.Content = content.String()
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, true, nil
}

// runTools executes one step's tool calls with bounded parallelism. Tool
// failures become observation text; only cancellation is returned.
func (a *Agent) runTools(ctx context.Context, calls []domain.ToolCall) ([]string, error) {
	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxParallelTools)

	for i, tc := range calls {
		g.Go(func() error {
			results[i] = a.executeTool(gctx, tc)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Agent) executeTool(ctx context.Context, tc domain.ToolCall) string {
	if a.tools == nil {
		return fmt.Sprintf("Error executing tool %s: no tools configured", tc.Name)
	}
	a.logger.Info("executing tool", "tool", tc.Name)
	metrics.ToolCalls(tc.Name).Inc()
	start := time.Now()
	defer metrics.ToolLatency.ObserveSince(start)

	result, err := a.tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		a.logger.Warn("tool failed", "tool", tc.Name, "err", err)
		return fmt.Sprintf("Error executing tool %s: %s", tc.Name, err.Error())
	}
	a.logger.Debug("tool completed", "tool", tc.Name, "result_len", len(result))
	return result
}
