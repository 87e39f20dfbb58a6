package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"seccopilot/internal/domain"
	"seccopilot/internal/memory"
)

// Aggregator turns one query's event stream into UI deltas and a single
// deduplicated final answer.
type Aggregator struct {
	memory   *memory.ChatMemory
	sink     domain.Sink
	obsLimit int
	logger   *slog.Logger
}

type AggregatorConfig struct {
	Memory *memory.ChatMemory // optional; receives the committed turns
	Sink   domain.Sink        // optional
	// ObservationLimit clips tool output in the trace. Zero means no limit.
	ObservationLimit int
	Logger           *slog.Logger
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Aggregator{memory: cfg.Memory, sink: cfg.Sink, obsLimit: cfg.ObservationLimit, logger: cfg.Logger}
}

type aggState int

const (
	stateStreaming aggState = iota
	stateFinalizing
)

// Process consumes events in order. On success the user input and the final
// answer are appended to memory, unless the answer is empty. A stream error
// or cancellation returns immediately and commits nothing.
func (a *Aggregator) Process(ctx context.Context, input string, events iter.Seq2[domain.StreamEvent, error]) (domain.AggregatedResponse, error) {
	var (
		resp    domain.AggregatedResponse
		acc     strings.Builder
		pending = map[string][]int{} // tool name -> indexes awaiting output
		state   = stateStreaming
	)

	for ev, err := range events {
		if err != nil {
			return resp, err
		}
		if ctx.Err() != nil {
			return resp, ctx.Err()
		}

		switch e := ev.(type) {
		case domain.TextDelta:
			if e.Text == "" || e.Text == memory.Sentinel {
				continue
			}
			acc.WriteString(e.Text)
			a.emit(ctx, domain.Delta{Kind: domain.DeltaText, Text: e.Text})

		case domain.ToolCallStart:
			line := fmt.Sprintf("\n🛠️ Tool Call: %s\nInput: %s\n⏳ Executing tool...\n", e.Name, e.Input)
			resp.Trace = append(resp.Trace, line)
			pending[e.Name] = append(pending[e.Name], len(resp.Tools))
			resp.Tools = append(resp.Tools, domain.ToolInvocation{Name: e.Name, Input: e.Input})
			a.emit(ctx, domain.Delta{Kind: domain.DeltaTrace, Text: line})

		case domain.ToolCallEnd:
			line := fmt.Sprintf("📊 Observation: %s\n🤔 Thinking...\n", clip(e.Output, a.obsLimit))
			resp.Trace = append(resp.Trace, line)
			if idx := pending[e.Name]; len(idx) > 0 {
				resp.Tools[idx[0]].Output = e.Output
				pending[e.Name] = idx[1:]
			} else {
				resp.Tools = append(resp.Tools, domain.ToolInvocation{Name: e.Name, Output: e.Output})
			}
			a.emit(ctx, domain.Delta{Kind: domain.DeltaTrace, Text: line})

		case domain.FinalOutput:
			acc.Reset()
			acc.WriteString(e.Text)
			state = stateFinalizing
		}

		if state == stateFinalizing {
			break
		}
	}
	if ctx.Err() != nil {
		return resp, ctx.Err()
	}

	resp.FinalText = Dedupe(acc.String())
	if resp.FinalText == "" {
		return resp, nil
	}

	if a.sink != nil {
		if err := a.sink.Complete(ctx, resp.FinalText); err != nil {
			a.logger.Warn("sink complete failed", "err", err)
		}
	}
	a.commit(input, resp.FinalText)
	return resp, nil
}

func (a *Aggregator) emit(ctx context.Context, d domain.Delta) {
	if a.sink == nil {
		return
	}
	if err := a.sink.Stream(ctx, d); err != nil {
		a.logger.Warn("sink stream failed", "kind", d.Kind, "err", err)
	}
}

func (a *Aggregator) commit(input, final string) {
	if a.memory == nil {
		return
	}
	if err := a.memory.Append(domain.RoleUser, input); err != nil && !errors.Is(err, memory.ErrEmptyTurn) {
		a.logger.Warn("append user turn failed", "err", err)
	}
	if err := a.memory.Append(domain.RoleAssistant, final); err != nil {
		a.logger.Warn("append assistant turn failed", "err", err)
	}
}

// Dedupe trims text and, when its first word appears again later, keeps
// only the prefix before that second occurrence. Some streaming backends
// replay the whole answer after emitting it incrementally.
func Dedupe(text string) string {
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	first := fields[0]
	rest := text[len(first):]
	if i := strings.Index(rest, first); i >= 0 {
		return strings.TrimSpace(text[:len(first)+i])
	}
	return text
}

func clip(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
