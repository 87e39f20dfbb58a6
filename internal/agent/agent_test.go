package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"seccopilot/internal/domain"
)

func collectEvents(t *testing.T, a *Agent, req Request) ([]domain.StreamEvent, error) {
	t.Helper()
	var out []domain.StreamEvent
	for ev, err := range a.Stream(context.Background(), req) {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func TestAgent_Stream_TextOnly(t *testing.T) {
	p := &streamingProvider{steps: [][]domain.Chunk{tokens("Hello", " there")}}
	a := NewAgent(Config{Provider: p, Logger: testLogger()})

	evs, err := collectEvents(t, a, Request{Input: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 2 deltas and a final output, got %#v", evs)
	}
	if final, ok := evs[2].(domain.FinalOutput); !ok || final.Text != "Hello there" {
		t.Fatalf("expected final output, got %#v", evs[2])
	}
}

func TestAgent_Stream_ToolRoundTrip(t *testing.T) {
	call := domain.ToolCall{ID: "c1", Name: "get_company_report", Arguments: map[string]any{"company": "AAPL"}}
	p := &streamingProvider{steps: [][]domain.Chunk{
		{{Type: domain.ChunkDone, ToolCalls: []domain.ToolCall{call}, FinishReason: "tool_calls"}},
		tokens("AAPL looks fine."),
	}}
	tools := &stubTools{}
	a := NewAgent(Config{Provider: p, Tools: tools, Logger: testLogger()})

	evs, err := collectEvents(t, a, Request{Input: "How is AAPL?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start, ok := evs[0].(domain.ToolCallStart)
	if !ok || start.Name != "get_company_report" || !strings.Contains(start.Input, "AAPL") {
		t.Fatalf("expected tool start first, got %#v", evs[0])
	}
	end, ok := evs[1].(domain.ToolCallEnd)
	if !ok || end.Output != "report for AAPL" {
		t.Fatalf("expected tool end second, got %#v", evs[1])
	}
	if final, ok := evs[len(evs)-1].(domain.FinalOutput); !ok || final.Text != "AAPL looks fine." {
		t.Fatalf("expected final answer last, got %#v", evs[len(evs)-1])
	}

	second := p.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != "tool" || last.ToolCallID != "c1" || last.Content != "report for AAPL" {
		t.Fatalf("expected tool result fed back to the model, got %+v", last)
	}
}

func TestAgent_Stream_ToolErrorBecomesObservation(t *testing.T) {
	p := &streamingProvider{steps: [][]domain.Chunk{
		{{Type: domain.ChunkDone, ToolCalls: []domain.ToolCall{{ID: "x", Name: "broken"}}}},
		tokens("Sorry."),
	}}
	a := NewAgent(Config{Provider: p, Tools: &stubTools{}, Logger: testLogger()})

	evs, err := collectEvents(t, a, Request{Input: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	end := evs[1].(domain.ToolCallEnd)
	if end.Output != "Error executing tool broken: kaput" {
		t.Fatalf("unexpected observation %q", end.Output)
	}
}

func TestAgent_Stream_ProviderError(t *testing.T) {
	boom := errors.New("503")
	p := &streamingProvider{steps: [][]domain.Chunk{{{Type: domain.ChunkToken, Content: "par"}}}, streamErr: boom}
	a := NewAgent(Config{Provider: p, Logger: testLogger()})

	evs, err := collectEvents(t, a, Request{Input: "q"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected the partial delta before the error, got %#v", evs)
	}
}

func TestAgent_Stream_MaxIterations(t *testing.T) {
	loop := []domain.Chunk{{Type: domain.ChunkDone, ToolCalls: []domain.ToolCall{
		{ID: "1", Name: "get_company_report", Arguments: map[string]any{"company": "MSFT"}},
	}}}
	p := &streamingProvider{steps: [][]domain.Chunk{loop, loop}}
	a := NewAgent(Config{Provider: p, Tools: &stubTools{}, MaxIterations: 2, Logger: testLogger()})

	evs, err := collectEvents(t, a, Request{Input: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final := evs[len(evs)-1].(domain.FinalOutput); final.Text != iterationLimitText {
		t.Fatalf("expected iteration limit text, got %q", final.Text)
	}
}

func TestAgent_Stream_ConsumerStopsEarly(t *testing.T) {
	p := &streamingProvider{steps: [][]domain.Chunk{tokens("a", "b", "c", "d")}}
	a := NewAgent(Config{Provider: p, Logger: testLogger()})

	n := 0
	for range a.Stream(context.Background(), Request{Input: "q"}) {
		n++
		if n == 1 {
			break
		}
	}
	if n != 1 {
		t.Fatalf("expected to stop after one event, got %d", n)
	}
}

func TestAgent_Stream_NonStreamingProvider(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{{Content: "Plain answer."}}}
	a := NewAgent(Config{Provider: p, Logger: testLogger()})

	evs, err := collectEvents(t, a, Request{Input: "q", History: []domain.ConversationTurn{{Role: domain.RoleUser, Text: "earlier"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected delta and final, got %#v", evs)
	}
	if got := p.requests[0].Temperature; got != defaultTemperature {
		t.Fatalf("expected default temperature, got %v", got)
	}
	msgs := p.requests[0].Messages
	if msgs[1].Content != "earlier" {
		t.Fatalf("expected history in prompt, got %+v", msgs)
	}
}

func TestAgent_AggregatedEndToEnd(t *testing.T) {
	p := &streamingProvider{steps: [][]domain.Chunk{tokens("Paris is the capital. ", "Paris is the capital.")}}
	a := NewAgent(Config{Provider: p, Logger: testLogger()})
	sink := &recordingSink{}
	agg := NewAggregator(AggregatorConfig{Sink: sink, Logger: testLogger()})

	resp, err := agg.Process(context.Background(), "capital?", a.Stream(context.Background(), Request{Input: "capital?"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinalText != "Paris is the capital." {
		t.Fatalf("unexpected final text %q", resp.FinalText)
	}
	if len(sink.completes) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(sink.completes))
	}
}
