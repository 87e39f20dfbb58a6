package channel

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"seccopilot/internal/agent"
	"seccopilot/internal/domain"
)

// echoProvider answers with the last user message.
type echoProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *echoProvider) Name() string                  { return "echo" }
func (p *echoProvider) Models() []string              { return []string{"echo"} }
func (p *echoProvider) Healthy(context.Context) error { return nil }

func (p *echoProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	last := req.Messages[len(req.Messages)-1]
	return &domain.ChatResponse{Content: "Echo: " + last.Content, FinishReason: "stop"}, nil
}

func newTestSessions(p domain.Provider) *agent.SessionManager {
	return agent.NewSessionManager(agent.SessionConfig{
		Agent:  agent.NewAgent(agent.Config{Provider: p, Logger: testLogger()}),
		Logger: testLogger(),
	})
}

func TestCLI_AnswersAndResets(t *testing.T) {
	p := &echoProvider{}
	sessions := newTestSessions(p)
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{
		Sessions: sessions,
		Logger:   testLogger(),
		In:       strings.NewReader("What was Apple's revenue?\n\n/new\n/quit\nnever read\n"),
		Out:      &out,
	})

	if err := cli.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.String()
	for _, want := range []string{"SEC Copilot", "Echo: What was Apple's revenue?", "Conversation cleared. Starting fresh."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if p.calls != 1 {
		t.Errorf("expected 1 LLM call, got %d", p.calls)
	}
	if sessions.Active() != 0 {
		t.Errorf("/new should drop the session, %d active", sessions.Active())
	}
}

func TestCLI_EOFEndsRun(t *testing.T) {
	cli := NewCLI(CLIConfig{Sessions: newTestSessions(&echoProvider{}), In: strings.NewReader(""), Out: &bytes.Buffer{}, Logger: testLogger()})
	if err := cli.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestTerminalSink(t *testing.T) {
	var out bytes.Buffer
	sink := NewTerminalSink(&out)
	ctx := context.Background()
	first := 0
	sink.onFirst = func() { first++ }

	_ = sink.Stream(ctx, domain.Delta{Kind: domain.DeltaTrace, Text: "Observation"})
	_ = sink.Stream(ctx, domain.Delta{Kind: domain.DeltaText, Text: "Answer"})
	_ = sink.Complete(ctx, "Answer")

	got := out.String()
	if !strings.Contains(got, "Observation") || !strings.Contains(got, "Answer") {
		t.Errorf("unexpected output %q", got)
	}
	if strings.Count(got, "Answer") != 1 {
		t.Errorf("streamed answer must not be printed twice: %q", got)
	}
	if first != 1 {
		t.Errorf("onFirst called %d times", first)
	}

	out.Reset()
	sink = NewTerminalSink(&out)
	_ = sink.Complete(ctx, "Only final")
	if out.String() != "Only final\n" {
		t.Errorf("got %q", out.String())
	}
}
