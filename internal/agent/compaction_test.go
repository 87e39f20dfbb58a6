package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"seccopilot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCompactor_NothingEvicted(t *testing.T) {
	p := &scriptedProvider{}
	c := NewCompactor(CompactorConfig{Provider: p, Logger: testLogger()})

	got, err := c.Summarize(context.Background(), "prior", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "prior" || p.calls != 0 {
		t.Fatalf("expected no LLM call and unchanged summary, got %q after %d calls", got, p.calls)
	}
}

func TestCompactor_SummarizesEvictedTurns(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{{Content: "  User asked about AAPL 10-K revenue.  "}}}
	c := NewCompactor(CompactorConfig{Provider: p, Logger: testLogger()})

	evicted := []domain.ConversationTurn{
		{Role: domain.RoleUser, Text: "AAPL 10-K revenue?"},
		{Role: domain.RoleAssistant, Text: "$383B."},
	}
	got, err := c.Summarize(context.Background(), "", evicted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "User asked about AAPL 10-K revenue." {
		t.Fatalf("unexpected summary %q", got)
	}
	sent := p.requests[0].Messages[1].Content
	if !strings.Contains(sent, "Human: AAPL 10-K revenue?\nAI: $383B.") || !strings.Contains(sent, "(none)") {
		t.Fatalf("unexpected summarizer input %q", sent)
	}
}

func TestCompactor_ErrorKeepsPrevious(t *testing.T) {
	p := &scriptedProvider{err: errors.New("down")}
	c := NewCompactor(CompactorConfig{Provider: p, Logger: testLogger()})

	got, err := c.Summarize(context.Background(), "prior", []domain.ConversationTurn{{Role: domain.RoleUser, Text: "x"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if got != "prior" {
		t.Fatalf("expected previous summary on error, got %q", got)
	}
}
