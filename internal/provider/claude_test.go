package provider

import (
	"testing"

	"seccopilot/internal/domain"
)

func TestToClaudeMessages_SplitsSystemAndFoldsToolResults(t *testing.T) {
	msgs := []domain.Message{
		{Role: "system", Content: "You are SEC Copilot."},
		{Role: "user", Content: "Compare AAPL and MSFT"},
		{Role: "assistant", ToolCalls: []domain.ToolCall{
			{ID: "t1", Name: "get_company_report", Arguments: map[string]any{"company": "AAPL"}},
			{ID: "t2", Name: "get_company_report", Arguments: map[string]any{"company": "MSFT"}},
		}},
		{Role: "tool", ToolCallID: "t1", Content: "apple report"},
		{Role: "tool", ToolCallID: "t2", Content: "msft report"},
		{Role: "assistant", Content: "Both are large."},
	}

	system, out := toClaudeMessages(msgs)
	if len(system) != 1 || system[0].Text != "You are SEC Copilot." {
		t.Fatalf("unexpected system blocks: %+v", system)
	}
	if len(out) != 4 {
		t.Fatalf("expected user, assistant, folded tool results, assistant; got %d messages", len(out))
	}
	if out[2].Role != "user" || len(out[2].Content) != 2 {
		t.Fatalf("expected both tool results in one user turn, got role=%s blocks=%d", out[2].Role, len(out[2].Content))
	}
	if out[1].Content[0].OfToolUse == nil || out[1].Content[0].OfToolUse.ID != "t1" {
		t.Fatalf("expected tool_use block for t1, got %+v", out[1].Content[0])
	}
}

func TestClaudeFinishReason(t *testing.T) {
	for in, want := range map[string]string{"tool_use": "tool_calls", "max_tokens": "length", "end_turn": "stop"} {
		if got := claudeFinishReason(in); got != want {
			t.Errorf("claudeFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToClaudeTools_Empty(t *testing.T) {
	if got := toClaudeTools(nil); got != nil {
		t.Fatalf("expected nil tools, got %v", got)
	}
}
