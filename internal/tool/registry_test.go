package tool

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"seccopilot/internal/domain"
)

// stubTool is a minimal tool for testing the registry.
type stubTool struct {
	name   string
	result string
	err    error
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub: " + s.name }
func (s *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Execute(context.Context, map[string]any) (string, error) {
	return s.result, s.err
}

var _ domain.Tool = (*stubTool)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "test_tool", result: "ok"})

	got := reg.Get("test_tool")
	if got == nil || got.Name() != "test_tool" {
		t.Fatalf("expected registered tool, got %v", got)
	}
	if reg.Get("nonexistent") != nil {
		t.Fatal("expected nil for unknown tool")
	}
}

func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "echo", result: "hello"})

	result, err := reg.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "hello" {
		t.Fatalf("expected 'hello', got %q", result)
	}
	if _, err := reg.Execute(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRegistry_SortedDefinitions(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "zeta"})
	reg.Register(&stubTool{name: "alpha"})

	defs := reg.GetDefinitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("expected sorted definitions, got %+v", defs)
	}
	if names := reg.Names(); names[0] != "alpha" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "dup", result: "v1"})
	reg.Register(&stubTool{name: "dup", result: "v2"})

	result, _ := reg.Execute(context.Background(), "dup", nil)
	if result != "v2" {
		t.Fatalf("expected overwritten tool result 'v2', got %q", result)
	}
}

func TestDescribeArgs(t *testing.T) {
	if got := DescribeArgs(map[string]any{"input": "AAPL,10-K"}); got != "AAPL,10-K" {
		t.Errorf("expected legacy input verbatim, got %q", got)
	}
	if got := DescribeArgs(map[string]any{"company": "AAPL", "report_type": "10-K"}); got != `{"company":"AAPL","report_type":"10-K"}` {
		t.Errorf("unexpected rendering %q", got)
	}
	if got := DescribeArgs(nil); got != "{}" {
		t.Errorf("expected {}, got %q", got)
	}
}
