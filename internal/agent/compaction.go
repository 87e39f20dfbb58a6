package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"seccopilot/internal/domain"
)

const summarizerPrompt = `You are a conversation summarizer. Progressively summarize the lines of
conversation provided, adding onto the previous summary and returning a new
summary. Preserve company names, tickers, report types, fiscal periods and
figures that were discussed. Keep the summary under 200 words.`

// Compactor folds evicted conversation turns into a running summary with
// one LLM call.
type Compactor struct {
	provider domain.Provider
	logger   *slog.Logger
}

// CompactorConfig configures the summarizer.
type CompactorConfig struct {
	Provider domain.Provider
	Logger   *slog.Logger
}

func NewCompactor(cfg CompactorConfig) *Compactor {
	lgr := cfg.Logger
	if lgr == nil {
		lgr = slog.Default()
	}
	return &Compactor{provider: cfg.Provider, logger: lgr}
}

// Summarize returns previous extended with evicted. With nothing evicted it
// returns previous unchanged and makes no call.
func (c *Compactor) Summarize(ctx context.Context, previous string, evicted []domain.ConversationTurn) (string, error) {
	if len(evicted) == 0 {
		return previous, nil
	}

	var sb strings.Builder
	sb.WriteString("Current summary:\n")
	if previous == "" {
		sb.WriteString("(none)")
	} else {
		sb.WriteString(previous)
	}
	sb.WriteString("\n\nNew lines of conversation:\n")
	sb.WriteString(renderHistory(evicted))

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: summarizerPrompt},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens:   512,
		Temperature: 0.3,
	})
	if err != nil {
		return previous, fmt.Errorf("summarization LLM call: %w", err)
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return previous, nil
	}
	c.logger.Info("conversation summarized", "evicted_turns", len(evicted), "summary_len", len(summary))
	return summary, nil
}
