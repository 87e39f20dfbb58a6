package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"seccopilot/internal/domain"
)

// FailoverProvider tries providers in order, moving on when one fails.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

var _ domain.StreamingProvider = (*FailoverProvider)(nil)

func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{providers: providers, logger: logger}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Chat returns the first successful response in chain order.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for i, p := range fp.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		lastErr = err
		fp.logger.Warn("failover: provider failed, trying next", "provider", p.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

// ChatStream streams from each provider in turn through a private channel.
// A provider that fails before delivering any chunk is skipped; once a chunk
// has reached out, the failure is final.
func (fp *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.Chunk) error {
	defer close(out)

	var lastErr error
	for i, p := range fp.providers {
		delivered, err := fp.streamOne(ctx, p, req, out)
		if err == nil {
			return nil
		}
		if delivered || ctx.Err() != nil {
			return err
		}
		lastErr = err
		fp.logger.Warn("failover: stream failed before output, trying next", "provider", p.Name(), "attempt", i+1, "err", err)
	}
	return fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}

func (fp *FailoverProvider) streamOne(ctx context.Context, p domain.Provider, req domain.ChatRequest, out chan<- domain.Chunk) (bool, error) {
	sp, ok := p.(domain.StreamingProvider)
	if !ok {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return false, err
		}
		if resp.Content != "" {
			if err := send(ctx, out, domain.Chunk{Type: domain.ChunkToken, Content: resp.Content}); err != nil {
				return true, err
			}
		}
		return true, send(ctx, out, domain.Chunk{
			Type: domain.ChunkDone, ToolCalls: resp.ToolCalls, FinishReason: resp.FinishReason, Usage: resp.Usage,
		})
	}

	inner := make(chan domain.Chunk, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- sp.ChatStream(ctx, req, inner) }()

	delivered := false
	for c := range inner {
		if err := send(ctx, out, c); err != nil {
			for range inner {
			}
			<-errCh
			return delivered, err
		}
		delivered = true
	}
	return delivered, <-errCh
}
