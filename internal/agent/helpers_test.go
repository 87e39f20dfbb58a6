package agent

import (
	"context"
	"errors"
	"iter"
	"sync"

	"seccopilot/internal/domain"
)

// scriptedProvider returns its responses in order.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	err       error
	calls     int
	requests  []domain.ChatRequest
}

func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) Models() []string              { return []string{"test-model"} }
func (p *scriptedProvider) Healthy(context.Context) error { return nil }

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &domain.ChatResponse{Content: "", FinishReason: "stop"}, nil
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	return r, nil
}

// streamingProvider streams one scripted chunk list per call.
type streamingProvider struct {
	scriptedProvider
	steps [][]domain.Chunk
	// failAt makes the given call return streamErr after its chunks.
	failAt    int
	streamErr error
}

func (p *streamingProvider) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.Chunk) error {
	defer close(out)
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	var chunks []domain.Chunk
	if call < len(p.steps) {
		chunks = p.steps[call]
	}
	p.mu.Unlock()

	for _, c := range chunks {
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.streamErr != nil && call == p.failAt {
		return p.streamErr
	}
	return nil
}

// stallingProvider streams one token, then blocks until its context is
// cancelled.
type stallingProvider struct {
	scriptedProvider
	started   chan struct{}
	cancelled chan struct{}
}

func newStallingProvider() *stallingProvider {
	return &stallingProvider{started: make(chan struct{}), cancelled: make(chan struct{})}
}

func (p *stallingProvider) ChatStream(ctx context.Context, req domain.ChatRequest, out chan<- domain.Chunk) error {
	defer close(out)
	select {
	case out <- domain.Chunk{Type: domain.ChunkToken, Content: "Apple "}:
	case <-ctx.Done():
	}
	close(p.started)
	<-ctx.Done()
	close(p.cancelled)
	return ctx.Err()
}

func tokens(parts ...string) []domain.Chunk {
	var out []domain.Chunk
	for _, s := range parts {
		out = append(out, domain.Chunk{Type: domain.ChunkToken, Content: s})
	}
	return append(out, domain.Chunk{Type: domain.ChunkDone, FinishReason: "stop"})
}

// stubTools echoes its input, optionally failing by name.
type stubTools struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubTools) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
	if name == "broken" {
		return "", errors.New("kaput")
	}
	return "report for " + args["company"].(string), nil
}

func (s *stubTools) GetDefinitions() []domain.ToolDefinition {
	return []domain.ToolDefinition{{Name: "get_company_report", Description: "report"}}
}

// recordingSink captures deltas and completions.
type recordingSink struct {
	mu        sync.Mutex
	deltas    []domain.Delta
	completes []string
	err       error
}

func (s *recordingSink) Stream(_ context.Context, d domain.Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, d)
	return s.err
}

func (s *recordingSink) Complete(_ context.Context, final string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes = append(s.completes, final)
	return s.err
}

func (s *recordingSink) textDeltas() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.deltas {
		if d.Kind == domain.DeltaText {
			out = append(out, d.Text)
		}
	}
	return out
}

// events builds a stream from fixed events, ending with err when non-nil.
func events(err error, evs ...domain.StreamEvent) iter.Seq2[domain.StreamEvent, error] {
	return func(yield func(domain.StreamEvent, error) bool) {
		for _, e := range evs {
			if !yield(e, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}
