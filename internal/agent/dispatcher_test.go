package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"seccopilot/internal/bus"
	"seccopilot/internal/domain"
)

type outboxRecorder struct {
	mu   sync.Mutex
	msgs []domain.OutboundMessage
	done chan struct{}
}

func newOutbox() *outboxRecorder { return &outboxRecorder{done: make(chan struct{}, 16)} }

func (o *outboxRecorder) handle(m domain.OutboundMessage) {
	o.mu.Lock()
	o.msgs = append(o.msgs, m)
	o.mu.Unlock()
	if m.Done {
		o.done <- struct{}{}
	}
}

func (o *outboxRecorder) wait(t *testing.T) []domain.OutboundMessage {
	t.Helper()
	select {
	case <-o.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for answer")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.msgs
	o.msgs = nil
	return out
}

func startDispatcher(t *testing.T, p domain.Provider) (*bus.InMemoryBus, *outboxRecorder) {
	t.Helper()
	b, out, _ := startDispatcherWithStore(t, p, nil)
	return b, out
}

func startDispatcherWithStore(t *testing.T, p domain.Provider, store domain.ThreadStore) (*bus.InMemoryBus, *outboxRecorder, *SessionManager) {
	t.Helper()
	b := bus.New(8, testLogger())
	out := newOutbox()
	b.OnOutbound("test", out.handle)

	mgr := NewSessionManager(SessionConfig{Agent: NewAgent(Config{Provider: p, Logger: testLogger()}), Store: store, Logger: testLogger()})
	d := NewDispatcher(DispatcherConfig{Bus: b, Sessions: mgr, Logger: testLogger(), Info: StatusInfo{Provider: "scripted"}})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { d.Run(ctx); close(stopped) }()
	t.Cleanup(func() { cancel(); <-stopped })
	return b, out, mgr
}

func TestDispatcher_StreamsAnswer(t *testing.T) {
	p := &streamingProvider{steps: [][]domain.Chunk{tokens("Hello", " analyst")}}
	b, out := startDispatcher(t, p)

	b.Publish(domain.InboundMessage{Channel: "test", ChatID: "1", SenderID: "u", Content: "hi"})
	msgs := out.wait(t)

	if len(msgs) != 3 {
		t.Fatalf("expected 2 deltas and a final message, got %+v", msgs)
	}
	if msgs[0].Delta == nil || msgs[0].Delta.Text != "Hello" {
		t.Fatalf("unexpected first message %+v", msgs[0])
	}
	last := msgs[2]
	if !last.Done || last.Final != "Hello analyst" || last.ChatID != "1" {
		t.Fatalf("unexpected final message %+v", last)
	}
}

func TestDispatcher_ReportsErrors(t *testing.T) {
	p := &scriptedProvider{err: context.DeadlineExceeded}
	b, out := startDispatcher(t, p)

	b.Publish(domain.InboundMessage{Channel: "test", ChatID: "2", Content: "hi"})
	msgs := out.wait(t)
	last := msgs[len(msgs)-1]
	if !last.Done || last.Error == "" {
		t.Fatalf("expected error message, got %+v", last)
	}
}

func TestDispatcher_Commands(t *testing.T) {
	p := &scriptedProvider{}
	b, out := startDispatcher(t, p)

	b.Publish(domain.InboundMessage{Channel: "test", ChatID: "3", Content: "/new"})
	msgs := out.wait(t)
	if msgs[0].Final != "Conversation cleared. Starting fresh." {
		t.Fatalf("unexpected /new reply %+v", msgs[0])
	}

	b.Publish(domain.InboundMessage{Channel: "test", ChatID: "3", Content: "/status"})
	msgs = out.wait(t)
	if msgs[0].Final == "" || p.calls != 0 {
		t.Fatalf("expected status reply without an LLM call, got %+v (calls=%d)", msgs[0], p.calls)
	}
}

func TestDispatcher_CancelAbortsQuery(t *testing.T) {
	ctx := context.Background()
	store := testSessionStore(t)
	p := newStallingProvider()
	b, out, mgr := startDispatcherWithStore(t, p, store)

	b.Publish(domain.InboundMessage{Channel: "test", ChatID: "4", SenderID: "u", Content: "How did Apple do?"})
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatal("provider never started")
	}

	b.Cancel("test", "4")
	select {
	case <-p.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("provider context was not cancelled")
	}

	sess, err := mgr.Get(ctx, "test:4", "u")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Ask holds the session lock until the aborted query unwinds.
	sess.mu.Lock()
	turns := sess.Memory().Len()
	sess.mu.Unlock()
	if turns != 0 {
		t.Fatalf("aborted query committed %d turns", turns)
	}
	steps, err := store.ListSteps(ctx, "test:4")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("aborted query persisted %d steps", len(steps))
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	for _, m := range out.msgs {
		if m.Done {
			t.Fatalf("aborted query should not send a reply, got %+v", m)
		}
	}
}

func TestDispatcher_CancelWithoutQuery(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Bus: bus.New(1, testLogger()), Sessions: NewSessionManager(SessionConfig{}), Logger: testLogger()})
	if d.Cancel("test", "idle") {
		t.Fatal("expected nothing to cancel")
	}
}

func TestDispatcher_EmptyAnswerEndsStream(t *testing.T) {
	p := &scriptedProvider{}
	b, out := startDispatcher(t, p)

	b.Publish(domain.InboundMessage{Channel: "test", ChatID: "5", SenderID: "u", Content: "hi"})
	msgs := out.wait(t)
	last := msgs[len(msgs)-1]
	if !last.Done || last.Final != "" || last.Error != "" {
		t.Fatalf("expected a bare done message, got %+v", last)
	}
}

func TestDispatcher_OtherUsersThread(t *testing.T) {
	store := testSessionStore(t)
	p := &streamingProvider{steps: [][]domain.Chunk{tokens("hi alice")}}
	b, out, _ := startDispatcherWithStore(t, p, store)

	b.Publish(domain.InboundMessage{Channel: "test", ChatID: "6", SenderID: "alice", Content: "hello"})
	if last := out.wait(t); last[len(last)-1].Final != "hi alice" {
		t.Fatalf("unexpected answer %+v", last)
	}

	b.Publish(domain.InboundMessage{Channel: "test", ChatID: "6", SenderID: "bob", Content: "what did alice ask?"})
	msgs := out.wait(t)
	last := msgs[len(msgs)-1]
	if last.Error != "Sorry, that conversation was not found." || last.Final != "" {
		t.Fatalf("expected not-found reply, got %+v", last)
	}
	if p.calls != 1 {
		t.Fatalf("other user's message must not reach the model, calls=%d", p.calls)
	}
}

func TestParseCommand(t *testing.T) {
	if ParseCommand("what is a 10-K?") != nil {
		t.Fatal("plain text is not a command")
	}
	cmd := ParseCommand("  /Summary now ")
	if cmd == nil || cmd.Name != "summary" || len(cmd.Args) != 1 {
		t.Fatalf("unexpected command %+v", cmd)
	}
}
