package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"seccopilot/internal/domain"
	"seccopilot/internal/memory"
	"seccopilot/internal/metrics"
)

const defaultTitle = "New conversation"

// ErrNotOwner is returned when a thread belongs to another user.
var ErrNotOwner = errors.New("thread belongs to another user")

func ownedBy(th domain.Thread, userIdentifier string) bool {
	return th.UserIdentifier == "" || th.UserIdentifier == userIdentifier
}

// Session is one conversation: its chat memory, its running summary and
// its persisted thread. Ask calls are serialized.
type Session struct {
	mu      sync.Mutex
	mgr     *SessionManager
	thread  domain.Thread
	memory  *memory.ChatMemory
	summary string
}

// ThreadID returns the id of the persisted thread.
func (s *Session) ThreadID() string { return s.thread.ID }

// Memory exposes the session's chat memory.
func (s *Session) Memory() *memory.ChatMemory { return s.memory }

// Summary returns the running summary of evicted turns.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Ask answers input, streaming deltas to sink. On success the exchange is
// committed to memory and, when a store is configured, persisted.
func (s *Session) Ask(ctx context.Context, input string, sink domain.Sink) (domain.AggregatedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.mgr
	metrics.QueriesTotal.Inc()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	if evicted := s.memory.Truncate(m.budget, m.counter); len(evicted) > 0 {
		m.logger.Debug("evicted turns over budget", "thread", s.thread.ID, "evicted", len(evicted))
		if m.compactor != nil {
			summary, err := m.compactor.Summarize(ctx, s.summary, evicted)
			if err != nil {
				m.logger.Warn("summarization failed, keeping previous summary", "thread", s.thread.ID, "err", err)
			}
			s.summary = summary
		}
	}

	started := time.Now()
	events := m.agent.Stream(ctx, Request{Input: input, History: s.memory.Messages(), Summary: s.summary})
	agg := NewAggregator(AggregatorConfig{
		Memory:           s.memory,
		Sink:             sink,
		ObservationLimit: m.observationLimit,
		Logger:           m.logger,
	})
	resp, err := agg.Process(ctx, input, events)
	if err != nil {
		metrics.QueryErrors.Inc()
		return resp, err
	}
	if resp.FinalText != "" {
		s.persist(ctx, input, resp, started)
	}
	return resp, nil
}

// persist records the exchange. Failures are logged; the turn is already
// in memory.
func (s *Session) persist(ctx context.Context, input string, resp domain.AggregatedResponse, started time.Time) {
	m := s.mgr
	if m.store == nil {
		return
	}
	ended := time.Now()
	userStep := domain.Step{
		ID: uuid.NewString(), ThreadID: s.thread.ID, Name: s.thread.UserIdentifier,
		Type: domain.StepUserMessage, Output: input, CreatedAt: started, StartedAt: started, EndedAt: started,
	}
	steps := []domain.Step{userStep}
	for _, t := range resp.Tools {
		steps = append(steps, domain.Step{
			ThreadID: s.thread.ID, ParentID: userStep.ID, Name: t.Name, Type: domain.StepTool,
			Input: t.Input, Output: t.Output, CreatedAt: started, StartedAt: started, EndedAt: ended,
		})
	}
	steps = append(steps, domain.Step{
		ThreadID: s.thread.ID, Name: "SEC Copilot", Type: domain.StepAssistantMessage,
		Output: resp.FinalText, CreatedAt: ended, StartedAt: started, EndedAt: ended,
	})

	for _, st := range steps {
		if err := m.store.AppendStep(ctx, st); err != nil {
			m.logger.Warn("failed to persist step", "thread", s.thread.ID, "type", st.Type, "err", err)
			return
		}
	}

	if s.thread.Name == "" || s.thread.Name == defaultTitle {
		name := generateTitle(input)
		if err := m.store.UpdateThreadName(ctx, s.thread.ID, name); err != nil {
			m.logger.Warn("failed to update thread name", "thread", s.thread.ID, "err", err)
			return
		}
		s.thread.Name = name
	}
}

// SessionManager owns the live sessions and their backing store.
type SessionManager struct {
	agent            *Agent
	store            domain.ThreadStore
	compactor        *Compactor
	counter          memory.TokenCounter
	budget           int
	observationLimit int
	logger           *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

type SessionConfig struct {
	Agent            *Agent
	Store            domain.ThreadStore // optional
	Compactor        *Compactor         // optional; nil disables summarization
	Counter          memory.TokenCounter
	TokenBudget      int
	ObservationLimit int
	Logger           *slog.Logger
}

const defaultTokenBudget = 3000

func NewSessionManager(cfg SessionConfig) *SessionManager {
	if cfg.Counter == nil {
		cfg.Counter = memory.WordCounter{}
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = defaultTokenBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SessionManager{
		agent:            cfg.Agent,
		store:            cfg.Store,
		compactor:        cfg.Compactor,
		counter:          cfg.Counter,
		budget:           cfg.TokenBudget,
		observationLimit: cfg.ObservationLimit,
		logger:           cfg.Logger,
		sessions:         make(map[string]*Session),
	}
}

// Get returns the session for threadID, resuming it from the store or
// creating the thread for userIdentifier when it does not exist yet. A
// thread owned by a different user yields ErrNotOwner.
func (sm *SessionManager) Get(ctx context.Context, threadID, userIdentifier string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, ok := sm.sessions[threadID]; ok {
		if !ownedBy(s.thread, userIdentifier) {
			return nil, ErrNotOwner
		}
		return s, nil
	}

	s := &Session{
		mgr:    sm,
		thread: domain.Thread{ID: threadID, Name: defaultTitle, UserIdentifier: userIdentifier},
		memory: memory.NewChatMemory(),
	}
	if sm.store != nil {
		if err := sm.load(ctx, s); err != nil {
			return nil, err
		}
	}
	sm.sessions[threadID] = s
	return s, nil
}

func (sm *SessionManager) load(ctx context.Context, s *Session) error {
	th, err := sm.store.GetThread(ctx, s.thread.ID)
	switch {
	case err == nil:
		if !ownedBy(*th, s.thread.UserIdentifier) {
			return ErrNotOwner
		}
		s.thread = *th
		steps, err := sm.store.ListSteps(ctx, th.ID)
		if err != nil {
			return fmt.Errorf("resume thread %s: %w", th.ID, err)
		}
		s.memory = memory.FromSteps(steps)
		sm.logger.Info("resumed thread", "thread", th.ID, "turns", s.memory.Len())
		return nil
	case errors.Is(err, memory.ErrNotFound):
	default:
		return fmt.Errorf("load thread %s: %w", s.thread.ID, err)
	}

	if s.thread.UserIdentifier != "" {
		u, err := sm.store.UpsertUser(ctx, s.thread.UserIdentifier, nil)
		if err != nil {
			return err
		}
		s.thread.UserID = u.ID
	}
	s.thread.CreatedAt = time.Now()
	if err := sm.store.CreateThread(ctx, s.thread); err != nil {
		return err
	}
	sm.logger.Info("created thread", "thread", s.thread.ID, "user", s.thread.UserIdentifier)
	return nil
}

// Reset forgets the session and deletes its persisted thread. Only the
// thread's owner may reset it.
func (sm *SessionManager) Reset(ctx context.Context, threadID, userIdentifier string) error {
	sm.mu.Lock()
	if s, ok := sm.sessions[threadID]; ok && !ownedBy(s.thread, userIdentifier) {
		sm.mu.Unlock()
		return ErrNotOwner
	}
	delete(sm.sessions, threadID)
	sm.mu.Unlock()

	if sm.store == nil {
		return nil
	}
	th, err := sm.store.GetThread(ctx, threadID)
	if errors.Is(err, memory.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reset thread %s: %w", threadID, err)
	}
	if !ownedBy(*th, userIdentifier) {
		return ErrNotOwner
	}
	if err := sm.store.DeleteThread(ctx, threadID); err != nil && !errors.Is(err, memory.ErrNotFound) {
		return fmt.Errorf("reset thread %s: %w", threadID, err)
	}
	sm.logger.Info("session cleared", "thread", threadID)
	return nil
}

// Active returns the number of sessions held in memory.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return defaultTitle
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	if len(msg) > 60 {
		cut := strings.LastIndex(msg[:60], " ")
		if cut < 20 {
			cut = 60
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
