package memory

import (
	"errors"
	"strings"
	"sync"
	"time"

	"seccopilot/internal/domain"
)

// Sentinel is the placeholder token some providers emit instead of an empty
// chunk. It is never stored.
const Sentinel = "0"

// ErrEmptyTurn is returned when appending empty, blank or sentinel text.
var ErrEmptyTurn = errors.New("memory: empty turn")

// TokenCounter measures the cost of a piece of text in tokens.
type TokenCounter interface {
	Count(text string) int
}

// wordsPerToken is the average English word-to-token ratio (~0.75 words per token).
const wordsPerToken = 0.75

// WordCounter estimates tokens from word count.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	n := int(float64(words) / wordsPerToken)
	if n < 1 {
		n = 1
	}
	return n
}

// ChatMemory is the ordered, append-only turn log of one conversation.
type ChatMemory struct {
	mu    sync.Mutex
	turns []domain.ConversationTurn
	now   func() time.Time
}

func NewChatMemory() *ChatMemory {
	return &ChatMemory{now: time.Now}
}

// Append stores a turn. Text is stored as given; blank or sentinel text
// is rejected.
func (m *ChatMemory) Append(role domain.Role, text string) error {
	if t := strings.TrimSpace(text); t == "" || t == Sentinel {
		return ErrEmptyTurn
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, domain.ConversationTurn{Role: role, Text: text, Timestamp: m.now()})
	return nil
}

// Messages returns a copy of the turns in insertion order.
func (m *ChatMemory) Messages() []domain.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ConversationTurn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *ChatMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Reset drops every turn.
func (m *ChatMemory) Reset() {
	m.mu.Lock()
	m.turns = nil
	m.mu.Unlock()
}

// Window returns the newest turns whose summed cost fits budget, oldest
// first, without modifying the log.
func (m *ChatMemory) Window(budget int, counter TokenCounter) []domain.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := keepFrom(m.turns, budget, counter)
	out := make([]domain.ConversationTurn, len(m.turns)-keep)
	copy(out, m.turns[keep:])
	return out
}

// Truncate shrinks the log to the Window of budget and returns the evicted
// prefix, oldest first.
func (m *ChatMemory) Truncate(budget int, counter TokenCounter) []domain.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := keepFrom(m.turns, budget, counter)
	if keep == 0 {
		return nil
	}
	evicted := make([]domain.ConversationTurn, keep)
	copy(evicted, m.turns[:keep])
	m.turns = append([]domain.ConversationTurn(nil), m.turns[keep:]...)
	return evicted
}

// keepFrom scans newest to oldest and returns the index of the oldest turn
// kept. The scan stops at the first turn that would exceed budget.
func keepFrom(turns []domain.ConversationTurn, budget int, counter TokenCounter) int {
	total := 0
	i := len(turns)
	for i > 0 {
		cost := counter.Count(turns[i-1].Text)
		if total+cost > budget {
			break
		}
		total += cost
		i--
	}
	return i
}

// FromSteps rebuilds a conversation's memory from its persisted steps. Only
// user and assistant messages with non-blank output are replayed.
func FromSteps(steps []domain.Step) *ChatMemory {
	m := NewChatMemory()
	for _, st := range steps {
		var role domain.Role
		switch st.Type {
		case domain.StepUserMessage:
			role = domain.RoleUser
		case domain.StepAssistantMessage:
			role = domain.RoleAssistant
		default:
			continue
		}
		if strings.TrimSpace(st.Output) == "" {
			continue
		}
		if m.Append(role, st.Output) == nil && !st.CreatedAt.IsZero() {
			m.turns[len(m.turns)-1].Timestamp = st.CreatedAt
		}
	}
	return m
}
