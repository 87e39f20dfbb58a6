package domain

import (
	"context"
	"time"
)

type User struct {
	ID         string         `json:"id"`
	Identifier string         `json:"identifier"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type Thread struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	UserID         string    `json:"userId"`
	UserIdentifier string    `json:"userIdentifier"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// StepType names the kind of a persisted step.
type StepType string

const (
	StepUserMessage      StepType = "user_message"
	StepAssistantMessage StepType = "assistant_message"
	StepTool             StepType = "tool"
)

type Step struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	ParentID  string    `json:"parentId,omitempty"`
	Name      string    `json:"name"`
	Type      StepType  `json:"type"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output"`
	IsError   bool      `json:"isError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	StartedAt time.Time `json:"start"`
	EndedAt   time.Time `json:"end"`
}

type Feedback struct {
	ID      string `json:"id"`
	ForID   string `json:"forId"`
	Value   int    `json:"value"`
	Comment string `json:"comment,omitempty"`
}

// ThreadStore persists users, threads, steps and feedback.
type ThreadStore interface {
	UpsertUser(ctx context.Context, identifier string, metadata map[string]any) (*User, error)
	GetUser(ctx context.Context, identifier string) (*User, error)

	CreateThread(ctx context.Context, t Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, userIdentifier string, limit int) ([]Thread, error)
	UpdateThreadName(ctx context.Context, id, name string) error
	DeleteThread(ctx context.Context, id string) error

	AppendStep(ctx context.Context, s Step) error
	ListSteps(ctx context.Context, threadID string) ([]Step, error)

	UpsertFeedback(ctx context.Context, f Feedback) error

	Close() error
}
