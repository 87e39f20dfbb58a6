package domain

import "context"

// Tool is a capability the assistant can invoke while answering. Expected
// outcomes (not found, bad input) are returned as text for the model; the
// error return is reserved for faults the caller should log.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
