package domain

import "time"

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// OutboundMessage is routed back to the channel that owns ChatID. Exactly
// one of Delta or Final is meaningful; Done marks the end of the answer.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Delta   *Delta
	Final   string
	Done    bool
	Error   string
}
