// Package bus connects channels to the dispatcher in-process.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"seccopilot/internal/domain"
)

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 10 * time.Second
)

// InMemoryBus carries inbound messages on a buffered Go channel and routes
// outbound messages to the handler registered for their channel name.
type InMemoryBus struct {
	inbound        chan domain.InboundMessage
	handlers       map[string]func(domain.OutboundMessage)
	cancel         func(channel, chatID string)
	mu             sync.RWMutex
	closed         bool
	publishTimeout time.Duration
	logger         *slog.Logger
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:        make(chan domain.InboundMessage, bufferSize),
		handlers:       make(map[string]func(domain.OutboundMessage)),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
}

// Publish queues msg for the dispatcher. When the buffer is full it waits
// up to the publish timeout, then drops the message.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", msg.Channel)
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
	case <-timer.C:
		b.logger.Error("message dropped: bus full", "channel", msg.Channel, "sender", msg.SenderID, "waited", b.publishTimeout)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound delivers msg synchronously to its channel's handler.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}
	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Cancel asks the registered cancel handler to abort the conversation's
// in-flight query. Without a handler it does nothing.
func (b *InMemoryBus) Cancel(channel, chatID string) {
	b.mu.RLock()
	handler := b.cancel
	b.mu.RUnlock()

	if handler == nil {
		return
	}
	b.logger.Debug("cancelling query", "channel", channel, "chat", chatID)
	handler(channel, chatID)
}

func (b *InMemoryBus) OnCancel(handler func(channel, chatID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel = handler
}

// Close stops accepting messages and closes the inbound channel. It is
// safe to call more than once.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
