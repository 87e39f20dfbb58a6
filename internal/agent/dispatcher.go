package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"seccopilot/internal/domain"
)

const defaultConcurrency = 5

// Dispatcher consumes inbound bus messages and answers each one through its
// conversation's session, streaming the output back over the bus.
type Dispatcher struct {
	bus         domain.MessageBus
	sessions    *SessionManager
	logger      *slog.Logger
	concurrency int
	info        StatusInfo

	mu       sync.Mutex
	inflight map[string]map[*query]struct{}
}

// query is one in-flight answer that a channel may abort.
type query struct {
	cancel context.CancelFunc
}

// StatusInfo is reported by the /status command.
type StatusInfo struct {
	Provider string
	Tools    []string
}

type DispatcherConfig struct {
	Bus         domain.MessageBus
	Sessions    *SessionManager
	Logger      *slog.Logger
	Concurrency int // max conversations answered at once
	Info        StatusInfo
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		bus:         cfg.Bus,
		sessions:    cfg.Sessions,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		info:        cfg.Info,
		inflight:    make(map[string]map[*query]struct{}),
	}
}

// ThreadKey is the persisted thread id of a channel conversation.
func ThreadKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// Run processes inbound messages with bounded concurrency until ctx is done
// or the bus closes. In-flight answers are waited for before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency)

	d.bus.OnCancel(func(channel, chatID string) { d.Cancel(channel, chatID) })

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()
	defer func() {
		for i := 0; i < cap(sem); i++ {
			sem <- struct{}{}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				d.handle(ctx, m)
			}(msg)
		}
	}
}

// Cancel aborts every query in flight for the conversation and reports
// whether there was one. Nothing of an aborted query is committed.
func (d *Dispatcher) Cancel(channel, chatID string) bool {
	key := ThreadKey(channel, chatID)
	d.mu.Lock()
	queries := d.inflight[key]
	delete(d.inflight, key)
	d.mu.Unlock()

	for q := range queries {
		q.cancel()
	}
	if len(queries) > 0 {
		d.logger.Info("query cancelled", "thread", key, "count", len(queries))
	}
	return len(queries) > 0
}

func (d *Dispatcher) track(key string, cancel context.CancelFunc) *query {
	q := &query{cancel: cancel}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[key] == nil {
		d.inflight[key] = make(map[*query]struct{})
	}
	d.inflight[key][q] = struct{}{}
	return q
}

func (d *Dispatcher) untrack(key string, q *query) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if qs := d.inflight[key]; qs != nil {
		delete(qs, q)
		if len(qs) == 0 {
			delete(d.inflight, key)
		}
	}
}

func (d *Dispatcher) handle(parent context.Context, msg domain.InboundMessage) {
	d.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)
	sink := &busSink{bus: d.bus, channel: msg.Channel, chatID: msg.ChatID}

	key := ThreadKey(msg.Channel, msg.ChatID)
	ctx, cancel := context.WithCancel(parent)
	q := d.track(key, cancel)
	defer func() {
		d.untrack(key, q)
		cancel()
	}()

	if cmd := ParseCommand(msg.Content); cmd != nil {
		if res := d.HandleCommand(ctx, cmd, msg); res.Handled {
			sink.finish(res.Response, "")
			return
		}
	}

	sess, err := d.sessions.Get(ctx, key, msg.SenderID)
	if errors.Is(err, ErrNotOwner) {
		d.logger.Warn("thread owned by another user", "thread", key, "sender", msg.SenderID)
		sink.finish("", "Sorry, that conversation was not found.")
		return
	}
	if err != nil {
		d.logger.Error("session unavailable", "channel", msg.Channel, "chat", msg.ChatID, "err", err)
		sink.finish("", fmt.Sprintf("Sorry, I encountered an error: %s", err.Error()))
		return
	}

	resp, err := sess.Ask(ctx, msg.Content, sink)
	if err != nil && ctx.Err() != nil && parent.Err() == nil {
		// Cancelled by the channel, no reply.
		d.logger.Info("query aborted", "thread", key)
		return
	}
	if err != nil {
		d.logger.Error("message processing failed", "thread", sess.ThreadID(), "err", err)
		sink.finish("", fmt.Sprintf("Sorry, I encountered an error: %s", err.Error()))
		return
	}
	if resp.FinalText == "" {
		sink.finish("", "")
	}
}

// busSink forwards one query's output to the originating channel.
type busSink struct {
	bus     domain.MessageBus
	channel string
	chatID  string
}

func (s *busSink) Stream(_ context.Context, d domain.Delta) error {
	s.bus.SendOutbound(domain.OutboundMessage{Channel: s.channel, ChatID: s.chatID, Delta: &d})
	return nil
}

func (s *busSink) Complete(_ context.Context, final string) error {
	s.finish(final, "")
	return nil
}

func (s *busSink) finish(final, errText string) {
	s.bus.SendOutbound(domain.OutboundMessage{
		Channel: s.channel,
		ChatID:  s.chatID,
		Final:   strings.TrimSpace(final),
		Error:   errText,
		Done:    true,
	})
}
