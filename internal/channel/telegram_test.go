package channel

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"seccopilot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	failWith []error // consumed by successive Send calls
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if len(f.failWith) > 0 {
		err := f.failWith[0]
		f.failWith = f.failWith[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newTestTelegram(allow ...string) (*Telegram, *fakeBot) {
	tg := NewTelegram(TelegramConfig{Token: "test", AllowFrom: allow, Logger: testLogger()})
	bot := &fakeBot{}
	tg.bot = bot
	tg.backoff = 0
	return tg, bot
}

func TestSplitMessage(t *testing.T) {
	if got := SplitMessage("", 10); got != nil {
		t.Errorf("empty: got %q", got)
	}
	if got := SplitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short: got %q", got)
	}

	got := SplitMessage("aaaaaaa\nbbbbbbbbbb", 10)
	if len(got) != 3 || got[0] != "aaaaaaa" || got[1] != "\nbbbbbbbbb" || got[2] != "b" {
		t.Errorf("newline split: got %q", got)
	}

	got = SplitMessage(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[0]) != 10 || len(got[2]) != 5 {
		t.Errorf("hard split: got %q", got)
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("€", 20) // 3 bytes each
	parts := SplitMessage(text, 10)
	if strings.Join(parts, "") != text {
		t.Fatal("parts must reassemble the input")
	}
	for _, p := range parts {
		if len(p) > 10 || !utf8.ValidString(p) {
			t.Errorf("bad part %q (len %d)", p, len(p))
		}
	}

	// A limit smaller than one rune still makes progress.
	parts = SplitMessage("€€", 2)
	if len(parts) != 2 || parts[0] != "€" {
		t.Errorf("tiny limit: got %q", parts)
	}
}

func TestTelegram_StreamsIntoPlaceholder(t *testing.T) {
	tg, bot := newTestTelegram()

	tg.deliver(domain.OutboundMessage{ChatID: "42", Delta: &domain.Delta{Kind: domain.DeltaText, Text: "Apple "}})
	tg.deliver(domain.OutboundMessage{ChatID: "42", Delta: &domain.Delta{Kind: domain.DeltaTrace, Text: "🛠️ Tool Call"}})
	tg.deliver(domain.OutboundMessage{ChatID: "42", Delta: &domain.Delta{Kind: domain.DeltaText, Text: "grew"}})
	tg.deliver(domain.OutboundMessage{ChatID: "42", Final: "Apple grew", Done: true})

	if len(bot.sent) != 2 {
		t.Fatalf("expected placeholder plus one edit, got %d sends", len(bot.sent))
	}
	first, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok || first.Text != "Apple " || first.ChatID != 42 {
		t.Errorf("unexpected placeholder %#v", bot.sent[0])
	}
	edit, ok := bot.sent[1].(tgbotapi.EditMessageTextConfig)
	if !ok || edit.Text != "Apple grew" || edit.MessageID != 1 {
		t.Errorf("unexpected final edit %#v", bot.sent[1])
	}
	if len(tg.answers) != 0 {
		t.Error("answer state should be cleared after the final message")
	}
}

func TestTelegram_LongAnswerReusesPlaceholder(t *testing.T) {
	tg, bot := newTestTelegram()
	tg.deliver(domain.OutboundMessage{ChatID: "42", Delta: &domain.Delta{Kind: domain.DeltaText, Text: "Apple "}})

	final := strings.Repeat("a", telegramMaxMsgLen) + strings.Repeat("b", 100)
	tg.deliver(domain.OutboundMessage{ChatID: "42", Final: final, Done: true})

	if len(bot.sent) != 3 {
		t.Fatalf("expected placeholder, edit and one follow-up, got %d sends", len(bot.sent))
	}
	edit, ok := bot.sent[1].(tgbotapi.EditMessageTextConfig)
	if !ok || edit.MessageID != 1 || edit.Text != strings.Repeat("a", telegramMaxMsgLen) {
		t.Errorf("placeholder should carry the first chunk, got %#v", bot.sent[1])
	}
	rest, ok := bot.sent[2].(tgbotapi.MessageConfig)
	if !ok || rest.Text != strings.Repeat("b", 100) {
		t.Errorf("unexpected follow-up %#v", bot.sent[2])
	}
}

func TestTelegram_FinalWithoutStream(t *testing.T) {
	tg, bot := newTestTelegram()
	tg.deliver(domain.OutboundMessage{ChatID: "42", Final: "Conversation cleared. Starting fresh.", Done: true})

	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(bot.sent))
	}
	msg := bot.sent[0].(tgbotapi.MessageConfig)
	if msg.Text != "Conversation cleared. Starting fresh." || msg.ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("unexpected message %#v", msg)
	}
}

func TestTelegram_ErrorAndEmptyFinal(t *testing.T) {
	tg, bot := newTestTelegram()
	tg.deliver(domain.OutboundMessage{ChatID: "42", Done: true})
	if len(bot.sent) != 0 {
		t.Fatalf("empty final should send nothing, got %d", len(bot.sent))
	}
	tg.deliver(domain.OutboundMessage{ChatID: "42", Error: "Sorry, I encountered an error: boom", Done: true})
	if len(bot.sent) != 1 || bot.sent[0].(tgbotapi.MessageConfig).Text != "Sorry, I encountered an error: boom" {
		t.Errorf("unexpected sends %#v", bot.sent)
	}
}

func TestTelegram_InvalidChatID(t *testing.T) {
	tg, bot := newTestTelegram()
	tg.deliver(domain.OutboundMessage{ChatID: "web-chat", Final: "x", Done: true})
	if len(bot.sent) != 0 {
		t.Errorf("expected no sends for a non-numeric chat id")
	}
}

func TestTelegram_MarkdownFallback(t *testing.T) {
	tg, bot := newTestTelegram()
	bot.failWith = []error{errors.New("Bad Request: can't parse entities")}

	tg.sendChunk(42, "*broken")
	if len(bot.sent) != 2 {
		t.Fatalf("expected markdown attempt then plain retry, got %d", len(bot.sent))
	}
	if plain := bot.sent[1].(tgbotapi.MessageConfig); plain.ParseMode != "" {
		t.Errorf("retry should be plain text, got parse mode %q", plain.ParseMode)
	}
}

func TestTelegram_AllowList(t *testing.T) {
	tg, bot := newTestTelegram("1", " 2 ", "not-a-number")
	var published []domain.InboundMessage
	tg.bus = newCaptureBus(func(m domain.InboundMessage) { published = append(published, m) })

	update := func(userID int64, text string) tgbotapi.Update {
		return tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: userID},
			Chat: &tgbotapi.Chat{ID: 42},
			Text: text,
			Date: 1700000000,
		}}
	}

	tg.handleUpdate(update(3, "hello"))
	if len(published) != 0 {
		t.Fatal("unauthorized user must not reach the bus")
	}
	if len(bot.sent) != 1 {
		t.Fatalf("expected an unauthorized notice, got %d sends", len(bot.sent))
	}

	tg.handleUpdate(update(2, "  /new  "))
	if len(published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(published))
	}
	m := published[0]
	if m.Channel != "telegram" || m.ChatID != "42" || m.SenderID != "42" || m.Content != "/new" {
		t.Errorf("unexpected inbound %+v", m)
	}
	if len(bot.requests) != 1 {
		t.Errorf("expected a typing action, got %d requests", len(bot.requests))
	}

	tg.handleUpdate(update(1, "   "))
	if len(published) != 1 {
		t.Error("blank text must be ignored")
	}
}
