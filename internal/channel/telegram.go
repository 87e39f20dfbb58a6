package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"seccopilot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramChannel        = "telegram"
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramEditInterval   = 1500 * time.Millisecond
)

// telegramAPI is the subset of the bot client used by the channel.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram answers Telegram chats. Streamed text is shown by editing a
// single placeholder message at most every telegramEditInterval.
type Telegram struct {
	token     string
	allowFrom []int64 // empty = allow all
	parseMode string

	bot     telegramAPI
	bus     domain.MessageBus
	logger  *slog.Logger
	backoff time.Duration

	mu      sync.Mutex
	answers map[int64]*tgAnswer
}

// tgAnswer is the in-progress answer of one chat.
type tgAnswer struct {
	messageID int
	text      strings.Builder
	lastEdit  time.Time
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user ids as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
		backoff:   time.Second,
		answers:   make(map[int64]*tgAnswer),
	}
}

func (t *Telegram) Name() string { return telegramChannel }

// Start connects to Telegram and polls for updates until ctx is canceled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.bus = bus
	bus.OnOutbound(telegramChannel, t.deliver)
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is canceled, and
// stopping the update loop twice panics.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", update.Message.From.UserName)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}
	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	// Commands such as /new and /help are answered by the dispatcher. The
	// chat owns the thread so group members share one conversation.
	chat := strconv.FormatInt(chatID, 10)
	t.bus.Publish(domain.InboundMessage{
		Channel:   telegramChannel,
		ChatID:    chat,
		SenderID:  chat,
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) deliver(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid chat ID for telegram outbound", "chat", msg.ChatID, "err", err)
		return
	}
	if msg.Delta != nil {
		t.streamDelta(chatID, *msg.Delta)
		return
	}

	t.mu.Lock()
	ans := t.answers[chatID]
	delete(t.answers, chatID)
	t.mu.Unlock()

	text := msg.Final
	if msg.Error != "" {
		text = msg.Error
	}
	if text == "" {
		return
	}
	// The streamed placeholder becomes the first chunk of the answer.
	chunks := SplitMessage(text, telegramMaxMsgLen)
	if ans != nil && ans.messageID != 0 && t.editMessage(chatID, ans.messageID, chunks[0]) {
		chunks = chunks[1:]
	}
	for _, chunk := range chunks {
		t.sendChunk(chatID, chunk)
	}
}

// streamDelta grows the chat's placeholder message with answer text.
// Tool traces are not shown on Telegram.
func (t *Telegram) streamDelta(chatID int64, d domain.Delta) {
	if d.Kind != domain.DeltaText {
		return
	}
	t.mu.Lock()
	ans, ok := t.answers[chatID]
	if !ok {
		ans = &tgAnswer{}
		t.answers[chatID] = ans
	}
	ans.text.WriteString(d.Text)
	text := ans.text.String()
	due := time.Since(ans.lastEdit) >= telegramEditInterval && len(text) <= telegramMaxMsgLen
	if due {
		ans.lastEdit = time.Now()
	}
	messageID := ans.messageID
	t.mu.Unlock()

	if !due || strings.TrimSpace(text) == "" {
		return
	}
	if messageID == 0 {
		sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err != nil {
			t.logger.Warn("telegram placeholder send failed", "chat_id", chatID, "err", err)
			return
		}
		t.mu.Lock()
		ans.messageID = sent.MessageID
		t.mu.Unlock()
		return
	}
	t.editMessage(chatID, messageID, text)
}

func (t *Telegram) editMessage(chatID int64, messageID int, text string) bool {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := t.bot.Send(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return true
		}
		t.logger.Debug("telegram edit failed", "chat_id", chatID, "err", err)
		return false
	}
	return true
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range SplitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// SplitMessage cuts text into pieces of at most maxLen bytes, preferring a
// newline in the second half of each piece and never splitting a rune.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	var parts []string
	for len(text) > maxLen {
		cut := strings.LastIndex(text[:maxLen], "\n")
		if cut < maxLen/2 {
			cut = maxLen
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(text)
			}
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// sendChunk sends one message, falling back to plain text when the parse
// mode is rejected and backing off on rate limits and transient errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			wait := time.Duration(attempt+1) * 3 * t.backoff
			t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
			time.Sleep(wait)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			if _, err2 := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err2 == nil {
				return
			}
		}

		if attempt < telegramMaxSendRetries {
			wait := time.Duration(attempt+1) * t.backoff
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
			time.Sleep(wait)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
