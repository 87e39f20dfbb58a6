package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"seccopilot/internal/domain"
)

// ChatCommand is a parsed slash command.
type ChatCommand struct {
	Name string
	Args []string
	Raw  string
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string
	Handled  bool // false means the text goes to the model
}

var startTime = time.Now()

// Version is set by the command at startup.
var Version = "dev"

// ParseCommand returns nil unless text starts with "/".
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}
	return &ChatCommand{
		Name: strings.ToLower(strings.TrimPrefix(parts[0], "/")),
		Args: parts[1:],
		Raw:  text,
	}
}

// HandleCommand runs a chat command. Unknown commands are not handled.
func (d *Dispatcher) HandleCommand(ctx context.Context, cmd *ChatCommand, msg domain.InboundMessage) CommandResult {
	thread := ThreadKey(msg.Channel, msg.ChatID)
	switch cmd.Name {
	case "help", "start":
		return CommandResult{Response: helpText(), Handled: true}

	case "new", "clear":
		err := d.sessions.Reset(ctx, thread, msg.SenderID)
		if errors.Is(err, ErrNotOwner) {
			return CommandResult{Response: "Sorry, that conversation was not found.", Handled: true}
		}
		if err != nil {
			return CommandResult{Response: fmt.Sprintf("Could not clear the conversation: %s", err), Handled: true}
		}
		return CommandResult{Response: "Conversation cleared. Starting fresh.", Handled: true}

	case "summary":
		sess, err := d.sessions.Get(ctx, thread, msg.SenderID)
		if errors.Is(err, ErrNotOwner) {
			return CommandResult{Response: "Sorry, that conversation was not found.", Handled: true}
		}
		if err != nil {
			return CommandResult{Response: fmt.Sprintf("Could not load the conversation: %s", err), Handled: true}
		}
		if s := sess.Summary(); s != "" {
			return CommandResult{Response: s, Handled: true}
		}
		return CommandResult{Response: "Nothing has been summarized yet.", Handled: true}

	case "status":
		return CommandResult{Response: d.statusText(), Handled: true}

	case "version":
		return CommandResult{Response: fmt.Sprintf("SEC Copilot %s (%s/%s, Go %s)", Version, runtime.GOOS, runtime.GOARCH, runtime.Version()), Handled: true}

	default:
		return CommandResult{Handled: false}
	}
}

func helpText() string {
	return `**SEC Copilot Commands**

/help: show this help message
/new: start a new conversation
/summary: show the summary of older turns
/status: show provider, tools and uptime
/version: show version info

Ask about 10-K and 10-Q filings or earnings calls, e.g. "Summarize AAPL's latest 10-K".`
}

func (d *Dispatcher) statusText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**SEC Copilot %s**\n\n", Version)
	fmt.Fprintf(&sb, "Provider: %s\n", d.info.Provider)
	fmt.Fprintf(&sb, "Tools: %s\n", strings.Join(d.info.Tools, ", "))
	fmt.Fprintf(&sb, "Active conversations: %d\n", d.sessions.Active())
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Since(startTime).Round(time.Second))
	return sb.String()
}
