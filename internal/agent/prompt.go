package agent

import (
	"strings"

	"seccopilot/internal/domain"
)

// SystemTemplate is the assistant persona.
const SystemTemplate = `You are an assistant chatbot named "SEC Copilot". Your expertise is
fetching data from the SEC EDGAR database, fetching earnings call
transcripts, answering questions about the data fetched, summarizing
financial reports from companies, summarizing earnings calls based on
transcripts, as well as helping identify strategies to build
functionality within scope of the user's application to help those
companies tackle their most impactful issues based on their summarized
data. If a question is not about SEC data, 10-K, 10-Q, earnings reports,
or other public company financial data, respond with, "I only specialize
in answering questions and providing insight on public company
financial and earnings data."`

const historyInstruction = "Use the following chat history to answer questions if possible: "

// PromptBuilder assembles the message list for one query.
type PromptBuilder struct {
	system string
	extra  string
}

// PromptConfig customizes the prompt. Empty fields keep the defaults.
type PromptConfig struct {
	System string
	Extra  string // appended to the system prompt
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	if cfg.System == "" {
		cfg.System = SystemTemplate
	}
	return &PromptBuilder{system: cfg.System, extra: cfg.Extra}
}

// Build returns: system prompt, optional running summary, the history
// turns, the history restated as a system message, and the user input.
func (p *PromptBuilder) Build(history []domain.ConversationTurn, summary, input string) []domain.Message {
	system := p.system
	if p.extra != "" {
		system += "\n\n" + p.extra
	}

	msgs := make([]domain.Message, 0, len(history)+4)
	msgs = append(msgs, domain.Message{Role: "system", Content: system})
	if summary != "" {
		msgs = append(msgs, domain.Message{Role: "system", Content: "[Conversation Summary]\n" + summary})
	}
	for _, t := range history {
		msgs = append(msgs, domain.Message{Role: string(t.Role), Content: t.Text})
	}
	msgs = append(msgs, domain.Message{Role: "system", Content: historyInstruction + renderHistory(history)})
	msgs = append(msgs, domain.Message{Role: "user", Content: input})
	return msgs
}

// renderHistory flattens turns into "Human: ...\nAI: ..." lines.
func renderHistory(turns []domain.ConversationTurn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if t.Role == domain.RoleUser {
			sb.WriteString("Human: ")
		} else {
			sb.WriteString("AI: ")
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}
