package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"seccopilot/internal/agent"
	"seccopilot/internal/domain"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	traceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// CLI is an interactive terminal chat. It talks to its session directly
// instead of going through the bus.
type CLI struct {
	sessions *agent.SessionManager
	threadID string
	user     string
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer

	thinkMu   sync.Mutex
	thinking  bool
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Sessions *agent.SessionManager
	ThreadID string // default "cli:direct"
	User     string // default "default"
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ThreadID == "" {
		cfg.ThreadID = agent.ThreadKey("cli", "direct")
	}
	if cfg.User == "" {
		cfg.User = "default"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		sessions: cfg.Sessions,
		threadID: cfg.ThreadID,
		user:     cfg.User,
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Run reads questions line by line until EOF, /quit or ctx cancellation.
func (c *CLI) Run(ctx context.Context) error {
	_, _ = fmt.Fprintln(c.out, bannerStyle.Render("SEC Copilot")+" Ask about SEC filings and earnings calls. /new starts over, /quit exits.")
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			c.prompt()
			continue
		case "/quit", "/exit", "/q":
			c.logger.Info("user requested quit")
			return nil
		case "/new", "/clear":
			if err := c.sessions.Reset(ctx, c.threadID, c.user); err != nil {
				c.printError(err)
			} else {
				_, _ = fmt.Fprintln(c.out, "Conversation cleared. Starting fresh.")
			}
			c.prompt()
			continue
		}

		if err := c.ask(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.printError(err)
		}
		c.prompt()
	}
}

func (c *CLI) ask(ctx context.Context, line string) error {
	sess, err := c.sessions.Get(ctx, c.threadID, c.user)
	if err != nil {
		return err
	}
	c.startThinking()
	defer c.stopThinking()

	sink := NewTerminalSink(c.out)
	sink.onFirst = c.stopThinking
	_, err = sess.Ask(ctx, line, sink)
	return err
}

func (c *CLI) prompt() {
	_, _ = fmt.Fprint(c.out, promptStyle.Render("You>")+" ")
}

func (c *CLI) printError(err error) {
	_, _ = fmt.Fprintln(c.out, errorStyle.Render("Error: "+err.Error()))
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		drawn := false
		for i := 0; ; i++ {
			select {
			case <-stop:
				if drawn {
					_, _ = fmt.Fprint(c.out, "\r\033[K")
				}
				return
			case <-ticker.C:
				_, _ = fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				drawn = true
			}
		}
	}(c.thinkStop, c.thinkDone)
}

// stopThinking stops the spinner and waits until its line is cleared.
func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}

// TerminalSink prints streamed answer text as it arrives, with tool traces
// dimmed.
type TerminalSink struct {
	out     io.Writer
	onFirst func()
	once    sync.Once
	wrote   bool
}

func NewTerminalSink(out io.Writer) *TerminalSink {
	return &TerminalSink{out: out}
}

func (s *TerminalSink) first() {
	s.once.Do(func() {
		if s.onFirst != nil {
			s.onFirst()
		}
	})
}

func (s *TerminalSink) Stream(_ context.Context, d domain.Delta) error {
	s.first()
	text := d.Text
	if d.Kind == domain.DeltaTrace {
		text = traceStyle.Render(text)
	}
	if _, err := io.WriteString(s.out, text); err != nil {
		return err
	}
	s.wrote = true
	return nil
}

// Complete ends the answer line. The final text is printed only when
// nothing was streamed.
func (s *TerminalSink) Complete(_ context.Context, final string) error {
	s.first()
	if !s.wrote {
		_, err := fmt.Fprintln(s.out, final)
		return err
	}
	_, err := fmt.Fprintln(s.out)
	return err
}
