package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"seccopilot/internal/config"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var force, interactive bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long:  "Writes the default configuration to the path used by --config (or ~/.seccopilot/config.json). With --interactive, asks for the EDGAR identity, default provider and channels first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			if interactive {
				if err := runWizard(cmd.InOrStdin(), cmd.OutOrStdout(), cfg); err != nil {
					return err
				}
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", cfgPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Next: put OPEN_AI_TOKEN and DCM_API_KEY in .env, then run 'seccopilot doctor' and 'seccopilot chat'.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "answer a few setup questions")
	return cmd
}

// wizard reads answers line by line, returning the default on an empty line.
type wizard struct {
	in  *bufio.Reader
	out io.Writer
}

func (w *wizard) ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", question)
	}
	line, err := w.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if s := strings.TrimSpace(line); s != "" {
		return s, nil
	}
	return def, nil
}

func (w *wizard) confirm(question string, def bool) (bool, error) {
	d := "n"
	if def {
		d = "y"
	}
	ans, err := w.ask(question+" (y/n)", d)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(ans), "y"), nil
}

func runWizard(in io.Reader, out io.Writer, cfg *config.Config) error {
	w := &wizard{in: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "\n--- Step 1: SEC EDGAR ---")
	fmt.Fprintln(out, "SEC requires a name and contact email in the User-Agent of every request.")
	id, err := w.ask("Identity", cfg.EDGAR.Identity)
	if err != nil {
		return err
	}
	cfg.EDGAR.Identity = id

	fmt.Fprintln(out, "\n--- Step 2: Default LLM provider ---")
	names := []string{"openai", "claude"}
	for i, n := range names {
		fmt.Fprintf(out, "  %d) %s (set %s)\n", i+1, n, cfg.Providers[n].APIKeyEnv)
	}
	choice, err := w.ask("Choose provider", "1")
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(names) {
		idx = 1
	}
	cfg.General.DefaultProvider = names[idx-1]
	for _, n := range names {
		p := cfg.Providers[n]
		p.Enabled = n == cfg.General.DefaultProvider
		cfg.Providers[n] = p
	}

	fmt.Fprintln(out, "\n--- Step 3: Channels ---")
	fmt.Fprintln(out, "The terminal chat is always available via 'seccopilot chat'.")
	if cfg.Channels.Web.Enabled, err = w.confirm("Enable the web UI", false); err != nil {
		return err
	}
	if cfg.Channels.Telegram.Enabled, err = w.confirm("Enable the Telegram bot", false); err != nil {
		return err
	}
	if cfg.Channels.Telegram.Enabled {
		ids, err := w.ask("Telegram user ids allowed to chat (comma separated, empty for anyone)", "")
		if err != nil {
			return err
		}
		for _, s := range strings.Split(ids, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Channels.Telegram.AllowFrom = append(cfg.Channels.Telegram.AllowFrom, s)
			}
		}
	}
	return nil
}
