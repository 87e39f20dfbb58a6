package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"seccopilot/internal/config"
	"seccopilot/internal/credentials"
	"seccopilot/internal/memory"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// checkReport tallies doctor results.
type checkReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  %s %-22s %s\n", passStyle.Render("[PASS]"), check, detail)
}

func (r *checkReport) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  %s %-22s %s\n", warnStyle.Render("[WARN]"), check, detail)
}

func (r *checkReport) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  %s %-22s %s\n", failStyle.Render("[FAIL]"), check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your SEC Copilot installation",
		Long: `Verifies that the configuration, credentials, database and channels
are set up correctly. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &checkReport{out: cmd.OutOrStdout()}
			fmt.Fprintln(r.out, sectionStyle.Render("SEC Copilot Doctor v"+version))
			fmt.Fprintln(r.out)

			cfgPath := config.ExpandPath(resolveConfigPath())
			var cfg *config.Config
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				cfg = config.Defaults()
			} else {
				r.pass("Config file", cfgPath)
				if cfg, err = config.Load(cfgPath); err != nil {
					r.fail("Config validation", err.Error())
					return r.finish()
				}
				r.pass("Config validation", "valid")
			}

			creds, err := credentials.Load(envPath)
			if err != nil {
				r.fail("Credentials", err.Error())
				return r.finish()
			}
			if p := creds.Path(); p != "" {
				r.pass(".env file", p)
			} else {
				r.warn(".env file", "none found, using process environment only")
			}

			runChecks(r, cfg, creds)
			return r.finish()
		},
	}
}

func runChecks(r *checkReport, cfg *config.Config, creds *credentials.Loader) {
	dbPath := config.ExpandPath(cfg.Memory.DBPath)
	if err := checkDatabase(dbPath); err != nil {
		r.fail("Database", err.Error())
	} else {
		r.pass("Database", dbPath)
	}

	enabled := 0
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		enabled++
		switch {
		case p.APIKey != "":
			r.pass("Provider: "+name, "api key in config")
		case p.APIKeyEnv != "" && creds.Lookup(p.APIKeyEnv) != "":
			r.pass("Provider: "+name, p.APIKeyEnv+" set")
		case name == cfg.General.DefaultProvider:
			r.fail("Provider: "+name, "default provider has no credential ("+p.APIKeyEnv+")")
		default:
			r.warn("Provider: "+name, "enabled but "+p.APIKeyEnv+" is not set")
		}
	}
	if enabled == 0 {
		r.fail("Providers", "no providers enabled")
	}

	if id := strings.TrimSpace(cfg.EDGAR.Identity); !strings.Contains(id, "@") {
		r.warn("EDGAR identity", "should include a contact email: "+id)
	} else {
		r.pass("EDGAR identity", id)
	}

	switch {
	case cfg.Transcripts.APIKey != "":
		r.pass("Transcripts key", "api key in config")
	case creds.Lookup(cfg.Transcripts.APIKeyEnv) != "":
		r.pass("Transcripts key", cfg.Transcripts.APIKeyEnv+" set")
	default:
		r.fail("Transcripts key", cfg.Transcripts.APIKeyEnv+" is not set")
	}

	if cfg.Channels.Web.Enabled {
		addr := net.JoinHostPort(cfg.Channels.Web.Host, fmt.Sprint(cfg.Channels.Web.Port))
		if err := checkPort(addr); err != nil {
			r.warn("Web port", fmt.Sprintf("%s may be in use: %v", addr, err))
		} else {
			r.pass("Web port", addr+" available")
		}
		if cfg.Channels.Web.Auth.Enabled && cfg.Channels.Web.Auth.PasswordHash == "" {
			r.fail("Web auth", "enabled without passwordHash")
		}
	}

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token != "" || creds.Lookup(cfg.Channels.Telegram.TokenEnv) != "" {
			r.pass("Telegram token", "configured")
		} else {
			r.fail("Telegram token", cfg.Channels.Telegram.TokenEnv+" is not set")
		}
		if len(cfg.Channels.Telegram.AllowFrom) == 0 {
			r.warn("Telegram allowFrom", "empty, anyone can message the bot")
		}
	}
}

func (r *checkReport) finish() error {
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Fprintln(r.out, "\nPlease fix the failed checks before running SEC Copilot.")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Fprintln(r.out, "\nSEC Copilot should work, but consider fixing the warnings.")
	} else {
		fmt.Fprintln(r.out, "\nAll checks passed! SEC Copilot is ready to run.")
	}
	return nil
}

// checkDatabase opens the store, which creates the file and runs migrations.
func checkDatabase(dbPath string) error {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	return store.Close()
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
