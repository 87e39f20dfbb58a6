package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"seccopilot/internal/config"
	"seccopilot/internal/credentials"
	"seccopilot/internal/memory"
	"seccopilot/internal/provider"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider health, tools and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			creds, err := credentials.Load(envPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("SEC Copilot "+version))

			factory := provider.NewFactory(cfg, creds, logger)
			healthy := "none"
			if p := factory.HealthyProvider(cmd.Context()); p != nil {
				healthy = p.Name()
			}
			fmt.Fprintf(out, "Default provider: %s\n", cfg.General.DefaultProvider)
			fmt.Fprintf(out, "Healthy provider: %s\n", healthy)

			if reg, err := buildTools(cfg, creds); err != nil {
				fmt.Fprintf(out, "Tools:            unavailable (%v)\n", err)
			} else {
				fmt.Fprintf(out, "Tools:            %v\n", reg.Names())
			}
			fmt.Fprintf(out, "Database:         %s\n", config.ExpandPath(cfg.Memory.DBPath))
			fmt.Fprintf(out, "Web:              %v (%s:%d)\n", cfg.Channels.Web.Enabled, cfg.Channels.Web.Host, cfg.Channels.Web.Port)
			fmt.Fprintf(out, "Telegram:         %v\n", cfg.Channels.Telegram.Enabled)
			return nil
		},
	}
}

func threadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List, show and delete persisted conversation threads",
	}

	var user string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's threads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(cfg *config.Config, store *memory.SQLiteStore) error {
				if user == "" {
					user = cfg.Channels.Web.DefaultUser
				}
				if limit <= 0 {
					limit = cfg.Memory.ThreadLimit
				}
				threads, err := store.ListThreads(cmd.Context(), user, limit)
				if err != nil {
					return err
				}
				if len(threads) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No threads for %s.\n", user)
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCREATED")
				for _, t := range threads {
					fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, t.CreatedAt.Local().Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&user, "user", "", "user identifier (default channels.web.defaultUser)")
	list.Flags().IntVar(&limit, "limit", 0, "maximum threads to list (default memory.threadLimit)")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print a thread's steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(_ *config.Config, store *memory.SQLiteStore) error {
				return showThread(cmd.Context(), cmd.OutOrStdout(), store, args[0], asJSON)
			})
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the thread as JSON")

	del := &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(_ *config.Config, store *memory.SQLiteStore) error {
				if err := store.DeleteThread(cmd.Context(), args[0]); err != nil {
					if errors.Is(err, memory.ErrNotFound) {
						return fmt.Errorf("thread %s not found", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func withStore(fn func(*config.Config, *memory.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := memory.NewSQLiteStore(config.ExpandPath(cfg.Memory.DBPath), logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func showThread(ctx context.Context, out io.Writer, store *memory.SQLiteStore, id string, asJSON bool) error {
	thread, err := store.GetThread(ctx, id)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return fmt.Errorf("thread %s not found", id)
		}
		return err
	}
	steps, err := store.ListSteps(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"thread": thread, "steps": steps})
	}

	fmt.Fprintf(out, "%s %s\n\n", headerStyle.Render(thread.Name), idStyle.Render(thread.ID))
	for _, st := range steps {
		fmt.Fprintf(out, "%s:\n%s\n\n", headerStyle.Render(string(st.Type)), st.Output)
	}
	return nil
}
