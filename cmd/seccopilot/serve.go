package main

import (
	"context"
	"errors"
	"fmt"

	"seccopilot/internal/agent"
	"seccopilot/internal/bus"
	"seccopilot/internal/channel"
	"seccopilot/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the enabled channels (Web, WebSocket, Telegram)",
		Long:  "Starts the dispatcher and every enabled channel. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Channels.Web.Enabled && !cfg.Channels.Telegram.Enabled {
		return errors.New("no channel enabled: set channels.web.enabled or channels.telegram.enabled")
	}

	ctx := cmd.Context()

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.provider.Healthy(ctx); err != nil {
		logger.Warn("default provider unhealthy at startup", "provider", a.provider.Name(), "err", err)
	}

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
		Bus:         messageBus,
		Sessions:    a.sessions,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentMessages,
		Info:        agent.StatusInfo{Provider: a.provider.Name(), Tools: a.tools.Names()},
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})

	if cfg.Channels.Web.Enabled {
		web := channel.NewWeb(channel.WebConfig{
			Host:      cfg.Channels.Web.Host,
			Port:      cfg.Channels.Web.Port,
			Logger:    logger,
			Config:    cfg,
			Store:     a.store,
			WebSocket: channel.NewWebSocket(channel.WSConfig{Logger: logger, DefaultUser: cfg.Channels.Web.DefaultUser}),
			Version:   version,
		})
		g.Go(func() error { return web.Start(ctx, messageBus) })
	}

	if cfg.Channels.Telegram.Enabled {
		token, err := telegramToken(cfg, a)
		if err != nil {
			return err
		}
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
		})
		g.Go(func() error { return tg.Start(ctx, messageBus) })
	}

	logger.Info("serving. Press Ctrl+C to stop.", "web", cfg.Channels.Web.Enabled, "telegram", cfg.Channels.Telegram.Enabled)
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func telegramToken(cfg *config.Config, a *app) (string, error) {
	if cfg.Channels.Telegram.Token != "" {
		return cfg.Channels.Telegram.Token, nil
	}
	token, err := a.creds.Require(cfg.Channels.Telegram.TokenEnv)
	if err != nil {
		return "", fmt.Errorf("telegram: %w", err)
	}
	return token, nil
}
