package main

import (
	"fmt"
	"time"

	"seccopilot/internal/agent"
	"seccopilot/internal/config"
	"seccopilot/internal/credentials"
	"seccopilot/internal/domain"
	"seccopilot/internal/edgar"
	"seccopilot/internal/memory"
	"seccopilot/internal/provider"
	"seccopilot/internal/tool"
	"seccopilot/internal/transcripts"
)

// app holds the components shared by the chat, ask and serve commands.
type app struct {
	cfg      *config.Config
	creds    *credentials.Loader
	store    *memory.SQLiteStore // nil when persistence is off
	provider domain.Provider
	tools    *tool.Registry
	agent    *agent.Agent
	sessions *agent.SessionManager
}

// newApp wires provider, tools, agent and sessions. Missing credentials
// are fatal here so the user sees them before the first question.
func newApp(cfg *config.Config, persist bool) (*app, error) {
	creds, err := credentials.Load(envPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, creds: creds}

	factory := provider.NewFactory(cfg, creds, logger)
	a.provider, err = factory.DefaultProvider()
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	a.tools, err = buildTools(cfg, creds)
	if err != nil {
		return nil, err
	}

	var limiter *agent.RateLimiter
	if pc := cfg.Providers[cfg.General.DefaultProvider]; pc.RateLimitPerMin > 0 {
		limiter = agent.NewRateLimiter(0, float64(pc.RateLimitPerMin))
	}
	a.agent = agent.NewAgent(agent.Config{
		Provider:         a.provider,
		Tools:            a.tools,
		Prompt:           agent.NewPromptBuilder(agent.PromptConfig{}),
		Limiter:          limiter,
		Logger:           logger,
		MaxIterations:    cfg.General.MaxIterations,
		MaxParallelTools: cfg.General.MaxParallelTools,
		Temperature:      cfg.General.Temperature,
		MaxTokens:        cfg.General.MaxTokens,
	})

	if persist {
		a.store, err = memory.NewSQLiteStore(config.ExpandPath(cfg.Memory.DBPath), logger)
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
	}

	sc := agent.SessionConfig{
		Agent:            a.agent,
		TokenBudget:      cfg.Memory.TokenBudget,
		ObservationLimit: cfg.General.ObservationLimit,
		Logger:           logger,
	}
	if a.store != nil {
		sc.Store = a.store
	}
	if cfg.Memory.Summarize {
		sc.Compactor = agent.NewCompactor(agent.CompactorConfig{Provider: a.provider, Logger: logger})
	}
	a.sessions = agent.NewSessionManager(sc)

	logger.Info("assistant ready", "provider", a.provider.Name(), "tools", a.tools.Names(), "persist", a.store != nil)
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

func buildTools(cfg *config.Config, creds *credentials.Loader) (*tool.Registry, error) {
	fetcher, err := newFilingFetcher(cfg)
	if err != nil {
		return nil, err
	}
	calls, err := newTranscriptClient(cfg, creds)
	if err != nil {
		return nil, err
	}

	reg := tool.NewRegistry(logger)
	reg.Register(tool.NewCompanyReportTool(fetcher))
	reg.Register(tool.NewTranscriptTool(calls, cfg.Transcripts.MaxChars))
	return reg, nil
}

func newFilingFetcher(cfg *config.Config) (*edgar.Fetcher, error) {
	client, err := edgar.NewClient(edgar.ClientConfig{
		Identity:          cfg.EDGAR.Identity,
		WWWBase:           cfg.EDGAR.WWWBase,
		DataBase:          cfg.EDGAR.DataBase,
		RequestsPerSecond: cfg.EDGAR.RequestsPerSecond,
		HTTPClient:        provider.SharedHTTPClient(seconds(cfg.EDGAR.TimeoutSeconds)),
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	return edgar.NewFetcher(client, cfg.EDGAR.MaxReportChars, logger), nil
}

func newTranscriptClient(cfg *config.Config, creds *credentials.Loader) (*transcripts.Client, error) {
	key := cfg.Transcripts.APIKey
	if key == "" {
		var err error
		if key, err = creds.Require(cfg.Transcripts.APIKeyEnv); err != nil {
			return nil, err
		}
	}
	return transcripts.NewClient(transcripts.ClientConfig{
		BaseURL:    cfg.Transcripts.BaseURL,
		APIKey:     key,
		HTTPClient: provider.SharedHTTPClient(seconds(cfg.Transcripts.TimeoutSeconds)),
		Logger:     logger,
	}), nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 30 * time.Second
	}
	return time.Duration(n) * time.Second
}
