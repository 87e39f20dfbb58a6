package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"seccopilot/internal/config"
	"seccopilot/internal/credentials"
	"seccopilot/internal/domain"
)

// ProviderConstructor creates a provider from a config entry and its
// resolved API key.
type ProviderConstructor func(pc config.ProviderConfig, apiKey string, logger *slog.Logger) domain.Provider

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	creds        *credentials.Loader
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

func NewFactory(cfg *config.Config, creds *credentials.Loader, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		creds:        creds,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

func timeout(pc config.ProviderConfig) time.Duration {
	return time.Duration(pc.TimeoutSeconds) * time.Second
}

func (f *Factory) registerDefaults() {
	f.constructors["openai"] = func(pc config.ProviderConfig, key string, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey: key, APIBase: pc.APIBase, Model: pc.DefaultModel,
			HTTPClient: SharedHTTPClient(timeout(pc)), Logger: logger,
		})
	}
	f.constructors["claude"] = func(pc config.ProviderConfig, key string, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{
			APIKey: key, APIBase: pc.APIBase, Model: pc.DefaultModel,
			HTTPClient: SharedHTTPClient(timeout(pc)), Logger: logger,
		})
	}
}

// apiKey resolves the key from config first, then the credential loader.
func (f *Factory) apiKey(name string, pc config.ProviderConfig) (string, error) {
	if pc.APIKey != "" {
		return pc.APIKey, nil
	}
	if pc.APIKeyEnv == "" {
		return "", fmt.Errorf("provider %s: no apiKey or apiKeyEnv configured", name)
	}
	return f.creds.Require(pc.APIKeyEnv)
}

// Get returns the provider with the given name, or the default if name is
// empty. Providers are cached after first construction.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	key, err := f.apiKey(name, pc)
	if err != nil {
		return nil, err
	}

	ctor, found := f.constructors[name]
	var p domain.Provider
	switch {
	case found:
		p = ctor(pc, key, f.logger)
	case pc.APIBase != "":
		// Unknown names with an API base are treated as OpenAI-compatible.
		p = NewOpenAI(OpenAIConfig{APIKey: key, APIBase: pc.APIBase, Model: pc.DefaultModel, HTTPClient: SharedHTTPClient(timeout(pc)), Logger: f.logger})
	default:
		return nil, fmt.Errorf("provider %s: no constructor registered and no API base configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// DefaultProvider returns the configured default provider, wrapped in a
// failover chain when general.failoverChain names more providers.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	primary, err := f.Get("")
	if err != nil {
		return nil, err
	}
	if len(f.cfg.General.FailoverChain) == 0 {
		return primary, nil
	}
	chain := []domain.Provider{primary}
	for _, name := range f.cfg.General.FailoverChain {
		if name == f.cfg.General.DefaultProvider {
			continue
		}
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("failover provider unavailable", "provider", name, "err", err)
			continue
		}
		chain = append(chain, p)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}

// HealthyProvider returns the first configured provider that passes a
// health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for name := range f.cfg.Providers {
		p, err := f.Get(name)
		if err != nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
