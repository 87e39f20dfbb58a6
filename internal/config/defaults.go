package config

import "seccopilot/internal/credentials"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			LogFormat:             "text",
			DefaultProvider:       "openai",
			MaxIterations:         8,
			MaxConcurrentMessages: 5,
			MaxParallelTools:      2,
			Temperature:           0.7,
			ObservationLimit:      1500,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:        true,
				APIBase:        "https://api.openai.com/v1",
				APIKeyEnv:      credentials.EnvOpenAI,
				DefaultModel:   "gpt-4o",
				TimeoutSeconds: 120,
			},
			"claude": {
				Enabled:        false,
				APIKeyEnv:      credentials.EnvAnthropic,
				DefaultModel:   "claude-sonnet-4-20250514",
				TimeoutSeconds: 120,
			},
		},
		EDGAR: EDGARConfig{
			Identity:          "SEC Copilot seccopilot@example.com",
			WWWBase:           "https://www.sec.gov",
			DataBase:          "https://data.sec.gov",
			RequestsPerSecond: 5,
			MaxReportChars:    60000,
			TimeoutSeconds:    30,
		},
		Transcripts: TranscriptsConfig{
			BaseURL:        "https://discountingcashflows.com",
			APIKeyEnv:      credentials.EnvDCM,
			MaxChars:       60000,
			TimeoutSeconds: 30,
		},
		Memory: MemoryConfig{
			DBPath:      "~/.seccopilot/seccopilot.db",
			TokenBudget: 3000,
			Summarize:   true,
			ThreadLimit: 20,
		},
		Channels: ChannelsConfig{
			Web: WebConfig{
				Enabled:     false,
				Host:        "127.0.0.1",
				Port:        8080,
				DefaultUser: "default",
			},
			Telegram: TelegramConfig{
				Enabled:  false,
				TokenEnv: credentials.EnvTelegram,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
