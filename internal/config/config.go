package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for SEC Copilot.
type Config struct {
	General     GeneralConfig             `json:"general"`
	Providers   map[string]ProviderConfig `json:"providers"`
	EDGAR       EDGARConfig               `json:"edgar"`
	Transcripts TranscriptsConfig         `json:"transcripts"`
	Memory      MemoryConfig              `json:"memory"`
	Channels    ChannelsConfig            `json:"channels"`
	Metrics     MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string   `json:"logLevel"`
	LogFormat             string   `json:"logFormat"` // "text" | "json"
	DefaultProvider       string   `json:"defaultProvider"`
	FailoverChain         []string `json:"failoverChain,omitempty"`
	MaxIterations         int      `json:"maxIterations"`
	MaxConcurrentMessages int      `json:"maxConcurrentMessages"`
	MaxParallelTools      int      `json:"maxParallelTools"`
	Temperature           float64  `json:"temperature"`
	MaxTokens             int      `json:"maxTokens,omitempty"`
	ObservationLimit      int      `json:"observationLimit"` // runes of tool output echoed in the trace
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	APIKeyEnv       string `json:"apiKeyEnv,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds,omitempty"`
}

// EDGARConfig configures the SEC filings client. Identity is sent as the
// User-Agent on every request, as SEC fair-access rules require.
type EDGARConfig struct {
	Identity          string  `json:"identity"`
	WWWBase           string  `json:"wwwBase"`
	DataBase          string  `json:"dataBase"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	MaxReportChars    int     `json:"maxReportChars"`
	TimeoutSeconds    int     `json:"timeoutSeconds"`
}

type TranscriptsConfig struct {
	BaseURL        string `json:"baseURL"`
	APIKey         string `json:"apiKey,omitempty"`
	APIKeyEnv      string `json:"apiKeyEnv"`
	MaxChars       int    `json:"maxChars"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type MemoryConfig struct {
	DBPath      string `json:"dbPath"`
	TokenBudget int    `json:"tokenBudget"`
	Summarize   bool   `json:"summarize"`
	ThreadLimit int    `json:"threadLimit"`
}

type ChannelsConfig struct {
	Web      WebConfig      `json:"web"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebConfig struct {
	Enabled     bool    `json:"enabled"`
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	DefaultUser string  `json:"defaultUser"`
	Auth        WebAuth `json:"auth"`
}

type WebAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"` // hex sha256
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token,omitempty"`
	TokenEnv  string         `json:"tokenEnv,omitempty"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.seccopilot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".seccopilot"
	}
	return filepath.Join(home, ".seccopilot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file (chosen by extension), expands
// environment references and validates the result on top of Defaults().
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share the
// same field names and custom unmarshalers.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unknown
// variables without a default are left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.MaxIterations < 1 || cfg.General.MaxIterations > 50 {
		errs = append(errs, "general.maxIterations must be between 1 and 50")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.MaxParallelTools < 1 {
		errs = append(errs, "general.maxParallelTools must be >= 1")
	}
	if cfg.General.Temperature < 0 || cfg.General.Temperature > 2 {
		errs = append(errs, "general.temperature must be between 0 and 2")
	}
	if cfg.General.ObservationLimit < 0 {
		errs = append(errs, "general.observationLimit must be >= 0")
	}

	if pc, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	} else if !pc.Enabled {
		errs = append(errs, fmt.Sprintf("general.defaultProvider %s is not enabled", cfg.General.DefaultProvider))
	}
	for _, name := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", name))
		}
	}
	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.DefaultModel == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: defaultModel is required", name))
		}
		if pc.RateLimitPerMin < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: rateLimitPerMinute must be >= 0", name))
		}
	}

	if strings.TrimSpace(cfg.EDGAR.Identity) == "" || !strings.Contains(cfg.EDGAR.Identity, "@") {
		errs = append(errs, "edgar.identity must be a name followed by a contact email")
	}
	if cfg.EDGAR.WWWBase == "" || cfg.EDGAR.DataBase == "" {
		errs = append(errs, "edgar.wwwBase and edgar.dataBase are required")
	}
	if cfg.EDGAR.RequestsPerSecond <= 0 || cfg.EDGAR.RequestsPerSecond > 10 {
		errs = append(errs, "edgar.requestsPerSecond must be in (0, 10]")
	}
	if cfg.Transcripts.BaseURL == "" {
		errs = append(errs, "transcripts.baseURL is required")
	}

	if cfg.Memory.TokenBudget < 1 {
		errs = append(errs, "memory.tokenBudget must be >= 1")
	}
	if cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Web.Auth.Enabled && (cfg.Channels.Web.Auth.Username == "" || cfg.Channels.Web.Auth.PasswordHash == "") {
		errs = append(errs, "channels.web.auth requires username and passwordHash when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
