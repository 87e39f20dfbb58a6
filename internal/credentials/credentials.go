// Package credentials resolves API secrets from the process environment and
// an optional .env file.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvOpenAI    = "OPEN_AI_TOKEN"
	EnvDCM       = "DCM_API_KEY"
	EnvAnthropic = "ANTHROPIC_API_KEY"
	EnvTelegram  = "TELEGRAM_BOT_TOKEN"
)

// ErrMissing is wrapped by every MissingError.
var ErrMissing = errors.New("credential missing")

// MissingError reports a required secret that is unset or blank.
type MissingError struct {
	Name  string // environment variable name
	Label string // human readable, e.g. "OpenAI API key"
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s not found or empty. Please set a valid %s in your .env file or as an environment variable.", e.Label, e.Name)
}

func (e *MissingError) Unwrap() error {
	return ErrMissing
}

var labels = map[string]string{
	EnvOpenAI:    "OpenAI API key",
	EnvDCM:       "DCM API key",
	EnvAnthropic: "Anthropic API key",
	EnvTelegram:  "Telegram bot token",
}

// Loader looks secrets up in the process environment first and falls back
// to values read from a .env file. It never mutates the process environment.
type Loader struct {
	dotenv map[string]string
	getenv func(string) string
	path   string
}

// Load reads the .env file at path. An empty path searches the working
// directory and its parents. A missing file is not an error.
func Load(path string) (*Loader, error) {
	l := &Loader{dotenv: map[string]string{}, getenv: os.Getenv}
	if path == "" {
		path = findDotenv()
		if path == "" {
			return l, nil
		}
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	l.dotenv = values
	l.path = path
	return l, nil
}

// FromMap builds a Loader over fixed values, ignoring the process environment.
func FromMap(values map[string]string) *Loader {
	return &Loader{dotenv: values, getenv: func(string) string { return "" }}
}

// Path returns the .env file the loader read, if any.
func (l *Loader) Path() string { return l.path }

// Lookup returns the trimmed value of name, or "" when unset.
func (l *Loader) Lookup(name string) string {
	if v := strings.TrimSpace(l.getenv(name)); v != "" {
		return v
	}
	return strings.TrimSpace(l.dotenv[name])
}

// Require returns the value of name or a *MissingError.
func (l *Loader) Require(name string) (string, error) {
	if v := l.Lookup(name); v != "" {
		return v, nil
	}
	label, ok := labels[name]
	if !ok {
		label = name
	}
	return "", &MissingError{Name: name, Label: label}
}

func (l *Loader) OpenAIKey() (string, error) { return l.Require(EnvOpenAI) }

func (l *Loader) DCMKey() (string, error) { return l.Require(EnvDCM) }

func findDotenv() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(dir, ".env")
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
