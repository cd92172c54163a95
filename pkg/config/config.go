package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/gafferhq/gaffer/pkg/errors"
)

type Config struct {
	Log         LogConfig           `koanf:"log"`
	LLM         LLMConfig           `koanf:"llm"`
	Interpreter InterpreterConfig   `koanf:"interpreter"`
	Dispatch    DispatchConfig      `koanf:"dispatch"`
	Identifier  IdentifierConfig    `koanf:"identifier"`
	Telemetry   TelemetryConfig     `koanf:"telemetry"`
	Roles       map[string][]string `koanf:"roles"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, openai, anthropic, mock
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type InterpreterConfig struct {
	// ConfidenceThreshold is the minimum primary-stage confidence accepted
	// before the deterministic fallback runs. Must be in [0,1].
	ConfidenceThreshold float64       `koanf:"confidence_threshold"`
	Timeout             time.Duration `koanf:"timeout"`
}

type DispatchConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type IdentifierConfig struct {
	Team            string `koanf:"team"`
	TeamCode        string `koanf:"team_code"`
	CodeWidth       int    `koanf:"code_width"`
	Separator       string `koanf:"separator"`
	NumericAttempts int    `koanf:"numeric_attempts"`
	RandomAttempts  int    `koanf:"random_attempts"`
	Store           string `koanf:"store"` // memory, sqlite
	SQLitePath      string `koanf:"sqlite_path"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5:7b-instruct")
	k.Set("llm.base_url", "http://localhost:11434")

	k.Set("interpreter.confidence_threshold", 0.7)
	k.Set("interpreter.timeout", "5s")
	k.Set("dispatch.timeout", "10s")

	k.Set("identifier.team", "Botanic Park Harriers")
	k.Set("identifier.team_code", "BPH")
	k.Set("identifier.code_width", 3)
	k.Set("identifier.separator", "v")
	k.Set("identifier.numeric_attempts", 99)
	k.Set("identifier.random_attempts", 8)
	k.Set("identifier.store", "memory")
	k.Set("identifier.sqlite_path", "gaffer.db")

	k.Set("telemetry.exporter", "stdout")

	k.Set("roles.manager", []string{"create_match", "send_message", "list_matches", "help"})
	k.Set("roles.coach", []string{"create_match", "send_message", "list_matches", "help"})
	k.Set("roles.player", []string{"send_message", "list_matches", "help"})

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeConfiguration, "load config file", err)
		}
	}

	// 2. Load from ENV (GAFFER_LLM_PROVIDER -> llm.provider)
	if err := k.Load(env.Provider("GAFFER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "GAFFER_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, errors.New(errors.CodeConfiguration, "load env overrides", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeConfiguration, "unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants. Any violation is fatal: the
// process must not start serving requests on a bad configuration.
func (c *Config) Validate() error {
	if c.Interpreter.ConfidenceThreshold < 0 || c.Interpreter.ConfidenceThreshold > 1 {
		return errors.New(errors.CodeConfiguration, "interpreter.confidence_threshold must be in [0,1]", nil).
			WithContext("value", c.Interpreter.ConfidenceThreshold)
	}
	if c.Interpreter.Timeout <= 0 {
		return errors.New(errors.CodeConfiguration, "interpreter.timeout must be positive", nil)
	}
	if c.Dispatch.Timeout <= 0 {
		return errors.New(errors.CodeConfiguration, "dispatch.timeout must be positive", nil)
	}
	if strings.TrimSpace(c.Identifier.Team) == "" {
		return errors.New(errors.CodeConfiguration, "identifier.team is required", nil)
	}
	if c.Identifier.CodeWidth < 2 || c.Identifier.CodeWidth > 6 {
		return errors.New(errors.CodeConfiguration, "identifier.code_width must be between 2 and 6", nil).
			WithContext("value", c.Identifier.CodeWidth)
	}
	if c.Identifier.NumericAttempts < 1 {
		return errors.New(errors.CodeConfiguration, "identifier.numeric_attempts must be at least 1", nil)
	}
	if c.Identifier.RandomAttempts < 1 {
		return errors.New(errors.CodeConfiguration, "identifier.random_attempts must be at least 1", nil)
	}
	switch c.Identifier.Store {
	case "memory", "sqlite":
	default:
		return errors.New(errors.CodeConfiguration, "identifier.store must be memory or sqlite", nil).
			WithContext("value", c.Identifier.Store)
	}
	if len(c.Roles) == 0 {
		return errors.New(errors.CodeConfiguration, "at least one role must be declared", nil)
	}
	for role, caps := range c.Roles {
		if strings.TrimSpace(role) == "" {
			return errors.New(errors.CodeConfiguration, "role name must not be empty", nil)
		}
		if len(caps) == 0 {
			return errors.New(errors.CodeConfiguration, "role declares no capabilities", nil).
				WithContext("role", role)
		}
	}
	return nil
}
