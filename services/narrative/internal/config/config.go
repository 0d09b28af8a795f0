// Package config loads the narrative service configuration from a YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/startupai/narrative/pkg/db"
	"github.com/startupai/narrative/services/narrative/internal/integrity"
)

const (
	AgentNone   = "none"
	AgentOpenAI = "openai"
)

type Config struct {
	Service   ServiceConfig      `yaml:"service"`
	Narrative NarrativeConfig    `yaml:"narrative"`
	Database  DatabaseConfig     `yaml:"database"`
	Agent     AgentConfig        `yaml:"agent"`
	Integrity integrity.Versions `yaml:"integrity"`
	Logging   LoggingConfig      `yaml:"logging"`
}

type ServiceConfig struct {
	Port          int    `yaml:"port"`
	PublicBaseURL string `yaml:"public_base_url"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
}

type NarrativeConfig struct {
	Enabled                    bool          `yaml:"enabled"`
	ExportTTL                  time.Duration `yaml:"export_ttl"`
	VerifyRateLimitPerMinute   int           `yaml:"verify_rate_limit_per_minute"`
	GenerateRateLimitPerMinute int           `yaml:"generate_rate_limit_per_minute"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

func (d DatabaseConfig) DB() db.Config {
	return db.Config{URL: d.URL, MaxConns: d.MaxConns, MinConns: d.MinConns, MaxConnLifetime: d.MaxConnLifetime}
}

type AgentConfig struct {
	// Provider is "none" (deterministic synthesis only) or "openai".
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxOutputTokens int64         `yaml:"max_output_tokens"`
	MaxRetries      int           `yaml:"max_retries"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Service: ServiceConfig{
			Port:          8090,
			PublicBaseURL: "http://localhost:8090",
			MaxBodyBytes:  262144,
		},
		Narrative: NarrativeConfig{
			Enabled:                    true,
			ExportTTL:                  30 * 24 * time.Hour,
			VerifyRateLimitPerMinute:   60,
			GenerateRateLimitPerMinute: 10,
		},
		Database: DatabaseConfig{MaxConns: 10, MinConns: 1, MaxConnLifetime: 30 * time.Minute},
		Agent: AgentConfig{
			Provider:        AgentNone,
			Model:           "gpt-4.1-mini",
			Timeout:         45 * time.Second,
			MaxOutputTokens: 6000,
			MaxRetries:      2,
		},
		Integrity: integrity.Versions{
			MethodologyVersion:       "vpd-1",
			FitScoreAlgorithmVersion: "gates-mean-1",
			AgentVersions:            map[string]string{},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies environment overrides. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.Port = envIntDefault("SERVICE_PORT", cfg.Service.Port)
	cfg.Service.PublicBaseURL = envStringDefault("PUBLIC_BASE_URL", cfg.Service.PublicBaseURL)
	cfg.Service.MaxBodyBytes = envInt64Default("MAX_BODY_BYTES", cfg.Service.MaxBodyBytes)
	cfg.Narrative.Enabled = envBoolDefault("NARRATIVE_ENABLED", cfg.Narrative.Enabled)
	cfg.Narrative.VerifyRateLimitPerMinute = envIntDefault("VERIFY_RATE_LIMIT_PER_MINUTE", cfg.Narrative.VerifyRateLimitPerMinute)
	cfg.Narrative.GenerateRateLimitPerMinute = envIntDefault("GENERATE_RATE_LIMIT_PER_MINUTE", cfg.Narrative.GenerateRateLimitPerMinute)
	cfg.Database.URL = envStringDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Agent.Provider = envStringDefault("NARRATIVE_AGENT_PROVIDER", cfg.Agent.Provider)
	cfg.Agent.Model = envStringDefault("NARRATIVE_AGENT_MODEL", cfg.Agent.Model)
	cfg.Agent.APIKey = envStringDefault("OPENAI_API_KEY", cfg.Agent.APIKey)
	cfg.Agent.BaseURL = envStringDefault("OPENAI_BASE_URL", cfg.Agent.BaseURL)
	cfg.Logging.Level = envStringDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Development = envBoolDefault("LOG_DEVELOPMENT", cfg.Logging.Development)
}

func (c Config) Validate() error {
	var errs []error
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		errs = append(errs, fmt.Errorf("service.port must be in 1..65535, got %d", c.Service.Port))
	}
	if !strings.HasPrefix(c.Service.PublicBaseURL, "http://") && !strings.HasPrefix(c.Service.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("service.public_base_url must be an http(s) url, got %q", c.Service.PublicBaseURL))
	}
	if c.Narrative.ExportTTL <= 0 {
		errs = append(errs, errors.New("narrative.export_ttl must be positive"))
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		errs = append(errs, errors.New("database.min_conns exceeds database.max_conns"))
	}
	switch strings.ToLower(c.Agent.Provider) {
	case "", AgentNone:
	case AgentOpenAI:
		if strings.TrimSpace(c.Agent.APIKey) == "" {
			errs = append(errs, errors.New("agent.api_key (or OPENAI_API_KEY) is required for the openai provider"))
		}
		if strings.TrimSpace(c.Agent.Model) == "" {
			errs = append(errs, errors.New("agent.model is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("agent.provider must be %q or %q, got %q", AgentNone, AgentOpenAI, c.Agent.Provider))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}

func envStringDefault(key, def string) string {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		return raw
	}
	return def
}

func envBoolDefault(key string, def bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return def
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envIntDefault(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < 0 {
		return 0
	}
	return v
}

func envInt64Default(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	if v <= 0 {
		return def
	}
	return v
}
