package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultPGHost     = "127.0.0.1"
	DefaultPGPort     = 5432
	DefaultPGUser     = "postgres"
	DefaultPGDatabase = "vendalink"
	DefaultPGSSLMode  = "disable"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Analysis AnalysisConfig `toml:"analysis"`
	LLM      LLMConfig      `toml:"llm"`
	Sweep    SweepConfig    `toml:"sweep"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
	// WebhookToken, when set, is required in the X-Webhook-Token header of
	// gateway calls. Empty disables the check.
	WebhookToken string `toml:"webhook_token"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

type AnalysisConfig struct {
	// MaxConcurrency caps simultaneous analysis runs across all conversations.
	MaxConcurrency int `toml:"max_concurrency" validate:"gte=1"`
	// CallTimeoutSeconds bounds a single completion-endpoint call.
	CallTimeoutSeconds int `toml:"call_timeout_seconds" validate:"gte=1"`
}

type LLMConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Enabled reports whether a completion endpoint is configured at all.
// Without one, ingestion still runs but nothing is scheduled for analysis.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

type SweepConfig struct {
	Enabled bool `toml:"enabled"`
	// Spec is a cron expression; defaults to every five minutes.
	Spec string `toml:"spec"`
	// QuietMinutes is how long a dirty conversation must be idle before the
	// sweep re-schedules it.
	QuietMinutes int `toml:"quiet_minutes" validate:"gte=0"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Analysis: AnalysisConfig{
			MaxConcurrency:     1,
			CallTimeoutSeconds: 60,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 60,
		},
		Sweep: SweepConfig{
			Enabled:      true,
			Spec:         "@every 5m",
			QuietMinutes: 10,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
