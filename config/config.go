// Package config handles TOML configuration loading and path resolution.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const defaultBasePrompt = "You are an AI assistant designed to engage in conversations in a Discord channel."

type Config struct {
	Owner      string       `toml:"owner"`
	BasePrompt string       `toml:"base_prompt"`
	LLM        LLMConfig    `toml:"llm"`
	Tuning     TuningConfig `toml:"tuning"`
	Web        WebConfig    `toml:"web"`
	Log        LogConfig    `toml:"log"`
	Bots       []BotConfig  `toml:"bots" validate:"required,min=1,dive"`
}

type LLMConfig struct {
	Provider              string  `toml:"provider" validate:"oneof=local openrouter gateway"`
	Model                 string  `toml:"model" validate:"required"`
	LocalURL              string  `toml:"local_url"`
	OpenRouterKey         string  `toml:"openrouter_key"`
	OpenRouterURL         string  `toml:"openrouter_url"`
	GatewayURL            string  `toml:"gateway_url"`
	GatewayKey            string  `toml:"gateway_key"`
	Temperature           float64 `toml:"temperature" validate:"gte=0,lte=2"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds" validate:"gte=0"`
	MaxRequestsPerMinute  int     `toml:"max_requests_per_minute" validate:"gte=0"`
}

// TuningConfig holds the startup values of the runtime-tunable settings.
type TuningConfig struct {
	ReplyChance     float64 `toml:"reply_chance" validate:"gte=0,lte=1"`
	CooldownSeconds float64 `toml:"cooldown_seconds" validate:"gte=0,lte=3600"`
	TypingSpeed     float64 `toml:"typing_speed" validate:"gte=1,lte=1000"`
	IntervalMinutes float64 `toml:"interval_minutes" validate:"gte=0.1,lte=60"`
}

type WebConfig struct {
	Addr string `toml:"addr"`
}

type LogConfig struct {
	DBPath string `toml:"db_path"`
}

type BotConfig struct {
	Name             string `toml:"name" validate:"required"`
	Token            string `toml:"token"`
	Model            string `toml:"model"`
	Channel          string `toml:"channel"`
	SoulFile         string `toml:"soul_file"`
	Intro            string `toml:"intro"`
	Periodic         string `toml:"periodic"`
	SystemAddition   string `toml:"system_addition"`
	IntroOnStart     bool   `toml:"intro_on_start"`
	RegisterCommands bool   `toml:"register_commands"`
}

// ConfigurationError reports a per-bot configuration problem. Only the
// affected bot is skipped; the rest of the process keeps running.
type ConfigurationError struct {
	Bot    string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bot %s: %s %s", e.Bot, e.Field, e.Reason)
}

func defaults() Config {
	return Config{
		BasePrompt: defaultBasePrompt,
		LLM: LLMConfig{
			Provider:    "local",
			Model:       "mistralai/devstral-small-2505",
			LocalURL:    "http://localhost:1234",
			Temperature: 0.7,
		},
		Tuning: TuningConfig{
			ReplyChance:     0.25,
			CooldownSeconds: 60,
			TypingSpeed:     10,
			IntervalMinutes: 1,
		},
	}
}

// Load reads the TOML file at path. A .env file in the working directory is
// loaded into the environment first so that $VAR references resolve.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if p := os.Getenv("BANTER_LOG_DB_PATH"); p != "" {
		cfg.Log.DBPath = p
	}
	if p := os.Getenv("BANTER_LLM_PROVIDER"); p != "" {
		cfg.LLM.Provider = p
	}

	cfg.LLM.OpenRouterKey = os.ExpandEnv(cfg.LLM.OpenRouterKey)
	cfg.LLM.GatewayKey = os.ExpandEnv(cfg.LLM.GatewayKey)
	cfg.LLM.LocalURL = os.ExpandEnv(cfg.LLM.LocalURL)
	cfg.LLM.OpenRouterURL = os.ExpandEnv(cfg.LLM.OpenRouterURL)
	cfg.LLM.GatewayURL = os.ExpandEnv(cfg.LLM.GatewayURL)
	cfg.Log.DBPath = os.ExpandEnv(cfg.Log.DBPath)
	for i := range cfg.Bots {
		cfg.Bots[i].Token = os.ExpandEnv(cfg.Bots[i].Token)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	switch cfg.LLM.Provider {
	case "openrouter":
		if cfg.LLM.OpenRouterKey == "" {
			return nil, fmt.Errorf("llm.openrouter_key is required for provider openrouter")
		}
	case "gateway":
		if cfg.LLM.GatewayURL == "" {
			return nil, fmt.Errorf("llm.gateway_url is required for provider gateway")
		}
	}

	seen := make(map[string]bool, len(cfg.Bots))
	for _, b := range cfg.Bots {
		if seen[b.Name] {
			return nil, fmt.Errorf("bot name %q is used more than once", b.Name)
		}
		seen[b.Name] = true
	}

	return &cfg, nil
}

// Resolve returns the config file path from BANTER_CONFIG env var,
// falling back to ~/.config/banter/config.toml.
// The --config CLI flag is handled separately in main.go.
func Resolve() string {
	path := os.Getenv("BANTER_CONFIG")
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".config", "banter", "config.toml")
	}
	path = os.ExpandEnv(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// Validate reports whether the bot has everything it needs to connect.
func (b *BotConfig) Validate() error {
	if b.Token == "" {
		return &ConfigurationError{Bot: b.Name, Field: "token", Reason: "is required"}
	}
	return nil
}

// ResolveModel returns the bot's model override or the global model.
func (cfg *Config) ResolveModel(bot *BotConfig) string {
	if bot.Model != "" {
		return bot.Model
	}
	return cfg.LLM.Model
}

// BotNames returns the configured bot names in declaration order.
func (cfg *Config) BotNames() []string {
	names := make([]string, 0, len(cfg.Bots))
	for _, b := range cfg.Bots {
		names = append(names, b.Name)
	}
	return names
}

// CommandBot returns the name of the bot that registers slash commands:
// the first bot with register_commands set, otherwise the first bot.
func (cfg *Config) CommandBot() string {
	for _, b := range cfg.Bots {
		if b.RegisterCommands {
			return b.Name
		}
	}
	if len(cfg.Bots) == 0 {
		return ""
	}
	return cfg.Bots[0].Name
}

func (t TuningConfig) Cooldown() time.Duration {
	return time.Duration(t.CooldownSeconds * float64(time.Second))
}

func (t TuningConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMinutes * float64(time.Minute))
}
