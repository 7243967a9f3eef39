package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomasmach/banter/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(cfgFile, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return cfgFile
}

const minimalTOML = `
owner = "Paul"

[[bots]]
name = "Poi"
token = "poi-token"
channel = "general"

[[bots]]
name = "Moi"
token = "$MOI_TOKEN"
model = "moi-model"
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("MOI_TOKEN", "moi-token")
	cfg, err := config.Load(writeConfig(t, minimalTOML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LLM.Provider != "local" {
		t.Errorf("LLM.Provider = %q, want local", cfg.LLM.Provider)
	}
	if cfg.LLM.LocalURL != "http://localhost:1234" {
		t.Errorf("LLM.LocalURL = %q", cfg.LLM.LocalURL)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v, want 0.7", cfg.LLM.Temperature)
	}
	if cfg.Tuning.ReplyChance != 0.25 {
		t.Errorf("Tuning.ReplyChance = %v, want 0.25", cfg.Tuning.ReplyChance)
	}
	if cfg.Tuning.Cooldown() != time.Minute {
		t.Errorf("Tuning.Cooldown() = %v, want 1m", cfg.Tuning.Cooldown())
	}
	if cfg.Tuning.Interval() != time.Minute {
		t.Errorf("Tuning.Interval() = %v, want 1m", cfg.Tuning.Interval())
	}
	if cfg.BasePrompt == "" {
		t.Error("BasePrompt should have a default")
	}
	if cfg.Bots[1].Token != "moi-token" {
		t.Errorf("Bots[1].Token = %q, want env-expanded moi-token", cfg.Bots[1].Token)
	}
}

func TestLoadKeepsExplicitZeroTuning(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
[tuning]
reply_chance = 0.0
cooldown_seconds = 0

[[bots]]
name = "Poi"
token = "x"
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Tuning.ReplyChance != 0 {
		t.Errorf("explicit reply_chance = 0 was replaced with %v", cfg.Tuning.ReplyChance)
	}
	if cfg.Tuning.Cooldown() != 0 {
		t.Errorf("explicit cooldown_seconds = 0 was replaced with %v", cfg.Tuning.Cooldown())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no bots", `owner = "Paul"`},
		{"bot without name", "[[bots]]\ntoken = \"x\"\n"},
		{"unknown provider", "[llm]\nprovider = \"carrier-pigeon\"\n[[bots]]\nname = \"Poi\"\n"},
		{"reply chance above one", "[tuning]\nreply_chance = 1.5\n[[bots]]\nname = \"Poi\"\n"},
		{"typing speed zero", "[tuning]\ntyping_speed = 0\n[[bots]]\nname = \"Poi\"\n"},
		{"openrouter without key", "[llm]\nprovider = \"openrouter\"\n[[bots]]\nname = \"Poi\"\n"},
		{"gateway without url", "[llm]\nprovider = \"gateway\"\n[[bots]]\nname = \"Poi\"\n"},
		{"duplicate bot", "[[bots]]\nname = \"Poi\"\n[[bots]]\nname = \"Poi\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.Load(writeConfig(t, tt.body)); err == nil {
				t.Errorf("Load() should fail for %s", tt.name)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	wantDBPath := "/override/path/logs.db"
	t.Setenv("BANTER_LOG_DB_PATH", wantDBPath)
	t.Setenv("BANTER_LLM_PROVIDER", "gateway")

	cfg, err := config.Load(writeConfig(t, `
[llm]
gateway_url = "https://gateway.example.com"

[log]
db_path = "/original/path/logs.db"

[[bots]]
name = "Poi"
token = "x"
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Log.DBPath != wantDBPath {
		t.Errorf("Log.DBPath = %q, want %q (BANTER_LOG_DB_PATH override not applied)", cfg.Log.DBPath, wantDBPath)
	}
	if cfg.LLM.Provider != "gateway" {
		t.Errorf("LLM.Provider = %q, want gateway", cfg.LLM.Provider)
	}
}

func TestBotValidateMissingToken(t *testing.T) {
	b := config.BotConfig{Name: "Poi"}
	err := b.Validate()
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Validate() = %v, want *ConfigurationError", err)
	}
	if cfgErr.Bot != "Poi" || cfgErr.Field != "token" {
		t.Errorf("unexpected error fields: %+v", cfgErr)
	}

	b.Token = "x"
	if err := b.Validate(); err != nil {
		t.Errorf("Validate() with token = %v, want nil", err)
	}
}

func TestResolveModel(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Model: "global"}}
	tests := []struct {
		name string
		bot  config.BotConfig
		want string
	}{
		{"bot override wins", config.BotConfig{Model: "own"}, "own"},
		{"global fallback", config.BotConfig{}, "global"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.ResolveModel(&tt.bot); got != tt.want {
				t.Errorf("ResolveModel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandBot(t *testing.T) {
	cfg := &config.Config{Bots: []config.BotConfig{{Name: "Poi"}, {Name: "Moi"}}}
	if got := cfg.CommandBot(); got != "Poi" {
		t.Errorf("CommandBot() = %q, want first bot Poi", got)
	}
	cfg.Bots[1].RegisterCommands = true
	if got := cfg.CommandBot(); got != "Moi" {
		t.Errorf("CommandBot() = %q, want flagged bot Moi", got)
	}
	if got := (&config.Config{}).CommandBot(); got != "" {
		t.Errorf("CommandBot() with no bots = %q, want empty", got)
	}
}

func TestBotNamesKeepsDeclarationOrder(t *testing.T) {
	cfg := &config.Config{Bots: []config.BotConfig{{Name: "Sup"}, {Name: "Poi"}, {Name: "Moi"}}}
	got := cfg.BotNames()
	want := []string{"Sup", "Poi", "Moi"}
	if len(got) != len(want) {
		t.Fatalf("BotNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BotNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadExpandsEnvInKeysAndURLs(t *testing.T) {
	t.Setenv("OR_KEY", "sk-or")
	t.Setenv("OR_HOST", "https://or.example.com")
	t.Setenv("LOCAL_HOST", "http://10.0.0.5:1234")

	cfg, err := config.Load(writeConfig(t, `
[llm]
provider = "openrouter"
openrouter_key = "$OR_KEY"
openrouter_url = "${OR_HOST}/api"
local_url = "$LOCAL_HOST"

[[bots]]
name = "Poi"
token = "x"
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	tests := []struct {
		field, got, want string
	}{
		{"OpenRouterKey", cfg.LLM.OpenRouterKey, "sk-or"},
		{"OpenRouterURL", cfg.LLM.OpenRouterURL, "https://or.example.com/api"},
		{"LocalURL", cfg.LLM.LocalURL, "http://10.0.0.5:1234"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.field, tt.got, tt.want)
		}
	}
}
