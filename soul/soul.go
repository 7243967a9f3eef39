// Package soul resolves the personality and prompt texts for each bot.
package soul

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tomasmach/banter/config"
	"github.com/tomasmach/banter/tuning"
)

const fallbackPersonality = "Be a helpful AI assistant."

var builtin = map[string]tuning.Prompts{
	"Poi": {
		Personality:    "I want you to be an intelligent and also exacting and precise friend that wants to act quickly and efficiently.",
		Intro:          "Hello everyone! I'm Poi, an AI assistant focused on being precise, efficient, and helpful.",
		Periodic:       "Based on our conversation, let me add something useful and precise.",
		SystemAddition: "Keep responses concise and actionable. Focus on efficiency.",
	},
	"Moi": {
		Personality:    "I want you to be a wise and thoughtful friend that takes time to consider your responses.",
		Intro:          "Hello everyone! I'm Moi - delighted to be here. I aim to be thoughtful and supportive.",
		Periodic:       "Let me reflect on our conversation and share something meaningful.",
		SystemAddition: "Take time to consider responses. Focus on wisdom and understanding.",
	},
}

// Load returns the startup prompts for a bot.
// Resolution order for each field:
// 1. Bot config (soul_file for the personality, intro/periodic/system_addition)
// 2. Built-in prompts for known bot names
// 3. Generic fallback
func Load(bot *config.BotConfig) tuning.Prompts {
	p, ok := builtin[bot.Name]
	if !ok {
		p = tuning.Prompts{
			Personality: fallbackPersonality,
			Intro:       "Hello everyone! I'm " + bot.Name + ".",
			Periodic:    "Based on our conversation, add something worth saying.",
		}
	}

	if bot.SoulFile != "" {
		if content := readFile(bot.SoulFile); content != "" {
			p.Personality = content
		}
	}
	if bot.Intro != "" {
		p.Intro = bot.Intro
	}
	if bot.Periodic != "" {
		p.Periodic = bot.Periodic
	}
	if bot.SystemAddition != "" {
		p.SystemAddition = bot.SystemAddition
	}
	return p
}

// LoadAll resolves prompts for every configured bot, keyed by bot name.
func LoadAll(cfg *config.Config) map[string]tuning.Prompts {
	out := make(map[string]tuning.Prompts, len(cfg.Bots))
	for i := range cfg.Bots {
		out[cfg.Bots[i].Name] = Load(&cfg.Bots[i])
	}
	return out
}

func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}

// readFile expands env vars and ~, then reads the file.
// Returns empty string on any error.
func readFile(path string) string {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
