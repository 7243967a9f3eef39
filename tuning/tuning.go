// Package tuning holds the process-wide settings that administrators can
// change at runtime: reply chance, cooldown, typing speed, the periodic
// interval and every bot's prompt texts.
package tuning

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Settings is a snapshot of the tunable behaviour values.
type Settings struct {
	ReplyChance float64
	Cooldown    time.Duration
	TypingSpeed float64 // characters per second
	Interval    time.Duration
}

// Defaults returns the documented defaults restored by resume and reset.
func Defaults() Settings {
	return Settings{
		ReplyChance: 0.25,
		Cooldown:    60 * time.Second,
		TypingSpeed: 10,
		Interval:    time.Minute,
	}
}

// Prompts are the per-bot texts fed into prompt composition.
type Prompts struct {
	Personality    string `json:"personality"`
	Intro          string `json:"intro"`
	Periodic       string `json:"periodic"`
	SystemAddition string `json:"systemAddition"`
}

// Prompt field names accepted by SetPrompt.
const (
	FieldPersonality    = "personality"
	FieldIntro          = "intro"
	FieldPeriodic       = "periodic"
	FieldSystemAddition = "systemAddition"
)

// Control actions accepted by Control.
const (
	ActionSilence = "silence"
	ActionResume  = "resume"
	ActionReset   = "reset"
)

// SilenceCooldown is the cooldown applied by the silence action.
const SilenceCooldown = 24 * time.Hour

var ErrUnknownBot = errors.New("unknown bot")

// ValidationError reports a rejected update. No state is changed when it is
// returned.
type ValidationError struct {
	Setting string
	Value   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Setting, e.Reason)
	}
	return fmt.Sprintf("%s=%s: %s", e.Setting, e.Value, e.Reason)
}

type rule struct {
	tag    string
	reason string
	apply  func(s *Settings, v float64)
}

var rules = map[string]rule{
	"reply_chance": {
		tag:    "gte=0,lte=1",
		reason: "Reply chance must be between 0.0 and 1.0",
		apply:  func(s *Settings, v float64) { s.ReplyChance = v },
	},
	"typing_speed": {
		tag:    "gte=1,lte=1000",
		reason: "Typing speed must be between 1 and 1000 chars/sec",
		apply:  func(s *Settings, v float64) { s.TypingSpeed = v },
	},
	"cooldown": {
		tag:    "gte=0,lte=3600",
		reason: "Cooldown must be between 0 and 3600 seconds",
		apply:  func(s *Settings, v float64) { s.Cooldown = time.Duration(v * float64(time.Second)) },
	},
	"interval": {
		tag:    "gte=0.1,lte=60",
		reason: "Interval must be between 0.1 and 60 minutes",
		apply:  func(s *Settings, v float64) { s.Interval = time.Duration(v * float64(time.Minute)) },
	},
}

// SettingNames returns the names accepted by Tune, sorted.
func SettingNames() []string {
	names := make([]string, 0, len(rules))
	for n := range rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Store is the single owner of the runtime settings. All mutation goes through
// its methods, which validate before committing.
type Store struct {
	mu             sync.RWMutex
	settings       Settings
	prompts        map[string]Prompts
	initial        map[string]Prompts
	validate       *validator.Validate
	watchers       []func(Settings)
	promptWatchers []func(bot string, p Prompts)
}

// NewStore creates a store with the given starting settings and per-bot prompts.
func NewStore(initial Settings, prompts map[string]Prompts) *Store {
	s := &Store{
		settings: initial,
		prompts:  make(map[string]Prompts, len(prompts)),
		initial:  make(map[string]Prompts, len(prompts)),
		validate: validator.New(),
	}
	for bot, p := range prompts {
		s.prompts[bot] = p
		s.initial[bot] = p
	}
	return s
}

// OnChange registers fn to be called with the new settings after every
// committed Tune or Control.
func (s *Store) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// OnPromptChange registers fn to be called with a bot's new prompts after
// every committed SetPrompt or ApplyPreset, and for every bot on reset.
func (s *Store) OnPromptChange(fn func(bot string, p Prompts)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promptWatchers = append(s.promptWatchers, fn)
}

// Tune validates value against the documented range for setting and commits it.
func (s *Store) Tune(setting string, value float64) (Settings, error) {
	r, ok := rules[setting]
	if !ok {
		return s.Settings(), &ValidationError{Setting: setting, Reason: "unknown setting"}
	}
	if err := s.validate.Var(value, r.tag); err != nil {
		return s.Settings(), &ValidationError{
			Setting: setting,
			Value:   strconv.FormatFloat(value, 'f', -1, 64),
			Reason:  r.reason,
		}
	}

	s.mu.Lock()
	r.apply(&s.settings, value)
	snap := s.settings
	watchers := s.watchers
	s.mu.Unlock()

	notify(watchers, snap)
	return snap, nil
}

// Control applies an emergency action: silence mutes ambient replies, resume
// restores the default settings, reset also restores every bot's prompts to
// their startup values.
func (s *Store) Control(action string) (Settings, error) {
	s.mu.Lock()
	switch action {
	case ActionSilence:
		s.settings.ReplyChance = 0
		s.settings.Cooldown = SilenceCooldown
	case ActionResume:
		s.settings = Defaults()
	case ActionReset:
		s.settings = Defaults()
		for bot, p := range s.initial {
			s.prompts[bot] = p
		}
	default:
		snap := s.settings
		s.mu.Unlock()
		return snap, &ValidationError{Setting: "action", Value: action, Reason: "unknown action"}
	}
	snap := s.settings
	watchers := s.watchers
	var restored map[string]Prompts
	if action == ActionReset {
		restored = make(map[string]Prompts, len(s.prompts))
		for bot, p := range s.prompts {
			restored[bot] = p
		}
	}
	promptWatchers := s.promptWatchers
	s.mu.Unlock()

	notify(watchers, snap)
	for bot, p := range restored {
		notifyPrompts(promptWatchers, bot, p)
	}
	return snap, nil
}

// Prompts returns the current prompt texts for bot.
func (s *Store) Prompts(bot string) (Prompts, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prompts[bot]
	return p, ok
}

// Bots returns the names of all bots with registered prompts, sorted.
func (s *Store) Bots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.prompts))
	for n := range s.prompts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetPrompt replaces one prompt field for bot.
func (s *Store) SetPrompt(bot, field, content string) error {
	s.mu.Lock()
	p, ok := s.prompts[bot]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownBot, bot)
	}
	switch field {
	case FieldPersonality:
		p.Personality = content
	case FieldIntro:
		p.Intro = content
	case FieldPeriodic:
		p.Periodic = content
	case FieldSystemAddition:
		p.SystemAddition = content
	default:
		s.mu.Unlock()
		return &ValidationError{Setting: "type", Value: field, Reason: "unknown prompt field"}
	}
	s.prompts[bot] = p
	watchers := s.promptWatchers
	s.mu.Unlock()

	notifyPrompts(watchers, bot, p)
	return nil
}

// ApplyPreset overwrites bot's personality, intro and system addition with the
// named preset. The periodic text is left untouched.
func (s *Store) ApplyPreset(bot, name string) (Preset, error) {
	preset, ok := Presets[name]
	if !ok {
		return Preset{}, &ValidationError{Setting: "personality", Value: name, Reason: "Invalid personality preset"}
	}
	s.mu.Lock()
	p, ok := s.prompts[bot]
	if !ok {
		s.mu.Unlock()
		return Preset{}, fmt.Errorf("%w: %s", ErrUnknownBot, bot)
	}
	p.Personality = preset.Personality
	p.Intro = preset.Intro
	p.SystemAddition = preset.SystemAddition
	s.prompts[bot] = p
	watchers := s.promptWatchers
	s.mu.Unlock()

	notifyPrompts(watchers, bot, p)
	return preset, nil
}

func notify(watchers []func(Settings), snap Settings) {
	for _, fn := range watchers {
		fn(snap)
	}
}

func notifyPrompts(watchers []func(string, Prompts), bot string, p Prompts) {
	for _, fn := range watchers {
		fn(bot, p)
	}
}
