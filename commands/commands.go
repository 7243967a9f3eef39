// Package commands defines the administrative slash commands and turns their
// invocations into tuning store updates.
package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tomasmach/banter/tuning"
)

const (
	colorTune    = 0x00ff00
	colorPrompt  = 0x0099ff
	colorStatus  = 0xffff00
	colorPreset  = 0xff6600
	colorControl = 0xff0000
)

func permission(p int64) *int64 { return &p }

func botChoices(bots []string) []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(bots))
	for _, name := range bots {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}
	return choices
}

// Definitions returns the command set registered with Discord. bots fills the
// choices of every bot option.
func Definitions(bots []string) []*discordgo.ApplicationCommand {
	manageChannels := permission(discordgo.PermissionManageChannels)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "tune",
			Description:              "🎛️ Tune bot behavior settings",
			DefaultMemberPermissions: manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "setting",
					Description: "Which setting to modify",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Reply Chance (0.0-1.0)", Value: "reply_chance"},
						{Name: "Typing Speed (chars/sec)", Value: "typing_speed"},
						{Name: "Cooldown (seconds)", Value: "cooldown"},
						{Name: "Interval (minutes)", Value: "interval"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "value",
					Description: "New value for the setting",
					Required:    true,
				},
			},
		},
		{
			Name:                     "prompt",
			Description:              "✏️ Update bot prompts and personality",
			DefaultMemberPermissions: manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "bot",
					Description: "Which bot to modify",
					Required:    true,
					Choices:     botChoices(bots),
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Type of prompt to update",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Personality Core", Value: tuning.FieldPersonality},
						{Name: "Introduction Message", Value: tuning.FieldIntro},
						{Name: "Periodic Message Style", Value: tuning.FieldPeriodic},
						{Name: "System Addition", Value: tuning.FieldSystemAddition},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "content",
					Description: "New prompt content",
					Required:    true,
				},
			},
		},
		{
			Name:        "botstatus",
			Description: "📊 View current bot configuration",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "bot",
					Description: "Specific bot to view (optional)",
					Choices:     botChoices(bots),
				},
			},
		},
		{
			Name:                     "preset",
			Description:              "🎭 Apply personality presets",
			DefaultMemberPermissions: manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "bot",
					Description: "Which bot to modify",
					Required:    true,
					Choices:     botChoices(bots),
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "personality",
					Description: "Personality preset to apply",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Professional Assistant", Value: "professional"},
						{Name: "Casual Friend", Value: "casual"},
						{Name: "Wise Mentor", Value: "mentor"},
						{Name: "Enthusiastic Helper", Value: "enthusiastic"},
						{Name: "Analytical Thinker", Value: "analytical"},
						{Name: "Creative Companion", Value: "creative"},
					},
				},
			},
		},
		{
			Name:                     "botcontrol",
			Description:              "🚨 Emergency bot controls",
			DefaultMemberPermissions: permission(discordgo.PermissionAdministrator),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "Control action",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Silence All (emergency)", Value: tuning.ActionSilence},
						{Name: "Resume Normal Operation", Value: tuning.ActionResume},
						{Name: "Reset to Defaults", Value: tuning.ActionReset},
					},
				},
			},
		},
	}
}

// Handler executes commands against a tuning store.
type Handler struct {
	store *tuning.Store
	now   func() time.Time
}

func NewHandler(store *tuning.Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// Handle runs the command described by data and returns the ephemeral
// response to send back. Rejected commands leave the store unchanged.
func (h *Handler) Handle(data discordgo.ApplicationCommandInteractionData) *discordgo.InteractionResponseData {
	opts := options(data.Options)
	switch data.Name {
	case "tune":
		return h.tune(opts)
	case "prompt":
		return h.prompt(opts)
	case "botstatus":
		return h.status(opts)
	case "preset":
		return h.preset(opts)
	case "botcontrol":
		return h.control(opts)
	default:
		return failure(fmt.Sprintf("Unknown command %q", data.Name))
	}
}

type optionSet map[string]any

func options(opts []*discordgo.ApplicationCommandInteractionDataOption) optionSet {
	set := make(optionSet, len(opts))
	for _, o := range opts {
		set[o.Name] = o.Value
	}
	return set
}

func (o optionSet) string(name string) string {
	switch v := o[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (o optionSet) number(name string) (float64, bool) {
	switch v := o[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (h *Handler) tune(opts optionSet) *discordgo.InteractionResponseData {
	setting := opts.string("setting")
	value, ok := opts.number("value")
	if !ok {
		return failure("A numeric value is required")
	}
	if _, err := h.store.Tune(setting, value); err != nil {
		return errorResponse(err, "")
	}
	return h.embed(&discordgo.MessageEmbed{
		Title: "⚙️ Setting Updated",
		Color: colorTune,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Setting", Value: strings.ToUpper(strings.Replace(setting, "_", " ", 1)), Inline: true},
			{Name: "New Value", Value: formatFloat(value), Inline: true},
		},
	})
}

func (h *Handler) prompt(opts optionSet) *discordgo.InteractionResponseData {
	bot, field, content := opts.string("bot"), opts.string("type"), opts.string("content")
	if err := h.store.SetPrompt(bot, field, content); err != nil {
		return errorResponse(err, bot)
	}
	return h.embed(&discordgo.MessageEmbed{
		Title: "✏️ Prompt Updated",
		Color: colorPrompt,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Bot", Value: bot, Inline: true},
			{Name: "Type", Value: field, Inline: true},
			{Name: "New Content", Value: truncate(content, 100)},
		},
	})
}

func (h *Handler) status(opts optionSet) *discordgo.InteractionResponseData {
	s := h.store.Settings()
	embed := &discordgo.MessageEmbed{
		Title: "📊 Bot Configuration Status",
		Color: colorStatus,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Reply Chance", Value: fmt.Sprintf("%.1f%%", s.ReplyChance*100), Inline: true},
			{Name: "Typing Speed", Value: formatFloat(s.TypingSpeed) + " chars/sec", Inline: true},
			{Name: "Cooldown", Value: formatFloat(s.Cooldown.Seconds()) + "s", Inline: true},
			{Name: "Interval", Value: formatFloat(s.Interval.Minutes()) + " min", Inline: true},
		},
	}
	if bot := opts.string("bot"); bot != "" {
		if p, ok := h.store.Prompts(bot); ok {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  bot + " Personality",
				Value: truncate(p.Personality, 200),
			})
		}
	}
	return h.embed(embed)
}

func (h *Handler) preset(opts optionSet) *discordgo.InteractionResponseData {
	bot, name := opts.string("bot"), opts.string("personality")
	preset, err := h.store.ApplyPreset(bot, name)
	if err != nil {
		return errorResponse(err, bot)
	}
	return h.embed(&discordgo.MessageEmbed{
		Title: "🎭 Personality Preset Applied",
		Color: colorPreset,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Bot", Value: bot, Inline: true},
			{Name: "Preset", Value: name, Inline: true},
			{Name: "New Personality", Value: truncate(preset.Personality, 200)},
		},
	})
}

var controlTitles = map[string]string{
	tuning.ActionSilence: "🔇 All Bots Silenced",
	tuning.ActionResume:  "▶️ Normal Operation Resumed",
	tuning.ActionReset:   "🔄 Reset to Defaults",
}

func (h *Handler) control(opts optionSet) *discordgo.InteractionResponseData {
	action := opts.string("action")
	s, err := h.store.Control(action)
	if err != nil {
		return errorResponse(err, "")
	}
	return h.embed(&discordgo.MessageEmbed{
		Title: controlTitles[action],
		Color: colorControl,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Reply Chance", Value: fmt.Sprintf("%.1f%%", s.ReplyChance*100), Inline: true},
			{Name: "Cooldown", Value: formatFloat(s.Cooldown.Seconds()) + "s", Inline: true},
		},
	})
}

func (h *Handler) embed(e *discordgo.MessageEmbed) *discordgo.InteractionResponseData {
	e.Timestamp = h.now().Format(time.RFC3339)
	return &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{e},
		Flags:  discordgo.MessageFlagsEphemeral,
	}
}

func failure(msg string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Content: "❌ " + msg,
		Flags:   discordgo.MessageFlagsEphemeral,
	}
}

// errorResponse maps a store error to a user-facing message. bot names the
// target of prompt and preset commands.
func errorResponse(err error, bot string) *discordgo.InteractionResponseData {
	var vErr *tuning.ValidationError
	switch {
	case errors.As(err, &vErr):
		return failure(vErr.Reason)
	case errors.Is(err, tuning.ErrUnknownBot):
		return failure(fmt.Sprintf("Bot %q not found", bot))
	default:
		return failure(err.Error())
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
