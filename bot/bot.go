// Package bot provides the Discord gateway wrapper for one bot persona and
// turns gateway events into agent and command calls.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/tomasmach/banter/agent"
	"github.com/tomasmach/banter/commands"
)

// Bot wraps the Discord session of a single persona.
type Bot struct {
	name    string
	session *discordgo.Session
	logger  *slog.Logger

	runner       *agent.Runner
	commands     *commands.Handler
	definitions  []*discordgo.ApplicationCommand
	channel      string
	introOnStart bool

	ctx       context.Context
	introOnce sync.Once
}

// Options configure a Bot. Commands is set only on the bot that registers
// the slash commands.
type Options struct {
	Name         string
	Token        string
	Channel      string
	IntroOnStart bool
	Commands     *commands.Handler
	Definitions  []*discordgo.ApplicationCommand
}

// New creates a new Bot, configures intents, and registers event handlers.
// The runner must be set via SetRunner before the bot starts.
func New(opts Options) (*Bot, error) {
	session, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", opts.Name, err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := &Bot{
		name:         opts.Name,
		session:      session,
		logger:       slog.With("bot", opts.Name),
		commands:     opts.Commands,
		definitions:  opts.Definitions,
		channel:      opts.Channel,
		introOnStart: opts.IntroOnStart,
		ctx:          context.Background(),
	}
	session.AddHandler(b.onReady)
	session.AddHandler(b.onGuildCreate)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onInteractionCreate)

	return b, nil
}

// SetRunner wires the agent runner that handles this bot's messages.
func (b *Bot) SetRunner(r *agent.Runner) {
	b.runner = r
}

// Start opens the Discord gateway connection. ctx bounds every reply the bot
// generates.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway for %s: %w", b.name, err)
	}
	return nil
}

// Stop closes the Discord gateway connection.
func (b *Bot) Stop() error {
	return b.session.Close()
}

// Send posts content to channelID.
func (b *Bot) Send(ctx context.Context, channelID, content string) error {
	_, err := b.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return err
}

// Typing shows the typing indicator in channelID.
func (b *Bot) Typing(ctx context.Context, channelID string) error {
	return b.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("connected to discord", "user", r.User.Username, "guilds", len(r.Guilds))
	if len(b.definitions) == 0 {
		return
	}
	registered, err := s.ApplicationCommandBulkOverwrite(r.User.ID, "", b.definitions)
	if err != nil {
		b.logger.Error("failed to register slash commands", "error", err)
		return
	}
	b.logger.Info("slash commands registered", "count", len(registered))
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if b.runner == nil || b.channel == "" || b.runner.TargetChannel() != "" {
		return
	}
	channelID := findChannel(g.Guild, b.channel)
	if channelID == "" {
		b.logger.Debug("target channel not in guild", "guild_id", g.ID, "channel", b.channel)
		return
	}
	b.runner.SetTargetChannel(channelID)
	b.logger.Info("target channel found", "guild_id", g.ID, "channel_id", channelID)

	if b.introOnStart {
		b.introOnce.Do(func() { go b.runner.Intro(b.ctx) })
	}
}

// onMessageCreate handles incoming Discord messages. Other bots are not
// filtered out so personas can talk to each other.
func (b *Bot) onMessageCreate(s *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || s.State.User == nil {
		return
	}
	if b.runner == nil {
		b.logger.Warn("message received but runner not set, dropping", "channel_id", msg.ChannelID)
		return
	}
	b.runner.HandleMessage(b.ctx, eventFromMessage(msg.Message, s.State.User.ID))
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if b.commands == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	b.logger.Info("slash command", "command", data.Name, "user", interactionUser(i))
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: b.commands.Handle(data),
	})
	if err != nil {
		b.logger.Error("failed to respond to interaction", "command", data.Name, "error", err)
	}
}

func interactionUser(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.Username
	case i.User != nil:
		return i.User.Username
	default:
		return ""
	}
}

// eventFromMessage converts a gateway message into the runner's view of it.
func eventFromMessage(m *discordgo.Message, selfID string) agent.MessageEvent {
	ev := agent.MessageEvent{
		ChannelID:      m.ChannelID,
		AuthorID:       m.Author.ID,
		AuthorName:     displayName(m.Author),
		Content:        resolveMentions(m.Content, m.Mentions),
		IsDirect:       m.GuildID == "",
		IsSelfAuthored: m.Author.ID == selfID,
	}
	for _, u := range m.Mentions {
		if u.ID == selfID {
			ev.IsMention = true
			break
		}
	}
	ev.PromptText = strings.TrimSpace(resolveMentions(stripMention(m.Content, selfID), m.Mentions))
	return ev
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// resolveMentions replaces raw Discord mention syntax (<@ID> and <@!ID>) with
// readable display names using the resolved User objects Discord provides.
func resolveMentions(content string, mentions []*discordgo.User) string {
	for _, u := range mentions {
		name := displayName(u)
		content = strings.ReplaceAll(content, "<@"+u.ID+">", "@"+name)
		content = strings.ReplaceAll(content, "<@!"+u.ID+">", "@"+name)
	}
	return content
}

func stripMention(content, userID string) string {
	content = strings.ReplaceAll(content, "<@"+userID+">", "")
	return strings.ReplaceAll(content, "<@!"+userID+">", "")
}

// findChannel returns the ID of the text channel called name, or "".
func findChannel(g *discordgo.Guild, name string) string {
	for _, ch := range g.Channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
			return ch.ID
		}
	}
	return ""
}
