// Package agent decides when a bot replies and runs each reply from prompt to
// delivery.
package agent

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomasmach/banter/history"
	"github.com/tomasmach/banter/llm"
	"github.com/tomasmach/banter/tuning"
)

// Apology is sent in place of a reply when a person addressed the bot and the
// completion backend failed.
const Apology = "Sorry, I could not get a response from the LLM service."

const (
	pingCommand  = "!ping"
	pingReply    = "Pong!"
	emptyMention = "Hello!"
)

// Identity describes one bot persona.
type Identity struct {
	Name       string
	Model      string
	Channel    string // target channel name for intro and periodic posts
	AnswerPing bool   // only one co-located bot answers !ping
}

// Shared is the prompt context common to all bots.
type Shared struct {
	Owner      string
	BasePrompt string
	Roster     []string
}

// MessageEvent is one inbound chat message as seen by a bot.
type MessageEvent struct {
	ChannelID      string
	AuthorID       string
	AuthorName     string
	Content        string // mentions resolved to readable names
	PromptText     string // Content with the bot's own mention removed
	IsDirect       bool
	IsMention      bool
	IsSelfAuthored bool
}

// Completer produces a reply for a message list.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, model string) (string, error)
}

// Deliverer posts reply text to a channel.
type Deliverer interface {
	Deliver(ctx context.Context, channelID, mentionPrefix, text string) error
}

// Deps are the collaborators of a Runner. Tuning is shared by every bot in
// the process. History belongs to one runner: each bot session receives every
// channel message, so a shared store would record each message once per bot.
// A nil History gives the runner a store of its own.
type Deps struct {
	History *history.Store
	Tuning  *tuning.Store
	LLM     Completer
	Out     Deliverer
}

// Status is a snapshot of one runner.
type Status struct {
	Bot           string         `json:"bot"`
	Model         string         `json:"model"`
	TargetChannel string         `json:"target_channel,omitempty"`
	LastReply     time.Time      `json:"last_reply"`
	InFlight      []string       `json:"in_flight"`
	History       map[string]int `json:"history"` // entries per channel ID
}

// Runner handles the messages and scheduled posts of a single bot.
type Runner struct {
	id      Identity
	shared  Shared
	history *history.Store
	tuning  *tuning.Store
	llm     Completer
	out     Deliverer
	logger  *slog.Logger

	now  func() time.Time
	draw func() float64

	mu        sync.Mutex
	lastReply time.Time
	inFlight  map[string]int // running generations per channel ID
	target    string         // channel ID resolved from id.Channel
	wg        sync.WaitGroup
}

func New(id Identity, shared Shared, deps Deps) *Runner {
	if deps.History == nil {
		deps.History = history.NewStore()
	}
	return &Runner{
		id:       id,
		shared:   shared,
		history:  deps.History,
		tuning:   deps.Tuning,
		llm:      deps.LLM,
		out:      deps.Out,
		logger:   slog.With("bot", id.Name),
		now:      time.Now,
		draw:     rand.Float64,
		inFlight: make(map[string]int),
	}
}

func (r *Runner) Name() string { return r.id.Name }

// SetTargetChannel records the channel used for intro and periodic posts.
func (r *Runner) SetTargetChannel(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = channelID
}

func (r *Runner) TargetChannel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// HandleMessage records an inbound message and replies to it when the policy
// says so. It blocks until the reply has been delivered or abandoned.
func (r *Runner) HandleMessage(ctx context.Context, ev MessageEvent) {
	logger := r.logger.With("channel_id", ev.ChannelID)

	author := ev.AuthorName
	if ev.IsSelfAuthored {
		author = r.id.Name
	}
	r.history.Append(ev.ChannelID, author, ev.Content)

	if !ev.IsSelfAuthored && strings.TrimSpace(ev.Content) == pingCommand {
		if !r.id.AnswerPing {
			return
		}
		if err := r.out.Deliver(ctx, ev.ChannelID, "", pingReply); err != nil {
			logger.Error("send ping reply", "error", err)
		}
		return
	}

	hist := r.history.Get(ev.ChannelID)
	settings := r.tuning.Settings()

	r.mu.Lock()
	in := DecisionInput{
		IsDirectMessage: ev.IsDirect,
		IsMention:       ev.IsMention,
		IsSelfAuthored:  ev.IsSelfAuthored,
		Now:             r.now(),
		LastReply:       r.lastReply,
		SelfName:        r.id.Name,
		ReplyChance:     settings.ReplyChance,
		Cooldown:        settings.Cooldown,
		Draw:            r.draw(),
	}
	if n := len(hist); n > 0 {
		in.LastAuthor, in.HasLastAuthor = hist[n-1].Author, true
	}
	decision := Decide(in)
	if decision == ReplyAmbient && r.inFlight[ev.ChannelID] > 0 {
		logger.Debug("skipping ambient reply, generation already running")
		decision = Ignore
	}
	if decision.Accepted() {
		if decision != ReplyDirect {
			r.lastReply = in.Now
		}
		r.inFlight[ev.ChannelID]++
		r.wg.Add(1)
	}
	r.mu.Unlock()

	if !decision.Accepted() {
		return
	}
	defer r.release(ev.ChannelID)

	logger.Debug("replying", "decision", decision, "author", ev.AuthorName)

	req := reply{channelID: ev.ChannelID, decision: decision, history: hist}
	switch decision {
	case ReplyDirect:
		req.situation = SituationDirect
		req.prompt = ev.Content
		req.history = withoutTrigger(hist, author, ev.Content)
	case ReplyMention:
		req.situation = SituationMention
		req.prompt = strings.TrimSpace(ev.PromptText)
		if req.prompt == "" {
			req.prompt = emptyMention
		}
		req.history = withoutTrigger(hist, author, ev.Content)
		req.mentionPrefix = "<@" + ev.AuthorID + ">"
	case ReplyAmbient:
		req.situation = SituationAmbient
		req.prompt = ambientPrompt(ev.AuthorName)
		req.mentionPrefix = "<@" + ev.AuthorID + ">"
	}
	r.generate(ctx, logger, req)
}

// Periodic posts an unprompted message to the target channel. It does nothing
// while replies are silenced, before the target channel is known, or while
// another generation is running there.
func (r *Runner) Periodic(ctx context.Context) {
	prompts, _ := r.tuning.Prompts(r.id.Name)
	if r.tuning.Settings().ReplyChance == 0 {
		r.logger.Debug("periodic post skipped, replies silenced")
		return
	}
	r.post(ctx, SituationPeriodic, periodicPrompt(prompts.Periodic))
}

// Intro posts the bot's introduction to the target channel.
func (r *Runner) Intro(ctx context.Context) {
	prompts, _ := r.tuning.Prompts(r.id.Name)
	r.post(ctx, SituationIntro, introPrompt(prompts.Intro))
}

func (r *Runner) post(ctx context.Context, situation, prompt string) {
	r.mu.Lock()
	channelID := r.target
	if channelID == "" || r.inFlight[channelID] > 0 {
		r.mu.Unlock()
		r.logger.Debug("scheduled post skipped", "target", channelID)
		return
	}
	r.inFlight[channelID]++
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.release(channelID)

	r.generate(ctx, r.logger.With("channel_id", channelID), reply{
		channelID: channelID,
		situation: situation,
		prompt:    prompt,
		history:   r.history.Get(channelID),
	})
}

func (r *Runner) release(channelID string) {
	r.mu.Lock()
	if r.inFlight[channelID]--; r.inFlight[channelID] <= 0 {
		delete(r.inFlight, channelID)
	}
	r.mu.Unlock()
	r.wg.Done()
}

type reply struct {
	channelID     string
	decision      Decision
	situation     string
	prompt        string
	history       []history.Entry
	mentionPrefix string
}

func (r *Runner) generate(ctx context.Context, logger *slog.Logger, req reply) {
	prompts, _ := r.tuning.Prompts(r.id.Name)
	msgs := Compose(PromptInput{
		BotName:         r.id.Name,
		BaseInstruction: r.shared.BasePrompt,
		Personality:     prompts.Personality,
		SystemAddition:  prompts.SystemAddition,
		Roster:          r.shared.Roster,
		Owner:           r.shared.Owner,
		Situation:       req.situation,
		History:         req.history,
		Prompt:          req.prompt,
	})

	text, err := r.llm.Complete(ctx, msgs, r.id.Model)
	if err != nil {
		logger.Error("llm completion failed", "error", err, "decision", req.decision)
		if req.decision.Addressed() {
			if err := r.out.Deliver(ctx, req.channelID, req.mentionPrefix, Apology); err != nil {
				logger.Error("send apology", "error", err)
			}
		}
		return
	}
	if IsNoAction(text) {
		logger.Debug("model chose not to reply", "decision", req.decision)
		return
	}
	if err := r.out.Deliver(ctx, req.channelID, req.mentionPrefix, text); err != nil {
		logger.Error("deliver reply", "error", err)
		return
	}
	logger.Info("replied", "decision", req.decision, "chars", len(text))
}

// withoutTrigger drops the triggering message from the end of hist, since it
// is sent separately as the prompt.
func withoutTrigger(hist []history.Entry, author, content string) []history.Entry {
	if n := len(hist); n > 0 && hist[n-1].Author == author && hist[n-1].Content == content {
		return hist[:n-1]
	}
	return hist
}

// Status returns a snapshot of the runner.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels := make([]string, 0, len(r.inFlight))
	for ch := range r.inFlight {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return Status{
		Bot:           r.id.Name,
		Model:         r.id.Model,
		TargetChannel: r.target,
		LastReply:     r.lastReply,
		InFlight:      channels,
		History:       r.history.Sizes(),
	}
}
