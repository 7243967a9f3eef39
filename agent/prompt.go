package agent

import (
	"fmt"
	"strings"

	"github.com/tomasmach/banter/history"
	"github.com/tomasmach/banter/llm"
)

// Situational additions appended to the system prompt.
const (
	SituationDirect   = "This is a direct message. You are talking one-on-one with the user."
	SituationMention  = "Someone in the channel mentioned you directly. Answer them."
	SituationAmbient  = "Nobody asked you anything; only speak up if you have something worth adding. If you have nothing to add, reply with exactly NO_ACTION."
	SituationPeriodic = "This is a periodic message. You are speaking up on your own to keep the conversation going."
	SituationIntro    = "This is your introduction. You are greeting the channel for the first time."
)

// PromptInput is everything needed to build one completion request.
type PromptInput struct {
	BotName         string
	BaseInstruction string
	Personality     string
	SystemAddition  string
	Roster          []string // every co-located bot, may include BotName
	Owner           string
	Situation       string
	History         []history.Entry // oldest first
	Prompt          string
}

// Compose builds the message list: a single system message, one user message
// per history entry formatted as "author: content", and the immediate prompt
// as the final user message.
func Compose(in PromptInput) []llm.Message {
	msgs := make([]llm.Message, 0, len(in.History)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt(in)})
	for _, e := range in.History {
		msgs = append(msgs, llm.Message{Role: "user", Content: e.Author + ": " + e.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: in.Prompt})
	return msgs
}

func systemPrompt(in PromptInput) string {
	var sections []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	add(fmt.Sprintf("Your name is %s.", in.BotName))
	add(in.BaseInstruction)
	add(in.Personality)
	add(in.SystemAddition)

	var others []string
	for _, name := range in.Roster {
		if name != in.BotName {
			others = append(others, name)
		}
	}
	var roster strings.Builder
	if len(others) > 0 {
		fmt.Fprintf(&roster, "Other bots in this channel: %s. Treat them as fellow participants.", strings.Join(others, ", "))
	}
	if in.Owner != "" {
		if roster.Len() > 0 {
			roster.WriteString(" ")
		}
		fmt.Fprintf(&roster, "%s leads this group; defer to %s when there is disagreement.", in.Owner, in.Owner)
	}
	add(roster.String())
	add(in.Situation)

	return strings.Join(sections, "\n\n")
}

// ambientPrompt asks for a reply to the latest message of author.
func ambientPrompt(author string) string {
	return fmt.Sprintf("Send a message to @%s responding to their last message using the history as context of the conversation.", author)
}

func periodicPrompt(periodic string) string {
	return "Write a new message for the channel using the history as context. " + periodic
}

func introPrompt(intro string) string {
	return "Introduce yourself to the channel in your own words, along these lines: " + intro
}
