package agent

import (
	"strings"
	"time"
)

// Decision is the outcome of the reply policy for one inbound message.
type Decision int

const (
	Ignore Decision = iota
	ReplyDirect
	ReplyMention
	ReplyAmbient
)

func (d Decision) String() string {
	switch d {
	case ReplyDirect:
		return "direct"
	case ReplyMention:
		return "mention"
	case ReplyAmbient:
		return "ambient"
	default:
		return "ignore"
	}
}

// Accepted reports whether the decision calls for a reply.
func (d Decision) Accepted() bool { return d != Ignore }

// Addressed reports whether a person asked the bot for this reply, as opposed
// to the bot chiming in by chance. Addressed replies get an apology when the
// backend fails.
func (d Decision) Addressed() bool { return d == ReplyDirect || d == ReplyMention }

// DecisionInput carries everything Decide looks at. HasLastAuthor is false
// when the channel history is empty.
type DecisionInput struct {
	IsDirectMessage bool
	IsMention       bool
	IsSelfAuthored  bool
	Now             time.Time
	LastReply       time.Time
	LastAuthor      string
	HasLastAuthor   bool
	SelfName        string
	ReplyChance     float64
	Cooldown        time.Duration
	Draw            float64 // uniform in [0, 1)
}

// Decide applies the reply rules in precedence order: own messages are never
// answered, direct messages always are, mentions are answered unless the bot
// spoke last, and everything else needs a winning draw, an elapsed cooldown
// and someone other than the bot speaking last.
func Decide(in DecisionInput) Decision {
	if in.IsSelfAuthored {
		return Ignore
	}
	if in.IsDirectMessage {
		return ReplyDirect
	}
	selfSpokeLast := in.HasLastAuthor && in.LastAuthor == in.SelfName
	if in.IsMention {
		if selfSpokeLast {
			return Ignore
		}
		return ReplyMention
	}
	if selfSpokeLast || in.Draw >= in.ReplyChance {
		return Ignore
	}
	if in.Cooldown > 0 && in.Now.Sub(in.LastReply) <= in.Cooldown {
		return Ignore
	}
	return ReplyAmbient
}

// NoAction is the reply the model gives when it has nothing to add.
const NoAction = "NO_ACTION"

// IsNoAction reports whether a generated reply means "stay silent": empty
// text or the NO_ACTION sentinel, ignoring case, surrounding whitespace,
// quotes and a trailing period.
func IsNoAction(reply string) bool {
	s := strings.TrimSpace(reply)
	s = strings.Trim(s, "\"'`*.")
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, NoAction)
}
