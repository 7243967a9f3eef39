// Package delivery paces outbound replies so they read like a person typing
// and keeps every message within Discord's length limit.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// MaxMessageLength is Discord's message limit in UTF-16 code units.
const MaxMessageLength = 2000

// MinDelay is the shortest pause before any chunk is sent.
const MinDelay = 500 * time.Millisecond

// typingRefresh is how often the typing indicator is renewed while waiting;
// Discord clears it after about ten seconds.
const typingRefresh = 8 * time.Second

// Sender is the outbound side of the chat platform.
type Sender interface {
	Send(ctx context.Context, channelID, content string) error
	Typing(ctx context.Context, channelID string) error
}

type Throttler struct {
	sender Sender
	speed  func() float64 // characters per second, read once per chunk
	wait   func(ctx context.Context, channelID string, d time.Duration) error
	logger *slog.Logger
}

// New returns a Throttler that sends through sender. speed is consulted for
// every chunk so runtime tuning takes effect on the next message.
func New(sender Sender, speed func() float64, logger *slog.Logger) *Throttler {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Throttler{sender: sender, speed: speed, logger: logger}
	t.wait = t.typeFor
	return t
}

// Delay returns how long a chunk takes to "type": its length divided by
// charsPerSec, but never less than MinDelay.
func Delay(chunk string, charsPerSec float64) time.Duration {
	if charsPerSec <= 0 {
		return MinDelay
	}
	d := time.Duration(float64(Units(chunk)) / charsPerSec * float64(time.Second))
	return max(MinDelay, d)
}

// Deliver sends text to channelID in order, one chunk at a time. A non-empty
// mentionPrefix is put in front of every chunk, separated by a space, and the
// chunk size shrinks so the whole message stays within MaxMessageLength.
// Chunks already sent stay sent when a later one fails.
func (t *Throttler) Deliver(ctx context.Context, channelID, mentionPrefix, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	limit := MaxMessageLength
	if mentionPrefix != "" {
		limit -= Units(mentionPrefix) + 1
	}

	chunks := SplitMessage(text, limit)
	for i, chunk := range chunks {
		if err := t.sender.Typing(ctx, channelID); err != nil {
			t.logger.Debug("typing indicator failed", "error", err, "channel_id", channelID)
		}
		if err := t.wait(ctx, channelID, Delay(chunk, t.speed())); err != nil {
			return err
		}
		content := chunk
		if mentionPrefix != "" {
			content = mentionPrefix + " " + chunk
		}
		if err := t.sender.Send(ctx, channelID, content); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// typeFor blocks for d, renewing the typing indicator until it elapses.
func (t *Throttler) typeFor(ctx context.Context, channelID string, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(typingRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case <-ticker.C:
			if err := t.sender.Typing(ctx, channelID); err != nil {
				t.logger.Debug("typing refresh failed", "error", err, "channel_id", channelID)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
