package delivery

import (
	"context"
	"time"
)

// SetWait replaces the typing wait of t for tests.
func SetWait(t *Throttler, fn func(ctx context.Context, channelID string, d time.Duration) error) {
	t.wait = fn
}
