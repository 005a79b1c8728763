package obs

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimitedLogger lets at most one event through per interval. Events
// suppressed in between are counted and reported on the next one.
type RateLimitedLogger struct {
	log      zerolog.Logger
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
	dropped  int
	now      func() time.Time
}

func NewRateLimitedLogger(log zerolog.Logger, interval time.Duration) *RateLimitedLogger {
	return &RateLimitedLogger{log: log, interval: interval, now: time.Now}
}

// Warn returns a warn-level event, or nil when the event is suppressed.
// zerolog treats nil events as no-ops, so callers can chain unconditionally.
func (l *RateLimitedLogger) Warn() *zerolog.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.dropped++
		return nil
	}
	l.lastAt = now
	evt := l.log.Warn()
	if l.dropped > 0 {
		evt = evt.Int("suppressed", l.dropped)
		l.dropped = 0
	}
	return evt
}
