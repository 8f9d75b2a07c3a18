// Package pacing enforces a minimum gap between sends from the same
// mailbox, whichever dispatch pass or process the sends come from.
package pacing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ignite/outreach/internal/service/sending"
)

// Limiter paces sends per mailbox within one process.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ sending.Pacer = (*Limiter)(nil)

// NewLimiter creates an in-process pacer.
func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until key may send again. The first send on a key is never
// delayed; later sends are spaced at least interval apart.
func (l *Limiter) Wait(ctx context.Context, key string, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	return l.limiter(key, interval).Wait(ctx)
}

func (l *Limiter) limiter(key string, interval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit := rate.Every(interval)
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(limit, 1)
		l.limiters[key] = lim
		return lim
	}
	if lim.Limit() != limit {
		lim.SetLimit(limit)
	}
	return lim
}
