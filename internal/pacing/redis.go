package pacing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach/internal/service/sending"
)

// paceLuaScript atomically checks and books the next send slot for a key.
// It returns 0 when the slot was booked, or the milliseconds to wait.
const paceLuaScript = `
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local nextAt = tonumber(redis.call("GET", KEYS[1]) or "0")

if nextAt > now then
    return nextAt - now
end

redis.call("SET", KEYS[1], now + interval, "PX", interval)
return 0
`

// RedisPacer paces sends per mailbox across processes sharing one Redis.
type RedisPacer struct {
	client *redis.Client
	script *redis.Script
	prefix string
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ sending.Pacer = (*RedisPacer)(nil)

// NewRedisPacer creates a pacer storing slots under "pace:<key>".
func NewRedisPacer(client *redis.Client) *RedisPacer {
	return &RedisPacer{
		client: client,
		script: redis.NewScript(paceLuaScript),
		prefix: "pace:",
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Wait blocks until a send slot for key is booked.
func (p *RedisPacer) Wait(ctx context.Context, key string, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	for {
		wait, err := p.script.Run(ctx, p.client, []string{p.prefix + key},
			p.now().UnixMilli(), interval.Milliseconds()).Int64()
		if err != nil {
			return fmt.Errorf("pace %s: %w", key, err)
		}
		if wait <= 0 {
			return nil
		}
		if err := p.sleep(ctx, time.Duration(wait)*time.Millisecond); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
