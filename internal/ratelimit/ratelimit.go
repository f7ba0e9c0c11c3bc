// Package ratelimit implements the send-rate gate:
// a per-recipient cap over fixed 7-day windows aligned to the Unix epoch,
// a global cap per UTC calendar day, and an optional warmup ramp, using an
// atomic check-then-increment Lua script against per-recipient/global
// send-count buckets. The windows are fixed buckets, not rolling windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limits bounds the send-rate gate. Zero values fall back to the
// defaults (2 per recipient per 7 days, 20 globally per day).
type Limits struct {
	PerRecipientPerWeek int
	GlobalPerDay        int
	// Warmup ramps the global daily cap from Warmup.StartCap to
	// Warmup.TargetCap linearly over Warmup.Days, starting at
	// Warmup.StartedAt; while it yields a positive cap, that cap replaces
	// GlobalPerDay. Nil disables warmup.
	Warmup *WarmupSchedule
}

// WarmupSchedule ramps the daily cap from N to N·k over W days for a
// sending identity still building reputation.
type WarmupSchedule struct {
	StartedAt  time.Time
	Days       int
	StartCap   int
	TargetCap  int
}

// currentCap returns the ramped daily cap in effect at now.
func (w *WarmupSchedule) currentCap(now time.Time) int {
	if w == nil {
		return 0
	}
	elapsed := now.Sub(w.StartedAt)
	if elapsed <= 0 {
		return w.StartCap
	}
	daysElapsed := elapsed.Hours() / 24
	if daysElapsed >= float64(w.Days) {
		return w.TargetCap
	}
	span := w.TargetCap - w.StartCap
	return w.StartCap + int(float64(span)*daysElapsed/float64(w.Days))
}

const defaultPerRecipientPerWeek = 2
const defaultGlobalPerDay = 20

// checkAndIncrementScript atomically verifies both the recipient-window
// and global-window counters are under their caps, incrementing only if
// both pass (a two-phase check-then-incr Lua script).
const checkAndIncrementScript = `
local recipientKey = KEYS[1]
local globalKey = KEYS[2]
local recipientLimit = tonumber(ARGV[1])
local globalLimit = tonumber(ARGV[2])
local recipientTTL = tonumber(ARGV[3])
local globalTTL = tonumber(ARGV[4])

local recipientCurrent = tonumber(redis.call("GET", recipientKey) or "0")
local globalCurrent = tonumber(redis.call("GET", globalKey) or "0")

if recipientCurrent + 1 > recipientLimit then
    return {0, 1, recipientCurrent}
end
if globalCurrent + 1 > globalLimit then
    return {0, 2, globalCurrent}
end

local newRecipient = redis.call("INCR", recipientKey)
if newRecipient == 1 then
    redis.call("EXPIRE", recipientKey, recipientTTL)
end
local newGlobal = redis.call("INCR", globalKey)
if newGlobal == 1 then
    redis.call("EXPIRE", globalKey, globalTTL)
end

return {1, 0, newGlobal}
`

// DenialReason identifies which window blocked a send.
type DenialReason string

const (
	DeniedNone      DenialReason = ""
	DeniedRecipient DenialReason = "recipient_window"
	DeniedGlobal    DenialReason = "global_window"
)

// Decision is the result of a Check call.
type Decision struct {
	Allowed    bool
	Reason     DenialReason
	RetryAfter time.Duration
}

// Limiter gates sends using atomic Redis counters.
type Limiter struct {
	redis  *redis.Client
	limits Limits
	script *redis.Script
}

// New creates a Limiter backed by client, applying defaults for any
// zero-valued Limits fields.
func New(client *redis.Client, limits Limits) *Limiter {
	if limits.PerRecipientPerWeek <= 0 {
		limits.PerRecipientPerWeek = defaultPerRecipientPerWeek
	}
	if limits.GlobalPerDay <= 0 {
		limits.GlobalPerDay = defaultGlobalPerDay
	}
	return &Limiter{redis: client, limits: limits, script: redis.NewScript(checkAndIncrementScript)}
}

// Check consults and, if both windows have headroom, atomically
// increments the per-recipient weekly counter and the global daily
// counter for a single send to recipientEmail. Callers must not send
// unless Allowed is true; a denied Check performs no increment.
func (l *Limiter) Check(ctx context.Context, recipientEmail string) (Decision, error) {
	now := time.Now().UTC()
	recipientKey := fmt.Sprintf("sendlimit:recipient:%s:%d", recipientEmail, now.Unix()/int64((7*24*time.Hour).Seconds()))
	globalKey := fmt.Sprintf("sendlimit:global:%s", now.Format("2006-01-02"))

	globalLimit := l.limits.GlobalPerDay
	if l.limits.Warmup != nil {
		if ramped := l.limits.Warmup.currentCap(now); ramped > 0 {
			globalLimit = ramped
		}
	}

	result, err := l.script.Run(ctx, l.redis,
		[]string{recipientKey, globalKey},
		l.limits.PerRecipientPerWeek,
		globalLimit,
		int(7*24*time.Hour/time.Second),
		int(25*time.Hour/time.Second),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit check failed: %w", err)
	}

	allowed := result[0].(int64) == 1
	if allowed {
		return Decision{Allowed: true}, nil
	}

	reasonCode := result[1].(int64)
	switch reasonCode {
	case 1:
		return Decision{Allowed: false, Reason: DeniedRecipient, RetryAfter: timeUntilNextWeeklyWindow(now, recipientKey)}, nil
	case 2:
		return Decision{Allowed: false, Reason: DeniedGlobal, RetryAfter: timeUntilMidnightUTC(now)}, nil
	default:
		return Decision{Allowed: false}, nil
	}
}

// Peek reports whether both windows currently have headroom for
// recipientEmail without incrementing either counter. Used by
// auto-approval's gate check, which must not consume the quota slot the
// eventual send itself will claim via Check.
func (l *Limiter) Peek(ctx context.Context, recipientEmail string) (bool, error) {
	now := time.Now().UTC()
	recipientKey := fmt.Sprintf("sendlimit:recipient:%s:%d", recipientEmail, now.Unix()/int64((7*24*time.Hour).Seconds()))
	globalKey := fmt.Sprintf("sendlimit:global:%s", now.Format("2006-01-02"))

	recipientCount, err := l.redis.Get(ctx, recipientKey).Int()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("ratelimit peek: %w", err)
	}
	globalCount, err := l.redis.Get(ctx, globalKey).Int()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("ratelimit peek: %w", err)
	}

	globalLimit := l.limits.GlobalPerDay
	if l.limits.Warmup != nil {
		if ramped := l.limits.Warmup.currentCap(now); ramped > 0 {
			globalLimit = ramped
		}
	}

	return recipientCount+1 <= l.limits.PerRecipientPerWeek && globalCount+1 <= globalLimit, nil
}

func timeUntilNextWeeklyWindow(now time.Time, _ string) time.Duration {
	weekSeconds := int64((7 * 24 * time.Hour).Seconds())
	currentBucketStart := (now.Unix() / weekSeconds) * weekSeconds
	nextBucketStart := currentBucketStart + weekSeconds
	return time.Duration(nextBucketStart-now.Unix()) * time.Second
}

func timeUntilMidnightUTC(now time.Time) time.Duration {
	tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return tomorrow.Sub(now)
}
