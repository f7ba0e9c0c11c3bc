package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limits Limits) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, limits), mr
}

func TestCheck_AllowsUnderBothCaps(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{PerRecipientPerWeek: 2, GlobalPerDay: 20})

	decision, err := l.Check(context.Background(), "ann@acme.com")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheck_DeniesAtRecipientCap(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{PerRecipientPerWeek: 1, GlobalPerDay: 20})
	ctx := context.Background()

	first, err := l.Check(ctx, "ann@acme.com")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	second, err := l.Check(ctx, "ann@acme.com")
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Equal(t, DeniedRecipient, second.Reason)
	assert.Greater(t, second.RetryAfter, time.Duration(0))
}

func TestCheck_DeniesAtGlobalCapEvenForDifferentRecipients(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{PerRecipientPerWeek: 10, GlobalPerDay: 1})
	ctx := context.Background()

	first, err := l.Check(ctx, "ann@acme.com")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	second, err := l.Check(ctx, "bob@acme.com")
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Equal(t, DeniedGlobal, second.Reason)
}

func TestCheck_DeniedDoesNotIncrement(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{PerRecipientPerWeek: 1, GlobalPerDay: 2})
	ctx := context.Background()

	_, err := l.Check(ctx, "ann@acme.com")
	require.NoError(t, err)
	_, err = l.Check(ctx, "ann@acme.com")
	require.NoError(t, err)

	allowed, err := l.Peek(ctx, "carol@acme.com")
	require.NoError(t, err)
	assert.True(t, allowed, "denial of ann's send must not have touched the global counter beyond its own single increment")
}

func TestPeek_DoesNotConsumeQuota(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{PerRecipientPerWeek: 1, GlobalPerDay: 20})
	ctx := context.Background()

	allowed, err := l.Peek(ctx, "ann@acme.com")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Peek must not have incremented; a real Check should still succeed.
	decision, err := l.Check(ctx, "ann@acme.com")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheck_WarmupRampLowersGlobalCapEarly(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{
		PerRecipientPerWeek: 10,
		GlobalPerDay:        100,
		Warmup: &WarmupSchedule{
			StartedAt: time.Now().UTC(),
			Days:      10,
			StartCap:  1,
			TargetCap: 100,
		},
	})
	ctx := context.Background()

	first, err := l.Check(ctx, "ann@acme.com")
	require.NoError(t, err)
	require.True(t, first.Allowed)

	second, err := l.Check(ctx, "bob@acme.com")
	require.NoError(t, err)
	assert.False(t, second.Allowed, "warmup cap of 1/day at day zero should block the second global send")
	assert.Equal(t, DeniedGlobal, second.Reason)
}

func TestNew_AppliesDefaultsForZeroLimits(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{})
	assert.Equal(t, defaultPerRecipientPerWeek, l.limits.PerRecipientPerWeek)
	assert.Equal(t, defaultGlobalPerDay, l.limits.GlobalPerDay)
}
