package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestLimiter(perHour, burst int, idle time.Duration) (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(perHour, burst, idle)
	l.now = c.now
	return l, c
}

func TestAllowPerUser(t *testing.T) {
	l, c := newTestLimiter(3600, 2, time.Hour)

	assert.True(t, l.Allow("u1"))
	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"), "burst exhausted")
	assert.True(t, l.Allow("u2"), "users have separate buckets")

	assert.Equal(t, time.Second, l.RetryAfter("u1"))
	c.t = c.t.Add(time.Second)
	assert.True(t, l.Allow("u1"), "one token per second refilled")
}

func TestSweepEvictsIdleUsers(t *testing.T) {
	l, c := newTestLimiter(60, 1, time.Minute)
	l.Allow("u1")
	c.t = c.t.Add(30 * time.Second)
	l.Allow("u2")
	c.t = c.t.Add(45 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
	assert.InDelta(t, 0.75, l.Tokens("u2"), 0.01)
}

func TestSweepDisabled(t *testing.T) {
	l, c := newTestLimiter(60, 1, 0)
	l.Allow("u1")
	c.t = c.t.Add(24 * time.Hour)
	assert.Zero(t, l.Sweep())
	l.Run()
}

func TestRunStopsOnClose(t *testing.T) {
	l := NewLimiter(60, 1, time.Millisecond)
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	l.Close()
	l.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
