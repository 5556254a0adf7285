// Package ratelimit keeps one token bucket per user.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds per-user buckets. Buckets idle for longer than the
// eviction window are dropped by Sweep.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter returns a limiter allowing requestsPerHour per user with the
// given burst.
func NewLimiter(requestsPerHour, burst int, idle time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

func (l *Limiter) get(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = l.now()
	return b.limiter
}

// Allow consumes a token for userID.
func (l *Limiter) Allow(userID string) bool {
	return l.get(userID).AllowN(l.now(), 1)
}

// Tokens returns the tokens left for userID.
func (l *Limiter) Tokens(userID string) float64 {
	return l.get(userID).TokensAt(l.now())
}

// RetryAfter returns how long userID must wait for the next token.
func (l *Limiter) RetryAfter(userID string) time.Duration {
	lim := l.get(userID)
	now := l.now()
	r := lim.ReserveN(now, 1)
	defer r.CancelAt(now)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Sweep drops buckets idle longer than the eviction window and returns
// how many it dropped.
func (l *Limiter) Sweep() int {
	if l.idle <= 0 {
		return 0
	}
	cutoff := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			n++
		}
	}
	return n
}

// Run sweeps on every eviction window until Close.
func (l *Limiter) Run() {
	if l.idle <= 0 {
		return
	}
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Close stops Run.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}
