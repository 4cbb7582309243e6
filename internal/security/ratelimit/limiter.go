package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window request counter keyed by clinic id, client IP
// or any other caller identity.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	maxReqs int
	window  time.Duration
	now     func() time.Time
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
}

type bucket struct {
	requests []time.Time
	lastSeen time.Time
}

func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	limiter := &Limiter{
		buckets: make(map[string]*bucket),
		maxReqs: maxRequests,
		window:  window,
		now:     time.Now,
		cleanup: time.NewTicker(5 * time.Minute),
		done:    make(chan struct{}),
	}
	go limiter.cleanupOldBuckets()
	return limiter
}

// Allow records a request for key under the default limit. An empty key is
// never limited.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		return true
	}
	return l.take(key, l.maxReqs, l.window)
}

// AllowStrict applies a tighter limit for sensitive endpoints such as login.
// Strict buckets never share counts with Allow.
func (l *Limiter) AllowStrict(identifier string, maxReqs int, window time.Duration) bool {
	return l.take("strict:"+identifier, maxReqs, window)
}

func (l *Limiter) take(key string, maxReqs int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{}
		l.buckets[key] = b
	}

	cutoff := now.Add(-window)
	kept := b.requests[:0]
	for _, t := range b.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.requests = kept
	b.lastSeen = now

	if len(b.requests) >= maxReqs {
		return false
	}

	b.requests = append(b.requests, now)
	return true
}

func (l *Limiter) cleanupOldBuckets() {
	for {
		select {
		case <-l.done:
			return
		case <-l.cleanup.C:
			l.prune(15 * time.Minute)
		}
	}
}

func (l *Limiter) prune(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	staleThreshold := l.now().Add(-idle)
	for key, b := range l.buckets {
		if b.lastSeen.Before(staleThreshold) {
			delete(l.buckets, key)
		}
	}
}

func (l *Limiter) Stop() {
	l.once.Do(func() {
		l.cleanup.Stop()
		close(l.done)
	})
}
