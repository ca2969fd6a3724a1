// Package ratelimit throttles sandbox traffic per client so a runaway suite
// is answered with 429 instead of starving the other suites sharing the site.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the per-client limits.
type Config struct {
	RPS             float64       // Sustained requests per second per client
	Burst           int           // Requests a client may send at once
	CleanupInterval time.Duration // How often idle clients are forgotten
}

// DefaultConfig matches the sandbox defaults.
var DefaultConfig = Config{
	RPS:             50,
	Burst:           100,
	CleanupInterval: 10 * time.Minute,
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter holds one token bucket per client key.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	config  Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a limiter and starts its cleanup goroutine. Call Stop to end it.
// A non-positive CleanupInterval falls back to DefaultConfig's.
func New(config Config) *Limiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig.CleanupInterval
	}
	l := &Limiter{
		clients: make(map[string]*clientEntry),
		config:  config,
		stopCh:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.cleanupLoop()
	return l
}

// Allow reports whether client may send one more request now.
func (l *Limiter) Allow(client string) bool {
	return l.For(client).Allow()
}

// For returns the bucket of client, creating it on first use.
func (l *Limiter) For(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[client]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(rate.Limit(l.config.RPS), l.config.Burst)}
		l.clients[client] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

// Cleanup forgets clients idle for longer than the cleanup interval.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.config.CleanupInterval)
	for client, entry := range l.clients {
		if entry.lastUsed.Before(cutoff) {
			delete(l.clients, client)
		}
	}
}

func (l *Limiter) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// Stop ends the cleanup goroutine and waits for it. Later calls do nothing.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
