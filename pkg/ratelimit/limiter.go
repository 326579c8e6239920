package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	Rate            rate.Limit // requests per second per client
	Burst           int
	CleanupInterval time.Duration // how long an idle client's limiter is kept
}

// DefaultConfig allows a short burst of login attempts, then one every
// few seconds.
func DefaultConfig() Config {
	return Config{
		Rate:            rate.Every(3 * time.Second),
		Burst:           10,
		CleanupInterval: 10 * time.Minute,
	}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client key (usually the remote IP).
type Limiter struct {
	config Config

	mu          sync.Mutex
	clients     map[string]*client
	lastCleanup time.Time
	now         func() time.Time
}

func New(config Config) *Limiter {
	return &Limiter{
		config:      config,
		clients:     make(map[string]*client),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether key may proceed now and consumes a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.config.Rate, l.config.Burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	allowed := c.limiter.AllowN(now, 1)

	l.maybeCleanup(now)
	return allowed
}

func (l *Limiter) maybeCleanup(now time.Time) {
	if l.config.CleanupInterval <= 0 || now.Sub(l.lastCleanup) < l.config.CleanupInterval {
		return
	}
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.config.CleanupInterval {
			delete(l.clients, key)
		}
	}
	l.lastCleanup = now
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
