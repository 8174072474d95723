package utils

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterEvictEvery = 512

// RemoteLimiter keeps one token bucket per client address. Buckets not
// used for IdleTTL are dropped.
type RemoteLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[string]*limiterEntry
	hits    uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRemoteLimiter returns nil, meaning no limit, unless both rps and
// burst are positive.
func NewRemoteLimiter(rps float64, burst int, idleTTL time.Duration) *RemoteLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &RemoteLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		clients: make(map[string]*limiterEntry),
	}
}

func (l *RemoteLimiter) Allow(client string, now time.Time) bool {
	if l == nil || len(client) == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.clients[client]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%limiterEvictEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.clients {
			if v.lastSeen.Before(cutoff) {
				delete(l.clients, k)
			}
		}
	}
	return allowed
}
