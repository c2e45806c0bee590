package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the rate-limiting middleware.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int

	// KeyFunc derives the bucket key (the X-Forwarded-For header value by
	// default) a request is rate-limited under.
	KeyFunc func(req Request) string

	// CleanupInterval and MaxAge bound how long an idle key's limiter is
	// kept before being evicted.
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func defaultKeyFunc(req Request) string {
	return req.Header("X-Forwarded-For")
}

// DefaultRateLimitConfig returns a conservative default: 100 req/s with a
// burst of 20, keyed by the X-Forwarded-For request header; requests that
// carry no such header all share one bucket.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             20,
		CleanupInterval:   time.Minute,
		MaxAge:            5 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one golang.org/x/time/rate.Limiter per key, swept
// periodically so long-lived servers don't accumulate an unbounded map of
// limiters for keys that stopped sending traffic.
type limiterStore struct {
	mu     sync.Mutex
	limits map[string]*limiterEntry
	rps    rate.Limit
	burst  int
	maxAge time.Duration
}

func newLimiterStore(config RateLimitConfig) *limiterStore {
	s := &limiterStore{
		limits: make(map[string]*limiterEntry),
		rps:    rate.Limit(config.RequestsPerSecond),
		burst:  config.Burst,
		maxAge: config.MaxAge,
	}
	go s.cleanupLoop(config.CleanupInterval)
	return s
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.limits[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.limits[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (s *limiterStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-s.maxAge)
		s.mu.Lock()
		for k, e := range s.limits {
			if e.lastSeen.Before(cutoff) {
				delete(s.limits, k)
			}
		}
		s.mu.Unlock()
	}
}

// RateLimit returns a token-bucket rate-limiting middleware using
// DefaultRateLimitConfig.
func RateLimit() Middleware {
	return RateLimitWithConfig(DefaultRateLimitConfig())
}

// RateLimitWithConfig returns a rate-limiting middleware using config,
// replying 429 once a key's bucket is exhausted.
func RateLimitWithConfig(config RateLimitConfig) Middleware {
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 100
	}
	if config.Burst == 0 {
		config.Burst = 20
	}
	if config.KeyFunc == nil {
		config.KeyFunc = defaultKeyFunc
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}
	if config.MaxAge == 0 {
		config.MaxAge = 5 * time.Minute
	}

	store := newLimiterStore(config)

	return func(next Next) Next {
		return func(req Request, res Response) {
			limiter := store.get(config.KeyFunc(req))
			if !limiter.Allow() {
				res.SetHeader("Content-Type", "application/json; charset=utf-8")
				res.Reply(429, []byte(`{"error":"too many requests"}`))
				return
			}
			next(req, res)
		}
	}
}
