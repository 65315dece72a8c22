package handler

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-email map. When it is reached the map starts
// over, which briefly refills every bucket.
const maxLimiters = 10000

type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow takes one token for key. A nil set or an empty key is never limited;
// requests without identity are rejected later.
func (s *limiterSet) allow(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if s == nil || key == "" {
		return true
	}
	s.mu.Lock()
	l, ok := s.limiters[key]
	if !ok {
		if len(s.limiters) >= maxLimiters {
			s.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[key] = l
	}
	s.mu.Unlock()
	return l.Allow()
}
