package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
)

// rateLimiter counts mutating calls per identity inside a fixed window.
type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		window:  window,
		max:     max,
		entries: map[string]rateEntry{},
	}
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}

// throttle enforces the per-identity rate limit and writes the refusal when
// the limit is hit.
func (s *Server) throttle(w http.ResponseWriter, r *http.Request, identity string) bool {
	if s.limiter == nil {
		return false
	}
	if s.limiter.allow(identity, time.Now().UTC()) {
		return false
	}
	retryAfter := int(math.Ceil(s.limiter.window.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.writeError(w, r, apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded"))
	return true
}
