package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ticket-ledger/internal/clock"
)

// WriteRateLimiter bounds how many ledger writes one client may submit in a
// sliding window. Clients are keyed by caller address when authenticated and
// by IP otherwise.
type WriteRateLimiter struct {
	attempts  map[string][]time.Time
	mutex     sync.Mutex
	maxWrites int
	window    time.Duration
	clock     clock.Clock
}

// NewWriteRateLimiter creates a new write rate limiter
func NewWriteRateLimiter(maxWrites int, window time.Duration, clk clock.Clock) *WriteRateLimiter {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &WriteRateLimiter{
		attempts:  make(map[string][]time.Time),
		maxWrites: maxWrites,
		window:    window,
		clock:     clk,
	}
}

// Allow records a write for key and reports whether it is within the limit.
// When it is not, the returned duration is the time until the next slot opens.
func (rl *WriteRateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.clock.Now()
	valid := prune(rl.attempts[key], now.Add(-rl.window))

	if len(valid) >= rl.maxWrites {
		rl.attempts[key] = valid
		return false, valid[0].Add(rl.window).Sub(now)
	}

	rl.attempts[key] = append(valid, now)
	return true, 0
}

// prune drops attempts at or before cutoff; attempts are in time order
func prune(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	return attempts[i:]
}

// Cleanup removes idle keys
func (rl *WriteRateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := rl.clock.Now().Add(-rl.window)
	for key, attempts := range rl.attempts {
		valid := prune(attempts, cutoff)
		if len(valid) == 0 {
			delete(rl.attempts, key)
		} else {
			rl.attempts[key] = valid
		}
	}
}

// Run calls Cleanup every interval until ctx is done
func (rl *WriteRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// WriteRateLimit limits POST, PUT and DELETE requests. Reads pass through.
func WriteRateLimit(rateLimiter *WriteRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}

			key := getClientIP(r)
			if caller, ok := GetCallerFromContext(r.Context()); ok {
				key = caller.Hex()
			}

			if ok, retryAfter := rateLimiter.Allow(key); !ok {
				seconds := int(retryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				WriteJSONError(w, r, http.StatusTooManyRequests, "RateLimited", "Too many ledger writes. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
