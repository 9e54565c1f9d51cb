package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/DukeRupert/sitewatch/internal/domain"
)

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter counts requests per key in fixed windows.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry

	stop chan struct{}
	once sync.Once
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop. Call
// Close to stop it.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		entries:     make(map[string]*rateLimitEntry),
		stop:        make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether one more request for key fits in the current window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, exists := rl.entries[key]

	// First request from this key, or its window has expired
	if !exists || now.Sub(entry.windowStart) >= rl.window {
		rl.entries[key] = &rateLimitEntry{count: 1, windowStart: now}
		return true
	}

	// Check if under limit
	if entry.count < rl.maxRequests {
		entry.count++
		return true
	}

	// Rate limited
	return false
}

// TimeUntilReset returns how long until the window for key ends.
func (rl *RateLimiter) TimeUntilReset(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.entries[key]
	if !exists {
		return 0
	}
	elapsed := rl.now().Sub(entry.windowStart)
	if elapsed >= rl.window {
		return 0
	}
	return rl.window - elapsed
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// cleanup periodically removes expired entries so idle cameras do not
// accumulate.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, entry := range rl.entries {
				if now.Sub(entry.windowStart) >= rl.window {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// =============================================================================
// Frame Rate Limit Middleware
// =============================================================================

// FrameRateLimitMiddleware bounds how many frames one camera or scene may
// submit per window. Every accepted frame costs a provider call, so a
// misconfigured camera must not be able to flood it.
type FrameRateLimitMiddleware struct {
	limiter *RateLimiter
	param   string
	logger  *slog.Logger
}

// NewFrameRateLimitMiddleware limits requests by the value of the path
// parameter param (e.g. "cameraID"). Requests without it are keyed by
// client IP.
func NewFrameRateLimitMiddleware(limiter *RateLimiter, param string, logger *slog.Logger) *FrameRateLimitMiddleware {
	return &FrameRateLimitMiddleware{
		limiter: limiter,
		param:   param,
		logger:  logger,
	}
}

// Limit returns middleware that rejects frames over the limit with 429.
func (m *FrameRateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Key by camera or scene, falling back to the client IP
		key := r.PathValue(m.param)
		if key == "" {
			key = "ip:" + getClientIP(r)
		} else {
			key = m.param + ":" + key
		}

		if !m.limiter.Allow(key) {
			m.logger.Warn("frame rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
			)

			// Tell the camera when the window reopens
			retryAfter := int(m.limiter.TimeUntilReset(key).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":  "error",
				"kind":    domain.ERATELIMIT,
				"message": "Too many frames. Please slow down the capture interval.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
