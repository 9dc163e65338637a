package security

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/leslieo2/prononciation-gateway/internal/config"
	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

// RateLimiter throttles clients by IP with one token bucket per client.
// Limits can be replaced at runtime with Reload.
type RateLimiter struct {
	limiters *cache.Cache
	clock    Clock
	observer Observer

	mu     sync.RWMutex
	config config.RateLimitConfig

	stop     chan struct{}
	stopOnce sync.Once
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// Observer is told about every rejected request.
type Observer interface {
	RecordRateLimited()
}

// skippedPaths are never limited.
var skippedPaths = map[string]bool{
	constants.PathHealth:  true,
	constants.PathMetrics: true,
}

// NewRateLimiter starts a background sweep that bounds the number of tracked
// clients. Call Close to stop it. observer may be nil.
func NewRateLimiter(cfg config.RateLimitConfig, observer Observer) *RateLimiter {
	cfg = withDefaults(cfg)
	rl := &RateLimiter{
		limiters: cache.New(cfg.CleanupInterval, cfg.CleanupInterval*2),
		clock:    RealClock{},
		observer: observer,
		config:   cfg,
		stop:     make(chan struct{}),
	}

	go rl.periodicCleanup(cfg.CleanupInterval)

	return rl
}

func withDefaults(cfg config.RateLimitConfig) config.RateLimitConfig {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = constants.RateLimitCleanupInterval
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = constants.RateLimitMaxCacheSize
	}
	return cfg
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Reload swaps in new limits. Existing buckets are dropped when the rate or
// burst changes so every client starts fresh under the new limits.
func (rl *RateLimiter) Reload(cfg config.RateLimitConfig) {
	cfg = withDefaults(cfg)

	rl.mu.Lock()
	changed := cfg.RequestsPerSecond != rl.config.RequestsPerSecond || cfg.BurstSize != rl.config.BurstSize
	rl.config = cfg
	rl.mu.Unlock()

	if changed {
		rl.limiters.Flush()
	}
}

func (rl *RateLimiter) current() config.RateLimitConfig {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.config
}

// Enabled reports whether requests are currently being limited.
func (rl *RateLimiter) Enabled() bool {
	return rl.current().Enabled
}

// periodicCleanup trims the cache when it grows beyond MaxCacheSize.
func (rl *RateLimiter) periodicCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictOverflow(rl.current().MaxCacheSize)
		}
	}
}

// evictOverflow removes entries down to 90% of maxSize. go-cache keeps no
// access times, so the victims are whatever map iteration yields first.
func (rl *RateLimiter) evictOverflow(maxSize int) int {
	currentSize := rl.limiters.ItemCount()
	if currentSize <= maxSize {
		return 0
	}

	toRemove := currentSize - maxSize + maxSize/10
	removed := 0
	for key := range rl.limiters.Items() {
		if removed >= toRemove {
			break
		}
		rl.limiters.Delete(key)
		removed++
	}
	return removed
}

func (rl *RateLimiter) limiterFor(identifier string, cfg config.RateLimitConfig) *rate.Limiter {
	if item, found := rl.limiters.Get(identifier); found {
		return item.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize)
	if err := rl.limiters.Add(identifier, limiter, cache.DefaultExpiration); err != nil {
		// Another request created the bucket first.
		if item, found := rl.limiters.Get(identifier); found {
			return item.(*rate.Limiter)
		}
	}
	return limiter
}

// Allow consumes one token for identifier.
func (rl *RateLimiter) Allow(identifier string) bool {
	cfg := rl.current()
	if !cfg.Enabled {
		return true
	}
	return rl.limiterFor(identifier, cfg).AllowN(rl.clock.Now(), 1)
}

type RateLimitStatus struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	Reset      time.Time     `json:"reset"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Status reports the bucket state for identifier without consuming a token.
func (rl *RateLimiter) Status(identifier string) RateLimitStatus {
	cfg := rl.current()
	now := rl.clock.Now()

	tokens := float64(cfg.BurstSize)
	if cfg.Enabled {
		tokens = rl.limiterFor(identifier, cfg).TokensAt(now)
	}

	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter time.Duration
	if tokens < 1 && cfg.RequestsPerSecond > 0 {
		retryAfter = time.Duration((1 - tokens) / float64(cfg.RequestsPerSecond) * float64(time.Second))
	}

	// Reset is when the bucket would be full again.
	var refill time.Duration
	if cfg.RequestsPerSecond > 0 {
		refill = time.Duration((float64(cfg.BurstSize) - tokens) / float64(cfg.RequestsPerSecond) * float64(time.Second))
	}

	return RateLimitStatus{
		Limit:      cfg.BurstSize,
		Remaining:  remaining,
		Reset:      now.Add(refill),
		RetryAfter: retryAfter,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := rl.current()
		if !cfg.Enabled || skippedPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		identifier := "ip:" + clientIP(r, cfg.TrustProxyHeaders)

		if !rl.Allow(identifier) {
			status := rl.Status(identifier)
			writeLimitHeaders(w, status)

			retrySeconds := int(math.Ceil(status.RetryAfter.Seconds()))
			if retrySeconds < 1 {
				retrySeconds = 1
			}
			w.Header().Set(constants.HeaderRetryAfter, strconv.Itoa(retrySeconds))
			w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
			w.WriteHeader(http.StatusTooManyRequests)

			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":      "error",
				"code":        constants.ErrorCodeRateLimitExceeded,
				"message":     fmt.Sprintf("Rate limit exceeded. Try again in %ds", retrySeconds),
				"retry_after": retrySeconds,
			})

			if rl.observer != nil {
				rl.observer.RecordRateLimited()
			}
			return
		}

		writeLimitHeaders(w, rl.Status(identifier))
		next.ServeHTTP(w, r)
	})
}

func writeLimitHeaders(w http.ResponseWriter, status RateLimitStatus) {
	w.Header().Set(constants.HeaderXRateLimitLimit, strconv.Itoa(status.Limit))
	w.Header().Set(constants.HeaderXRateLimitRemaining, strconv.Itoa(status.Remaining))
	w.Header().Set(constants.HeaderXRateLimitReset, strconv.FormatInt(status.Reset.Unix(), 10))
}

// clientIP prefers proxy headers when trusted; the gateway normally runs
// behind the hosting platform's edge proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get(constants.HeaderXForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get(constants.HeaderXRealIP)); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
