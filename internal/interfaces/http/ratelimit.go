package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const resetPath = "/api/demo/reset"

// RateLimitConfig configures per-client throttling of API writes
type RateLimitConfig struct {
	Enabled         bool
	WritesPerMinute int
	ResetPerMinute  int
	ResetCooldown   time.Duration
	// EntryTTL controls idle limiter eviction
	EntryTTL time.Duration
}

// DefaultRateLimitConfig returns the limits used by the public demo
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:         true,
		WritesPerMinute: 120,
		ResetPerMinute:  6,
		ResetCooldown:   20 * time.Second,
		EntryTTL:        30 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	writes    map[string]*limiterEntry
	resets    map[string]*limiterEntry
	lastReset map[string]time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	d := DefaultRateLimitConfig()
	if cfg.WritesPerMinute <= 0 {
		cfg.WritesPerMinute = d.WritesPerMinute
	}
	if cfg.ResetPerMinute <= 0 {
		cfg.ResetPerMinute = d.ResetPerMinute
	}
	if cfg.ResetCooldown < 0 {
		cfg.ResetCooldown = 0
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = d.EntryTTL
	}
	return &rateLimiter{
		cfg:       cfg,
		now:       time.Now,
		writes:    map[string]*limiterEntry{},
		resets:    map[string]*limiterEntry{},
		lastReset: map[string]time.Time{},
	}
}

// middleware throttles POST, PUT and DELETE calls under /api/ per client IP.
// The demo reset has its own cooldown and a stricter per-minute limit.
func (l *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.cfg.Enabled || !isWrite(c.Request.Method) || !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}

		ip := clientIP(c.Request)

		if c.Request.URL.Path == resetPath {
			if msg, retry, ok := l.allowReset(ip); !ok {
				tooManyRequests(c, msg, retry)
				return
			}
			c.Next()
			return
		}

		if !l.allow(l.writes, ip, l.cfg.WritesPerMinute) {
			tooManyRequests(c, "Too many requests. Please slow down.", retryAfterSeconds(l.cfg.WritesPerMinute))
			return
		}
		c.Next()
	}
}

func (l *rateLimiter) allowReset(ip string) (string, int, bool) {
	now := l.now()

	l.mu.Lock()
	last, seen := l.lastReset[ip]
	l.mu.Unlock()

	if seen && now.Sub(last) < l.cfg.ResetCooldown {
		wait := int(math.Ceil((l.cfg.ResetCooldown - now.Sub(last)).Seconds()))
		return "Reset cooldown active. Please wait a bit and try again.", max(wait, 1), false
	}
	if !l.allow(l.resets, ip, l.cfg.ResetPerMinute) {
		return "Too many reset requests. Please slow down.", retryAfterSeconds(l.cfg.ResetPerMinute), false
	}

	l.mu.Lock()
	l.lastReset[ip] = now
	l.mu.Unlock()
	return "", 0, true
}

func (l *rateLimiter) allow(entries map[string]*limiterEntry, key string, rpm int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	entry, ok := entries[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		}
		entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *rateLimiter) prune(now time.Time) {
	for _, entries := range []map[string]*limiterEntry{l.writes, l.resets} {
		for k, v := range entries {
			if now.Sub(v.lastSeen) > l.cfg.EntryTTL {
				delete(entries, k)
			}
		}
	}
	for k, v := range l.lastReset {
		if now.Sub(v) > l.cfg.EntryTTL {
			delete(l.lastReset, k)
		}
	}
}

func isWrite(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer address
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(rpm int) int {
	if rpm <= 0 {
		return 1
	}
	return max(int(math.Ceil(60.0/float64(rpm))), 1)
}

func tooManyRequests(c *gin.Context, msg string, retryAfter int) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: CodeRateLimited, Message: msg})
}
