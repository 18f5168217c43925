package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"flagplane/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const rateLimitKeyPrefix = "flagplane:ratelimit:"

// tokenBucketScript implements the Token Bucket algorithm.
// Input: ARGV[1]=rate, ARGV[2]=capacity, ARGV[3]=now, ARGV[4]=requested
// Output: { allowed, remaining, reset_after }
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local ttl = math.ceil(capacity / rate * 2)

local last_tokens = tonumber(redis.call("get", tokens_key))
if last_tokens == nil then last_tokens = capacity end

local last_ts = tonumber(redis.call("get", ts_key))
if last_ts == nil then last_ts = now end

local delta = math.max(0, now - last_ts)
local filled = math.min(capacity, last_tokens + (delta * rate))

if filled < requested then
    return { 0, tostring(filled), tostring((requested - filled) / rate) }
end

filled = filled - requested
redis.call("set", tokens_key, filled, "EX", ttl)
redis.call("set", ts_key, now, "EX", ttl)
return { 1, tostring(filled), "0" }
`)

type localLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// RateLimiter limits requests per client IP with a redis token bucket shared
// by all replicas. When redis is missing or failing it falls back to an
// in-process limiter per IP.
type RateLimiter struct {
	rdb   *redis.Client
	rps   int
	burst int
	local sync.Map // ip -> *localLimiter
	idle  time.Duration
}

func NewRateLimiter(rdb *redis.Client, requestsPerSecond, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = requestsPerSecond
	}
	return &RateLimiter{
		rdb:   rdb,
		rps:   requestsPerSecond,
		burst: burst,
		idle:  10 * time.Minute,
	}
}

// Run evicts idle fallback limiters until ctx ends.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

func (l *RateLimiter) sweep(now time.Time) {
	l.local.Range(func(key, value any) bool {
		ll := value.(*localLimiter)
		ll.mu.Lock()
		idle := now.Sub(ll.lastSeen) > l.idle
		ll.mu.Unlock()
		if idle {
			l.local.Delete(key)
		}
		return true
	})
}

func (l *RateLimiter) localFor(ip string) *rate.Limiter {
	now := time.Now()
	val, _ := l.local.LoadOrStore(ip, &localLimiter{
		limiter:  rate.NewLimiter(rate.Limit(l.rps), l.burst),
		lastSeen: now,
	})
	ll := val.(*localLimiter)
	ll.mu.Lock()
	ll.lastSeen = now
	ll.mu.Unlock()
	return ll.limiter
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", l.rps))

		allowed, remaining, resetAfter, err := l.allowRedis(c.Request.Context(), clientIP)
		if err != nil {
			if l.rdb != nil {
				logger.Warn("redis rate limit failed, switching to local fallback",
					zap.Error(err),
					zap.String("ip", clientIP))
			}
			limiter := l.localFor(clientIP)
			allowed = limiter.Allow()
			remaining = limiter.Tokens()
			resetAfter = 1
		}

		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", int(remaining)))
		if !allowed {
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Duration(resetAfter*float64(time.Second))).Unix()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

var errNoRedis = errors.New("rate limit: no redis client")

func (l *RateLimiter) allowRedis(ctx context.Context, ip string) (bool, float64, float64, error) {
	if l.rdb == nil {
		return false, 0, 0, errNoRedis
	}
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	key := rateLimitKeyPrefix + ip
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.rdb,
		[]string{key + ":tokens", key + ":ts"},
		float64(l.rps), float64(l.burst), now, 1,
	).Slice()
	if err != nil {
		return false, 0, 0, err
	}
	if len(res) != 3 {
		return false, 0, 0, fmt.Errorf("rate limit: unexpected reply %v", res)
	}
	return toFloat(res[0]) == 1, toFloat(res[1]), toFloat(res[2]), nil
}

// toFloat reads a script reply element; redis turns Lua numbers into
// integers, so fractions travel as strings.
func toFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return 0
}
